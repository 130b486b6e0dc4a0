package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

var errNoEmbeddingFunc = errors.New("documents must carry precomputed embeddings")

// ChromemCollection is an embedded vector collection backed by chromem-go.
// chromem ranks by cosine similarity, the only distance it supports.
type ChromemCollection struct {
	db *chromem.DB

	mu   sync.Mutex
	dims map[string]int
}

// NewChromemCollection opens an in-process vector database. A non-empty path
// persists collections to disk so memories survive restarts.
func NewChromemCollection(path string) (*ChromemCollection, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %q: %w", path, err)
		}
	}
	return &ChromemCollection{db: db, dims: make(map[string]int)}, nil
}

func (c *ChromemCollection) Exists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(name) != nil, nil
}

func (c *ChromemCollection) Create(_ context.Context, name string, dimension int, distance Distance) error {
	if distance != Cosine {
		return fmt.Errorf("chromem supports cosine distance only, got %q", distance)
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dimension)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookup(name) != nil {
		return ErrCollectionExists
	}
	_, err := c.db.CreateCollection(name, map[string]string{
		"distance":  string(distance),
		"dimension": fmt.Sprint(dimension),
	}, noEmbedding)
	if err != nil {
		return fmt.Errorf("create chromem collection: %w", err)
	}
	c.dims[name] = dimension
	return nil
}

func (c *ChromemCollection) Upsert(ctx context.Context, name string, records []Record) error {
	col, dim, err := c.collection(name)
	if err != nil {
		return err
	}
	for _, r := range records {
		if dim > 0 && len(r.Vector) != dim {
			return fmt.Errorf("record %s has %d dimensions, collection %q expects %d", r.ID, len(r.Vector), name, dim)
		}
		doc := chromem.Document{
			ID:        r.ID,
			Content:   RecordText(r.Payload.UserInput, r.Payload.AssistantResponse),
			Embedding: r.Vector,
			Metadata: map[string]string{
				"user_input":         r.Payload.UserInput,
				"assistant_response": r.Payload.AssistantResponse,
			},
		}
		// AddDocument replaces any document with the same ID.
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", r.ID, err)
		}
	}
	return nil
}

func (c *ChromemCollection) Search(ctx context.Context, name string, vector []float32, topK int) ([]Payload, error) {
	col, dim, err := c.collection(name)
	if err != nil {
		return nil, err
	}
	if dim > 0 && len(vector) != dim {
		return nil, fmt.Errorf("query has %d dimensions, collection %q expects %d", len(vector), name, dim)
	}

	// chromem rejects nResults larger than the collection.
	n := topK
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]Payload, 0, len(results))
	for _, res := range results {
		out = append(out, Payload{
			UserInput:         res.Metadata["user_input"],
			AssistantResponse: res.Metadata["assistant_response"],
		})
	}
	return out, nil
}

func (c *ChromemCollection) Close() error { return nil }

func (c *ChromemCollection) collection(name string) (*chromem.Collection, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col := c.lookup(name)
	if col == nil {
		return nil, 0, fmt.Errorf("collection %q does not exist", name)
	}
	return col, c.dims[name], nil
}

func (c *ChromemCollection) lookup(name string) *chromem.Collection {
	return c.db.GetCollection(name, noEmbedding)
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}
