package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/policy"
	"github.com/ent0n29/recall/internal/reliability"
)

// State is the adapter lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// ErrNotReady is reported when an operation runs before Provision succeeded.
var ErrNotReady = errors.New("memory adapter not provisioned")

const (
	DefaultCollectionName    = "conversation_memory"
	DefaultTopK              = 3
	DefaultProvisionAttempts = 3
	provisionBackoffBase     = 250 * time.Millisecond
	provisionBackoffCap      = 4 * time.Second
)

type AdapterConfig struct {
	Collection        string
	TopK              int
	RedactPII         bool
	ProvisionAttempts int
}

// Adapter embeds completed exchanges into a vector collection and retrieves
// similar ones. It is shared process-wide and safe for concurrent use.
type Adapter struct {
	collection Collection
	embedder   Embedder
	reporter   Reporter
	metrics    *observability.Metrics
	cfg        AdapterConfig

	mu    sync.RWMutex
	state State
}

func NewAdapter(collection Collection, embedder Embedder, reporter Reporter, metrics *observability.Metrics, cfg AdapterConfig) *Adapter {
	if strings.TrimSpace(cfg.Collection) == "" {
		cfg.Collection = DefaultCollectionName
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ProvisionAttempts <= 0 {
		cfg.ProvisionAttempts = DefaultProvisionAttempts
	}
	return &Adapter{
		collection: collection,
		embedder:   embedder,
		reporter:   reporter,
		metrics:    metrics,
		cfg:        cfg,
	}
}

func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Adapter) CollectionName() string { return a.cfg.Collection }

// Provision creates the collection if it does not exist yet and moves the
// adapter to Ready. Calling it again once Ready is a no-op.
func (a *Adapter) Provision(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateReady {
		return nil
	}

	var lastErr error
retry:
	for attempt := 0; attempt < a.cfg.ProvisionAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, provisionBackoffBase, provisionBackoffCap)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(wait):
			}
		}
		if lastErr = a.provisionOnce(ctx); lastErr == nil {
			a.state = StateReady
			a.metrics.ObserveMemoryOp("provision", "ok")
			log.Printf("memory collection %q ready (dim=%d, distance=%s)", a.cfg.Collection, a.embedder.Dimensions(), Cosine)
			return nil
		}
		log.Printf("memory provision attempt %d/%d failed: %v", attempt+1, a.cfg.ProvisionAttempts, lastErr)
	}

	a.metrics.ObserveMemoryOp("provision", "error")
	return fmt.Errorf("%w: %q: %w", reliability.ErrCollectionProvision, a.cfg.Collection, lastErr)
}

func (a *Adapter) provisionOnce(ctx context.Context) error {
	exists, err := a.collection.Exists(ctx, a.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = a.collection.Create(ctx, a.cfg.Collection, a.embedder.Dimensions(), Cosine)
	if err != nil && !errors.Is(err, ErrCollectionExists) {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Store embeds the exchange and upserts it. Failures are reported, never returned.
func (a *Adapter) Store(ctx context.Context, userInput, assistantResponse string) {
	ctx = observability.WithoutSink(ctx)
	if a.State() != StateReady {
		a.metrics.ObserveMemoryOp("store", "not_ready")
		a.report(ctx, fmt.Errorf("%w: store: %w", reliability.ErrStoreUpsert, ErrNotReady))
		return
	}

	if a.cfg.RedactPII {
		userInput, _ = policy.RedactPII(userInput)
		assistantResponse, _ = policy.RedactPII(assistantResponse)
	}

	vector, err := a.embed(ctx, RecordText(userInput, assistantResponse))
	if err != nil {
		a.metrics.ObserveMemoryOp("store", "embed_error")
		a.report(ctx, err)
		return
	}

	record := Record{
		ID:     RecordID(userInput, assistantResponse),
		Vector: vector,
		Payload: Payload{
			UserInput:         userInput,
			AssistantResponse: assistantResponse,
		},
	}
	if err := a.collection.Upsert(ctx, a.cfg.Collection, []Record{record}); err != nil {
		a.metrics.ObserveMemoryOp("store", "upsert_error")
		a.report(ctx, fmt.Errorf("%w: %w", reliability.ErrStoreUpsert, err))
		return
	}
	a.metrics.ObserveMemoryOp("store", "ok")
}

// Retrieve returns the nearest stored exchanges to query formatted for prompt
// inclusion, or "" when nothing matched or the lookup failed.
func (a *Adapter) Retrieve(ctx context.Context, query string) string {
	ctx = observability.WithoutSink(ctx)
	query = strings.TrimSpace(query)
	if query == "" || a.State() != StateReady {
		return ""
	}

	vector, err := a.embed(ctx, query)
	if err != nil {
		a.metrics.ObserveMemoryOp("retrieve", "embed_error")
		a.report(ctx, err)
		return ""
	}

	payloads, err := a.collection.Search(ctx, a.cfg.Collection, vector, a.cfg.TopK)
	if err != nil {
		a.metrics.ObserveMemoryOp("retrieve", "search_error")
		a.report(ctx, fmt.Errorf("search collection %q: %w", a.cfg.Collection, err))
		return ""
	}
	a.metrics.ObserveMemoryOp("retrieve", "ok")
	return FormatPayloads(payloads)
}

// FormatPayloads renders payloads as plain text blocks separated by blank lines.
func FormatPayloads(payloads []Payload) string {
	parts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		parts = append(parts, "User: "+p.UserInput+"\nAssistant: "+p.AssistantResponse)
	}
	return strings.Join(parts, "\n\n")
}

func (a *Adapter) Close() error {
	if a.collection == nil {
		return nil
	}
	return a.collection.Close()
}

func (a *Adapter) embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", reliability.ErrEmbeddingService, err)
	}
	if want := a.embedder.Dimensions(); len(vector) != want {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", reliability.ErrEmbeddingService, len(vector), want)
	}
	return vector, nil
}

func (a *Adapter) report(ctx context.Context, err error) {
	if a.reporter != nil {
		a.reporter.Report(ctx, err)
		return
	}
	log.Printf("memory: %v", err)
}
