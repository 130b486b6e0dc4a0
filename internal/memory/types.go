package memory

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/google/uuid"
)

// Payload is the exchange a record remembers.
type Payload struct {
	UserInput         string `json:"user_input"`
	AssistantResponse string `json:"assistant_response"`
}

// Record is one stored exchange and its embedding.
type Record struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Distance is the similarity metric a collection is created with.
type Distance string

const Cosine Distance = "cosine"

// ErrCollectionExists is returned by Create when the collection is already
// provisioned. Provisioning treats it as success.
var ErrCollectionExists = errors.New("collection already exists")

// Collection is the vector collection service.
type Collection interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string, dimension int, distance Distance) error
	Upsert(ctx context.Context, name string, records []Record) error
	Search(ctx context.Context, name string, vector []float32, topK int) ([]Payload, error)
	Close() error
}

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Reporter is the error-reporting collaborator.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// recordNamespace scopes record identifiers derived by RecordID.
var recordNamespace = uuid.MustParse("6f1c1f0e-4d0b-4f43-9a57-0b5a8c1f7e21")

// RecordText is the text embedded and hashed for one exchange.
func RecordText(userInput, assistantResponse string) string {
	return userInput + " " + assistantResponse
}

// RecordID derives the upsert key for an exchange: a SHA-256 content hash of
// RecordText rendered as a UUID. Identical text maps to the same record and
// overwrites it.
func RecordID(userInput, assistantResponse string) string {
	return uuid.NewHash(sha256.New(), recordNamespace, []byte(RecordText(userInput, assistantResponse)), 5).String()
}
