package llm

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/ent0n29/recall/internal/conversation"
)

var errMockTranscription = errors.New("mock provider cannot transcribe audio")

// MockClient provides deterministic local replies and embeddings when no
// hosted model is configured.
type MockClient struct {
	dim int
}

func NewMockClient(dim int) *MockClient {
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}
	return &MockClient{dim: dim}
}

func (c *MockClient) Name() string { return "mock" }

func (c *MockClient) Dimensions() int { return c.dim }

func (c *MockClient) Complete(ctx context.Context, req conversation.CompletionRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(req.Prompt), nil
}

// Embed hashes words into a fixed-size bag-of-words vector, normalized to unit length.
func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	v := make([]float32, c.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(c.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v, nil
}

func (c *MockClient) Transcribe(context.Context, io.Reader, string) (string, error) {
	return "", errMockTranscription
}

// buildMockReply echoes the utterance on the prompt's anchor line and the most
// recent remembered exchange, if the prompt carried one.
func buildMockReply(prompt string) string {
	input := ""
	if i := strings.LastIndex(prompt, "User: "); i >= 0 {
		input = strings.TrimSuffix(strings.TrimSpace(prompt[i+len("User: "):]), "Assistant:")
		input = strings.TrimSpace(input)
	}
	if input == "" {
		input = "I am listening."
	}

	memory := ""
	if i := strings.Index(prompt, "Relevant memories:\n"); i >= 0 {
		rest := prompt[i+len("Relevant memories:\n"):]
		if j := strings.Index(rest, "\n"); j >= 0 {
			memory = strings.TrimSpace(strings.TrimPrefix(rest[:j], "User: "))
		}
	}
	if memory == "" {
		return fmt.Sprintf("I heard you: %s", input)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", input, memory)
}
