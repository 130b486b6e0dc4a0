package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/recall/internal/conversation"
)

// Client is a hosted model backend: completions, embeddings and transcription.
type Client interface {
	Complete(ctx context.Context, req conversation.CompletionRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	Name() string
}

// Config controls client construction.
type Config struct {
	Mode               string
	APIKey             string
	BaseURL            string
	ChatModel          string
	EmbeddingModel     string
	EmbeddingDim       int
	TranscriptionModel string
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIClient(cfg)
		}
		return NewMockClient(cfg.EmbeddingDim), nil
	case "openai":
		return NewOpenAIClient(cfg)
	case "mock":
		return NewMockClient(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Mode)
	}
}

// StatusCode extracts the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
