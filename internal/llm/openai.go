package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/reliability"
)

const (
	defaultChatModel          = openai.GPT4oMini
	defaultEmbeddingModel     = openai.SmallEmbedding3
	defaultEmbeddingDim       = 1536
	defaultTranscriptionModel = openai.Whisper1
)

// OpenAIClient talks to the OpenAI API or any compatible endpoint.
type OpenAIClient struct {
	client             *openai.Client
	chatModel          string
	embeddingModel     openai.EmbeddingModel
	embeddingDim       int
	transcriptionModel string
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	c := &OpenAIClient{
		client:             openai.NewClientWithConfig(clientConfig),
		chatModel:          cfg.ChatModel,
		embeddingModel:     openai.EmbeddingModel(cfg.EmbeddingModel),
		embeddingDim:       cfg.EmbeddingDim,
		transcriptionModel: cfg.TranscriptionModel,
	}
	if c.chatModel == "" {
		c.chatModel = defaultChatModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = defaultEmbeddingModel
	}
	if c.embeddingDim <= 0 {
		c.embeddingDim = defaultEmbeddingDim
	}
	if c.transcriptionModel == "" {
		c.transcriptionModel = defaultTranscriptionModel
	}
	return c, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Dimensions() int { return c.embeddingDim }

func (c *OpenAIClient) Complete(ctx context.Context, req conversation.CompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", markPermanent(fmt.Errorf("openai completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	}
	// Only the text-embedding-3 family accepts a requested dimension.
	if strings.HasPrefix(string(c.embeddingModel), "text-embedding-3") {
		req.Dimensions = c.embeddingDim
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, markPermanent(fmt.Errorf("openai embedding failed: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", markPermanent(fmt.Errorf("openai transcription failed: %w", err))
	}
	return resp.Text, nil
}

// markPermanent tags API errors whose status says a retry will not help,
// such as bad credentials or an unknown model.
func markPermanent(err error) error {
	code := StatusCode(err)
	if code == 0 || reliability.IsRetryableHTTPStatus(code) {
		return err
	}
	return fmt.Errorf("%w: %w", reliability.ErrPermanent, err)
}
