package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionRetention         time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LLMProvider           string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIChatModel       string
	OpenAIEmbeddingModel  string
	OpenAITranscribeModel string

	// Empty persona and fallback reply mean the orchestrator defaults.
	ChatPersona        string
	ChatHistoryWindow  int
	ChatMaxTokens      int
	ChatTemperature    float64
	ChatRequestTimeout time.Duration
	ChatFallbackReply  string

	MemoryEnabled          bool
	MemoryRetrievalEnabled bool
	MemoryRequired         bool
	MemoryCollection       string
	MemoryEmbeddingDim     int
	MemoryTopK             int
	MemoryStoreTimeout     time.Duration
	MemoryRedactPII        bool
	MemoryChromemPath      string
	DatabaseURL            string

	VoiceProvider string
	EdgeTTSVoice  string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "recall"),
		AllowAnyOrigin:           false,
		LLMProvider:              envOrDefault("LLM_PROVIDER", "auto"),
		OpenAIAPIKey:             stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:            stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIChatModel:          envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingModel:     envOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAITranscribeModel:    envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		ChatPersona:              stringsTrimSpace("CHAT_PERSONA"),
		ChatHistoryWindow:        5,
		ChatMaxTokens:            150,
		ChatTemperature:          0.7,
		ChatRequestTimeout:       30 * time.Second,
		ChatFallbackReply:        stringsTrimSpace("CHAT_FALLBACK_REPLY"),
		MemoryEnabled:            true,
		MemoryRetrievalEnabled:   true,
		MemoryRequired:           false,
		MemoryCollection:         envOrDefault("MEMORY_COLLECTION", "conversation_memory"),
		MemoryEmbeddingDim:       1536,
		MemoryTopK:               3,
		MemoryStoreTimeout:       10 * time.Second,
		MemoryRedactPII:          false,
		MemoryChromemPath:        stringsTrimSpace("MEMORY_CHROMEM_PATH"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		VoiceProvider:            envOrDefault("VOICE_PROVIDER", "auto"),
		EdgeTTSVoice:             envOrDefault("EDGE_TTS_VOICE", "en-US-AriaNeural"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 15 * time.Minute,
		SessionRetention:         time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("APP_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.ChatHistoryWindow, err = intFromEnv("CHAT_HISTORY_WINDOW", cfg.ChatHistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatMaxTokens, err = intFromEnv("CHAT_MAX_TOKENS", cfg.ChatMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTemperature, err = floatFromEnv("CHAT_TEMPERATURE", cfg.ChatTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatRequestTimeout, err = durationFromEnv("CHAT_REQUEST_TIMEOUT", cfg.ChatRequestTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.MemoryEnabled, err = boolFromEnv("MEMORY_ENABLED", cfg.MemoryEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRetrievalEnabled, err = boolFromEnv("MEMORY_RETRIEVAL_ENABLED", cfg.MemoryRetrievalEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRequired, err = boolFromEnv("MEMORY_REQUIRED", cfg.MemoryRequired)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.MemoryEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryStoreTimeout, err = durationFromEnv("MEMORY_STORE_TIMEOUT", cfg.MemoryStoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.MemoryRedactPII)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.SessionRetention < 0 {
		return fmt.Errorf("APP_SESSION_RETENTION must be >= 0")
	}
	switch strings.ToLower(c.LLMProvider) {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of auto, openai, mock")
	}
	if strings.EqualFold(c.LLMProvider, "openai") && c.OpenAIAPIKey == "" {
		return fmt.Errorf("LLM_PROVIDER=openai but OPENAI_API_KEY is not set")
	}
	if c.ChatHistoryWindow < 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be >= 0")
	}
	if c.ChatMaxTokens <= 0 {
		return fmt.Errorf("CHAT_MAX_TOKENS must be positive")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be between 0 and 2")
	}
	if c.ChatRequestTimeout <= 0 {
		return fmt.Errorf("CHAT_REQUEST_TIMEOUT must be positive")
	}
	if c.MemoryEmbeddingDim <= 0 {
		return fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if c.MemoryTopK <= 0 {
		return fmt.Errorf("MEMORY_TOP_K must be positive")
	}
	if c.MemoryStoreTimeout <= 0 {
		return fmt.Errorf("MEMORY_STORE_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.VoiceProvider) {
	case "auto", "edge", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be one of auto, edge, mock")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
