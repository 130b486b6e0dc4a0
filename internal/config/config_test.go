package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.MetricsNamespace != "recall" {
		t.Fatalf("unexpected app defaults: %+v", cfg)
	}
	if cfg.ChatHistoryWindow != 5 || cfg.ChatMaxTokens != 150 || cfg.ChatTemperature != 0.7 {
		t.Fatalf("unexpected chat defaults: window=%d max=%d temp=%v", cfg.ChatHistoryWindow, cfg.ChatMaxTokens, cfg.ChatTemperature)
	}
	if !cfg.MemoryEnabled || !cfg.MemoryRetrievalEnabled || cfg.MemoryRequired {
		t.Fatalf("unexpected memory flags: %+v", cfg)
	}
	if cfg.MemoryCollection != "conversation_memory" || cfg.MemoryTopK != 3 || cfg.MemoryEmbeddingDim != 1536 {
		t.Fatalf("unexpected memory defaults: %+v", cfg)
	}
	if cfg.MemoryStoreTimeout != 10*time.Second || cfg.ChatRequestTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: store=%s request=%s", cfg.MemoryStoreTimeout, cfg.ChatRequestTimeout)
	}
	if cfg.LLMProvider != "auto" || cfg.VoiceProvider != "auto" {
		t.Fatalf("providers = %q/%q, want auto/auto", cfg.LLMProvider, cfg.VoiceProvider)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("CHAT_HISTORY_WINDOW", "8")
	t.Setenv("CHAT_TEMPERATURE", "0.2")
	t.Setenv("MEMORY_RETRIEVAL_ENABLED", "off")
	t.Setenv("MEMORY_REDACT_PII", "yes")
	t.Setenv("OPENAI_API_KEY", "  sk-test \n")
	t.Setenv("DATABASE_URL", "postgres://localhost/recall")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.ChatHistoryWindow != 8 || cfg.ChatTemperature != 0.2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MemoryRetrievalEnabled || !cfg.MemoryRedactPII {
		t.Fatalf("memory flags = retrieval:%v redact:%v", cfg.MemoryRetrievalEnabled, cfg.MemoryRedactPII)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q, want trimmed value", cfg.OpenAIAPIKey)
	}
	if cfg.DatabaseURL != "postgres://localhost/recall" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"CHAT_TEMPERATURE", "3", "CHAT_TEMPERATURE"},
		{"CHAT_TEMPERATURE", "warm", "CHAT_TEMPERATURE"},
		{"CHAT_MAX_TOKENS", "0", "CHAT_MAX_TOKENS"},
		{"MEMORY_TOP_K", "-1", "MEMORY_TOP_K"},
		{"MEMORY_ENABLED", "maybe", "MEMORY_ENABLED"},
		{"APP_SESSION_INACTIVITY_TIMEOUT", "1s", "APP_SESSION_INACTIVITY_TIMEOUT"},
		{"LLM_PROVIDER", "anthropic", "LLM_PROVIDER"},
		{"LLM_PROVIDER", "openai", "OPENAI_API_KEY"},
		{"VOICE_PROVIDER", "elevenlabs", "VOICE_PROVIDER"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_SESSION_RETENTION",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LLM_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_CHAT_MODEL",
		"OPENAI_EMBEDDING_MODEL",
		"OPENAI_TRANSCRIBE_MODEL",
		"CHAT_PERSONA",
		"CHAT_HISTORY_WINDOW",
		"CHAT_MAX_TOKENS",
		"CHAT_TEMPERATURE",
		"CHAT_REQUEST_TIMEOUT",
		"CHAT_FALLBACK_REPLY",
		"MEMORY_ENABLED",
		"MEMORY_RETRIEVAL_ENABLED",
		"MEMORY_REQUIRED",
		"MEMORY_COLLECTION",
		"MEMORY_EMBEDDING_DIM",
		"MEMORY_TOP_K",
		"MEMORY_STORE_TIMEOUT",
		"MEMORY_REDACT_PII",
		"MEMORY_CHROMEM_PATH",
		"DATABASE_URL",
		"VOICE_PROVIDER",
		"EDGE_TTS_VOICE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
