package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/recall/internal/chat"
	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/httpapi"
	"github.com/ent0n29/recall/internal/llm"
	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/reliability"
	"github.com/ent0n29/recall/internal/session"
)

type VoiceInfo struct {
	Provider       string
	Detail         string
	DefaultVoiceID string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *conversation.Orchestrator
	Chat         *chat.Service
	Metrics      *observability.Metrics
	Reporter     *observability.Reporter
	LLMProvider  string
	Voice        VoiceInfo

	// Memory is nil when the memory subsystem is disabled by config.
	Memory        *memory.Adapter
	MemoryBackend string

	// Cleanup should be called on shutdown. It waits for pending memory
	// writes before closing the collection.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	reporter := observability.NewReporter(metrics)

	client, err := llm.NewClient(llm.Config{
		Mode:               cfg.LLMProvider,
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		ChatModel:          cfg.OpenAIChatModel,
		EmbeddingModel:     cfg.OpenAIEmbeddingModel,
		EmbeddingDim:       cfg.MemoryEmbeddingDim,
		TranscriptionModel: cfg.OpenAITranscribeModel,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	log.Printf("llm provider: %s", client.Name())

	mem, err := setupMemory(ctx, cfg, client, reporter, metrics)
	if err != nil {
		return nil, err
	}

	voiceSetup, err := resolveVoiceProviders(cfg, client)
	if err != nil {
		mem.close()
		return nil, err
	}
	log.Printf("voice provider: %s", voiceSetup.detail)
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	// Leave the interfaces nil rather than holding a nil *memory.Adapter.
	var (
		retriever conversation.Retriever
		recorder  conversation.Recorder
	)
	if mem.wired() {
		recorder = mem.adapter
		if cfg.MemoryRetrievalEnabled {
			retriever = mem.adapter
		}
	}

	orchestrator := conversation.NewOrchestrator(client, retriever, recorder, reporter, metrics, conversation.Options{
		Persona:        cfg.ChatPersona,
		HistoryWindow:  cfg.ChatHistoryWindow,
		MaxTokens:      cfg.ChatMaxTokens,
		Temperature:    float32(cfg.ChatTemperature),
		RequestTimeout: cfg.ChatRequestTimeout,
		StoreTimeout:   cfg.MemoryStoreTimeout,
		FallbackReply:  cfg.ChatFallbackReply,
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout, cfg.SessionRetention)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	chatService := chat.NewService(sessions, orchestrator, voiceSetup.transcriber, voiceSetup.synthesizer, reporter, metrics)

	status := httpapi.Status{
		LLMProvider:   client.Name(),
		VoiceProvider: voiceSetup.resolvedProvider,
		MemoryBackend: mem.backend,
	}
	if mem.adapter != nil {
		status.Memory = memoryStatus{mem.adapter}
	}
	api := httpapi.New(cfg, sessions, chatService, metrics, status)

	cleanup := func() error {
		orchestrator.Wait()
		var errs []string
		if err := mem.close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Sessions:      sessions,
		Orchestrator:  orchestrator,
		Chat:          chatService,
		Metrics:       metrics,
		Reporter:      reporter,
		LLMProvider:   client.Name(),
		Memory:        mem.adapter,
		MemoryBackend: mem.backend,
		Voice: VoiceInfo{
			Provider:       voiceSetup.resolvedProvider,
			Detail:         voiceSetup.detail,
			DefaultVoiceID: voiceSetup.defaultVoiceID,
		},
		Cleanup: cleanup,
	}, nil
}

type memorySetup struct {
	adapter *memory.Adapter
	backend string
}

// wired reports whether the orchestrator should retrieve from and store to memory.
func (m memorySetup) wired() bool {
	return m.adapter != nil && m.adapter.State() == memory.StateReady
}

func (m memorySetup) close() error {
	if m.adapter == nil {
		return nil
	}
	return m.adapter.Close()
}

// setupMemory opens and provisions the collection. Failures disable memory
// unless MEMORY_REQUIRED is set.
func setupMemory(ctx context.Context, cfg config.Config, client llm.Client, reporter *observability.Reporter, metrics *observability.Metrics) (memorySetup, error) {
	if !cfg.MemoryEnabled {
		log.Printf("memory: disabled")
		return memorySetup{backend: "disabled"}, nil
	}

	collection, backend, err := memory.NewCollection(ctx, cfg.DatabaseURL, cfg.MemoryChromemPath)
	if err != nil {
		if cfg.MemoryRequired {
			return memorySetup{}, fmt.Errorf("memory collection init failed: %w", err)
		}
		reporter.Report(ctx, fmt.Errorf("%w: open %s backend: %w", reliability.ErrCollectionProvision, backend, err))
		log.Printf("memory: continuing without memory")
		return memorySetup{backend: "disabled"}, nil
	}

	adapter := memory.NewAdapter(collection, client, reporter, metrics, memory.AdapterConfig{
		Collection: cfg.MemoryCollection,
		TopK:       cfg.MemoryTopK,
		RedactPII:  cfg.MemoryRedactPII,
	})
	if err := adapter.Provision(ctx); err != nil {
		if cfg.MemoryRequired {
			_ = adapter.Close()
			return memorySetup{}, err
		}
		reporter.Report(ctx, err)
		log.Printf("memory: continuing without memory")
	}
	return memorySetup{adapter: adapter, backend: backend}, nil
}

type memoryStatus struct{ adapter *memory.Adapter }

func (m memoryStatus) State() string { return m.adapter.State().String() }
