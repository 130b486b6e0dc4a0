package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/reliability"
)

const (
	DefaultPersona = "You are a helpful, friendly voice assistant. Keep answers short and conversational " +
		"because they will be read aloud."
	DefaultFallbackReply  = "I'm sorry, I'm having trouble responding right now. Please try again."
	DefaultHistoryWindow  = 5
	DefaultMaxTokens      = 150
	DefaultTemperature    = 0.7
	DefaultRequestTimeout = 30 * time.Second
	DefaultStoreTimeout   = 10 * time.Second
)

var errEmptyCompletion = errors.New("empty completion")

// CompletionRequest is what the orchestrator sends to the completion service.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Completer is the hosted completion service.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Retriever returns prompt-ready text of memories relevant to query.
// Implementations return "" on failure.
type Retriever interface {
	Retrieve(ctx context.Context, query string) string
}

// Recorder persists a completed exchange. Implementations absorb their own failures.
type Recorder interface {
	Store(ctx context.Context, userInput, assistantResponse string)
}

// Reporter is the error-reporting collaborator.
type Reporter interface {
	Report(ctx context.Context, err error)
}

type Options struct {
	Persona        string
	HistoryWindow  int
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
	StoreTimeout   time.Duration
	FallbackReply  string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Persona) == "" {
		o.Persona = DefaultPersona
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature < 0 {
		o.Temperature = DefaultTemperature
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if strings.TrimSpace(o.FallbackReply) == "" {
		o.FallbackReply = DefaultFallbackReply
	}
	return o
}

// Orchestrator turns one user utterance plus session history into a reply.
// Retrieval and storage are optional; a nil Retriever or Recorder disables them.
type Orchestrator struct {
	completer Completer
	retriever Retriever
	recorder  Recorder
	reporter  Reporter
	metrics   *observability.Metrics
	opts      Options

	inflight sync.WaitGroup
}

func NewOrchestrator(
	completer Completer,
	retriever Retriever,
	recorder Recorder,
	reporter Reporter,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		completer: completer,
		retriever: retriever,
		recorder:  recorder,
		reporter:  reporter,
		metrics:   metrics,
		opts:      opts.withDefaults(),
	}
}

func (o *Orchestrator) Options() Options { return o.opts }

// Prompt builds the prompt GenerateResponse would send for userInput.
func (o *Orchestrator) Prompt(ctx context.Context, userInput string, history []Turn) string {
	var memories string
	if o.retriever != nil {
		retrieveCtx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
		started := time.Now()
		memories = strings.TrimSpace(o.retriever.Retrieve(retrieveCtx, userInput))
		o.metrics.ObserveStage(observability.StageRetrieval, time.Since(started))
		cancel()
	}
	return BuildPrompt(o.opts.Persona, lastTurns(history, o.opts.HistoryWindow), memories, userInput)
}

// GenerateResponse returns the assistant reply for userInput. It never fails:
// completion errors and timeouts yield the configured fallback reply.
func (o *Orchestrator) GenerateResponse(ctx context.Context, userInput string, history []Turn) (reply string) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, fmt.Errorf("%w: panic: %v", reliability.ErrCompletionService, r))
			reply = o.opts.FallbackReply
		}
	}()

	prompt := o.Prompt(ctx, userInput, history)

	callCtx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	started := time.Now()
	text, err := o.completer.Complete(callCtx, CompletionRequest{
		System:      o.opts.Persona,
		Prompt:      prompt,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	o.metrics.ObserveCompletionLatency(time.Since(started))

	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		o.fail(ctx, fmt.Errorf("%w: %w", reliability.ErrCompletionService, err))
		return o.opts.FallbackReply
	}

	o.metrics.ObserveTurn("completed")
	o.dispatchStore(userInput, text)
	return text
}

// Converse runs one turn against a session history and appends both the user
// turn and the reply, fallback included, so the session stays consistent.
func (o *Orchestrator) Converse(ctx context.Context, h *History, userInput string) string {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return ""
	}
	reply := o.GenerateResponse(ctx, userInput, h.Turns())
	h.Append(
		Turn{Role: RoleUser, Content: userInput},
		Turn{Role: RoleAssistant, Content: reply},
	)
	return reply
}

// Wait blocks until every dispatched store has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.metrics.ObserveTurn("fallback")
	if o.reporter != nil {
		o.reporter.Report(ctx, err)
		return
	}
	log.Printf("conversation: %v", err)
}

// dispatchStore hands the exchange to the recorder off the reply path. The
// store runs under its own context so a finished request does not cancel it.
func (o *Orchestrator) dispatchStore(userInput, reply string) {
	if o.recorder == nil {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("conversation: memory store panic: %v", r)
			}
		}()
		storeCtx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
		defer cancel()
		o.recorder.Store(storeCtx, userInput, reply)
	}()
}
