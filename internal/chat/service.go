package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/session"
	"github.com/ent0n29/recall/internal/voice"
)

var ErrEmptyInput = errors.New("empty input")

const DefaultSynthesisTimeout = 20 * time.Second

// Responder produces the assistant reply for one turn and records both sides
// in the history.
type Responder interface {
	Converse(ctx context.Context, h *conversation.History, userInput string) string
}

type Reporter interface {
	Report(ctx context.Context, err error)
}

// Result is everything the UI needs to render one exchange.
type Result struct {
	TurnID     string
	Transcript string
	Reply      string
	Fallback   bool
	Speech     *voice.Speech
	// Reports holds failures raised during the turn that the user should see.
	Reports []observability.Report
}

// Service drives one user turn from raw input to reply and optional speech.
type Service struct {
	sessions         *session.Manager
	responder        Responder
	transcriber      voice.Transcriber
	synthesizer      voice.Synthesizer
	reporter         Reporter
	metrics          *observability.Metrics
	synthesisTimeout time.Duration
}

func NewService(
	sessions *session.Manager,
	responder Responder,
	transcriber voice.Transcriber,
	synthesizer voice.Synthesizer,
	reporter Reporter,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		sessions:         sessions,
		responder:        responder,
		transcriber:      transcriber,
		synthesizer:      synthesizer,
		reporter:         reporter,
		metrics:          metrics,
		synthesisTimeout: DefaultSynthesisTimeout,
	}
}

// SendText runs one typed turn.
func (s *Service) SendText(ctx context.Context, sessionID, text string, speak bool) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyInput
	}
	return s.run(ctx, sessionID, text, speak)
}

// SendVoice transcribes audio and runs the transcript as a turn. A failed
// transcription is reported and leaves the history untouched.
func (s *Service) SendVoice(ctx context.Context, sessionID string, audio voice.Audio, speak bool) (Result, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return Result{}, err
	}
	if s.transcriber == nil {
		return Result{}, errors.New("speech-to-text is not configured")
	}

	started := time.Now()
	transcript, err := s.transcriber.Transcribe(ctx, audio)
	s.metrics.ObserveStage(observability.StageTranscription, time.Since(started))
	if err != nil {
		s.report(ctx, err)
		return Result{}, err
	}
	res, err := s.run(ctx, sessionID, transcript, speak)
	res.Transcript = transcript
	return res, err
}

// Speak synthesizes arbitrary text with the given voice.
func (s *Service) Speak(ctx context.Context, text, voiceID string) (voice.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return voice.Speech{}, ErrEmptyInput
	}
	if s.synthesizer == nil {
		return voice.Speech{}, errors.New("text-to-speech is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.synthesisTimeout)
	defer cancel()

	started := time.Now()
	speech, err := s.synthesizer.Synthesize(ctx, text, voiceID)
	s.metrics.ObserveSynthesisLatency(time.Since(started))
	if err != nil {
		s.report(ctx, err)
		return voice.Speech{}, err
	}
	return speech, nil
}

// ClearHistory empties the session's turns. Stored memories stay.
func (s *Service) ClearHistory(sessionID string) error {
	if err := s.sessions.ClearHistory(sessionID); err != nil {
		return err
	}
	s.metrics.ObserveSessionEvent("history_cleared")
	return nil
}

func (s *Service) run(ctx context.Context, sessionID, input string, speak bool) (Result, error) {
	history, release, err := s.sessions.BeginTurn(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	started := time.Now()
	defer func() { s.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started)) }()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return Result{}, err
	}

	var (
		mu      sync.Mutex
		reports []observability.Report
	)
	turnCtx := observability.WithSink(ctx, func(r observability.Report) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	res := Result{TurnID: uuid.NewString()}
	res.Reply = s.responder.Converse(turnCtx, history, input)
	if res.Reply == "" {
		return Result{}, ErrEmptyInput
	}

	if speak && s.synthesizer != nil {
		if speech, err := s.Speak(turnCtx, res.Reply, sess.VoiceID); err == nil && len(speech.Audio) > 0 {
			res.Speech = &speech
		}
	}

	mu.Lock()
	res.Reports = append(res.Reports, reports...)
	mu.Unlock()
	for _, r := range res.Reports {
		if r.Source == "llm" {
			res.Fallback = true
		}
	}
	return res, nil
}

func (s *Service) report(ctx context.Context, err error) {
	if s.reporter == nil {
		return
	}
	s.reporter.Report(ctx, fmt.Errorf("chat: %w", err))
}
