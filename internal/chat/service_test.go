package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/reliability"
	"github.com/ent0n29/recall/internal/session"
	"github.com/ent0n29/recall/internal/voice"
)

type stubCompleter struct {
	reply string
	err   error
}

func (c stubCompleter) Complete(context.Context, conversation.CompletionRequest) (string, error) {
	return c.reply, c.err
}

type failingTranscriber struct{ err error }

func (f failingTranscriber) Transcribe(context.Context, voice.Audio) (string, error) {
	return "", f.err
}

type failingSynthesizer struct{}

func (failingSynthesizer) Synthesize(context.Context, string, string) (voice.Speech, error) {
	return voice.Speech{}, fmt.Errorf("%w: edge offline", reliability.ErrSpeechSynthesis)
}

func newTestService(t *testing.T, completer conversation.Completer, tr voice.Transcriber, syn voice.Synthesizer) (*Service, *session.Manager) {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("recall_test_chat_%d", time.Now().UnixNano()))
	reporter := observability.NewReporter(metrics)
	orch := conversation.NewOrchestrator(completer, nil, nil, reporter, metrics, conversation.Options{})
	sessions := session.NewManager(time.Minute, time.Hour)
	return NewService(sessions, orch, tr, syn, reporter, metrics), sessions
}

func TestSendTextAppendsTurnAndSpeaks(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{reply: " Hi there! "}, voice.NewMockTranscriber(), voice.NewMockSynthesizer())
	sess := sessions.Create("", "")

	res, err := svc.SendText(context.Background(), sess.ID, "Hello", true)
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if res.Reply != "Hi there!" || res.Fallback {
		t.Fatalf("result = %+v", res)
	}
	if res.Speech == nil || string(res.Speech.Audio) != "Hi there!" {
		t.Fatalf("speech = %+v, want mock audio", res.Speech)
	}
	turns, _ := sessions.Turns(sess.ID)
	if len(turns) != 2 || turns[0].Content != "Hello" || turns[1].Content != "Hi there!" {
		t.Fatalf("history = %+v", turns)
	}
}

func TestSendTextFallbackIsFlagged(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{err: errors.New("503")}, nil, nil)
	sess := sessions.Create("", "")

	res, err := svc.SendText(context.Background(), sess.ID, "Hello", false)
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if res.Reply != conversation.DefaultFallbackReply || !res.Fallback {
		t.Fatalf("result = %+v, want flagged fallback", res)
	}
	if len(res.Reports) != 1 || res.Reports[0].Code != "completion_failed" {
		t.Fatalf("reports = %+v", res.Reports)
	}
	turns, _ := sessions.Turns(sess.ID)
	if len(turns) != 2 || turns[1].Content != conversation.DefaultFallbackReply {
		t.Fatalf("history = %+v, want fallback recorded", turns)
	}
}

func TestSendTextRejectsBlankAndUnknownSession(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{reply: "ok"}, nil, nil)
	sess := sessions.Create("", "")

	if _, err := svc.SendText(context.Background(), sess.ID, "   ", false); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("SendText(blank) error = %v, want ErrEmptyInput", err)
	}
	if _, err := svc.SendText(context.Background(), "nope", "hi", false); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("SendText(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSendVoiceTranscribesThenReplies(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{reply: "Got it."}, voice.NewMockTranscriber(), nil)
	sess := sessions.Create("", "")

	res, err := svc.SendVoice(context.Background(), sess.ID, voice.Audio{Data: []byte{1, 2}, Format: "webm"}, false)
	if err != nil {
		t.Fatalf("SendVoice() error = %v", err)
	}
	if res.Transcript != voice.MockTranscript || res.Reply != "Got it." {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendVoiceFailureLeavesHistoryUntouched(t *testing.T) {
	for _, want := range []error{reliability.ErrUnrecognizedAudio, reliability.ErrSpeechServiceUnavailable} {
		svc, sessions := newTestService(t, stubCompleter{reply: "unused"}, failingTranscriber{err: want}, nil)
		sess := sessions.Create("", "")

		_, err := svc.SendVoice(context.Background(), sess.ID, voice.Audio{Data: []byte{1}, Format: "wav"}, false)
		if !errors.Is(err, want) {
			t.Fatalf("SendVoice() error = %v, want %v", err, want)
		}
		if turns, _ := sessions.Turns(sess.ID); len(turns) != 0 {
			t.Fatalf("history = %+v, want empty", turns)
		}
	}
}

func TestSynthesisFailureKeepsReply(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{reply: "Hello!"}, nil, failingSynthesizer{})
	sess := sessions.Create("", "")

	res, err := svc.SendText(context.Background(), sess.ID, "hi", true)
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if res.Reply != "Hello!" || res.Speech != nil || res.Fallback {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Reports) != 1 || res.Reports[0].Source != "tts" {
		t.Fatalf("reports = %+v, want one tts report", res.Reports)
	}
}

func TestClearHistoryKeepsSession(t *testing.T) {
	svc, sessions := newTestService(t, stubCompleter{reply: "ok"}, nil, nil)
	sess := sessions.Create("", "")
	if _, err := svc.SendText(context.Background(), sess.ID, "hi", false); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := svc.ClearHistory(sess.ID); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	if turns, _ := sessions.Turns(sess.ID); len(turns) != 0 {
		t.Fatalf("history = %+v, want empty", turns)
	}
	got, _ := sessions.Get(sess.ID)
	if got.Status != session.StatusActive {
		t.Fatalf("Status = %s, want active", got.Status)
	}
}
