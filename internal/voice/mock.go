package voice

import (
	"context"
	"fmt"

	"github.com/ent0n29/recall/internal/reliability"
)

const (
	MockTranscript   = "simulated voice input"
	MockSpeechFormat = "mock_text_bytes"
)

// MockTranscriber stands in for speech-to-text when no service is configured.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (MockTranscriber) Transcribe(_ context.Context, audio Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("%w: empty audio", reliability.ErrUnrecognizedAudio)
	}
	return MockTranscript, nil
}

// MockSynthesizer returns the speakable text bytes instead of audio.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (MockSynthesizer) Synthesize(_ context.Context, text, _ string) (Speech, error) {
	text = speakableText(text)
	if text == "" {
		return Speech{}, nil
	}
	return Speech{Audio: []byte(text), Format: MockSpeechFormat}, nil
}
