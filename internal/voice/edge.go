package voice

import (
	"context"
	"fmt"
	"strings"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/ent0n29/recall/internal/reliability"
)

const DefaultEdgeVoice = "en-US-AriaNeural"

// EdgeSynthesizer synthesizes mp3 speech with the Microsoft Edge read-aloud service.
type EdgeSynthesizer struct {
	defaultVoice string
}

func NewEdgeSynthesizer(defaultVoice string) *EdgeSynthesizer {
	if strings.TrimSpace(defaultVoice) == "" {
		defaultVoice = DefaultEdgeVoice
	}
	return &EdgeSynthesizer{defaultVoice: defaultVoice}
}

func (s *EdgeSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	text = speakableText(text)
	if text == "" {
		return Speech{}, nil
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = s.defaultVoice
	}

	conn, err := edge_tts.NewCommunicate(text, edge_tts.SetVoice(voiceID))
	if err != nil {
		return Speech{}, fmt.Errorf("%w: edge tts setup: %w", reliability.ErrSpeechSynthesis, err)
	}

	type result struct {
		audio []byte
		err   error
	}
	// Stream does not take a context, so bound it from the outside.
	done := make(chan result, 1)
	go func() {
		data, err := conn.Stream()
		done <- result{audio: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return Speech{}, fmt.Errorf("%w: %w", reliability.ErrSpeechSynthesis, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return Speech{}, fmt.Errorf("%w: edge tts stream: %w", reliability.ErrSpeechSynthesis, res.err)
		}
		return Speech{Audio: res.audio, Format: "audio/mpeg"}, nil
	}
}
