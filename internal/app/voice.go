package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/llm"
	"github.com/ent0n29/recall/internal/voice"
)

type voiceSetup struct {
	transcriber      voice.Transcriber
	synthesizer      voice.Synthesizer
	resolvedProvider string
	defaultVoiceID   string
	detail           string
}

// resolveVoiceProviders picks speech backends. Transcription needs the hosted
// API, so it falls back to the mock whenever the completion client is a mock.
func resolveVoiceProviders(cfg config.Config, client llm.Client) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}
	hosted := client != nil && client.Name() == "openai"

	transcriber := func() (voice.Transcriber, string) {
		if hosted {
			return voice.NewWhisperTranscriber(client), "whisper"
		}
		return voice.NewMockTranscriber(), "mock stt"
	}

	edge := func() voiceSetup {
		stt, sttDetail := transcriber()
		return voiceSetup{
			transcriber:      stt,
			synthesizer:      voice.NewEdgeSynthesizer(cfg.EdgeTTSVoice),
			resolvedProvider: "edge",
			defaultVoiceID:   cfg.EdgeTTSVoice,
			detail:           fmt.Sprintf("%s + edge tts", sttDetail),
		}
	}
	mock := func(detail string) voiceSetup {
		return voiceSetup{
			transcriber:      voice.NewMockTranscriber(),
			synthesizer:      voice.NewMockSynthesizer(),
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch voiceMode {
	case "edge":
		return edge(), nil
	case "mock":
		return mock("mock"), nil
	case "auto":
		if hosted {
			return edge(), nil
		}
		return mock("mock (no hosted speech-to-text configured)"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|edge|mock)", cfg.VoiceProvider)
	}
}
