package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/recall/internal/audio"
	"github.com/ent0n29/recall/internal/llm"
	"github.com/ent0n29/recall/internal/reliability"
)

// TranscriptionBackend uploads an audio file and returns its transcript.
type TranscriptionBackend interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// WhisperTranscriber turns browser uploads into text through a hosted
// transcription model.
type WhisperTranscriber struct {
	backend TranscriptionBackend
}

func NewWhisperTranscriber(backend TranscriptionBackend) *WhisperTranscriber {
	return &WhisperTranscriber{backend: backend}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, in Audio) (string, error) {
	if len(in.Data) == 0 {
		return "", fmt.Errorf("%w: empty audio", reliability.ErrUnrecognizedAudio)
	}

	data, filename, err := uploadFile(in)
	if err != nil {
		return "", err
	}

	text, err := t.backend.Transcribe(ctx, bytes.NewReader(data), filename)
	if err != nil {
		if isBadAudioStatus(llm.StatusCode(err)) {
			return "", fmt.Errorf("%w: %w", reliability.ErrUnrecognizedAudio, err)
		}
		return "", fmt.Errorf("%w: %w", reliability.ErrSpeechServiceUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", reliability.ErrUnrecognizedAudio)
	}
	return text, nil
}

// uploadFile picks the upload filename from the audio format; the extension
// tells the transcription API how to decode. Raw PCM is wrapped as WAV.
func uploadFile(in Audio) ([]byte, string, error) {
	format := strings.ToLower(strings.TrimSpace(in.Format))
	switch format {
	case "pcm16", "pcm", "audio/l16":
		wav, err := audio.EncodeWAVPCM16LE(in.Data, in.SampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("%w: encode wav: %w", reliability.ErrUnrecognizedAudio, err)
		}
		return wav, "utterance.wav", nil
	case "wav", "audio/wav", "audio/x-wav", "audio/wave":
		return in.Data, "utterance.wav", nil
	case "webm", "audio/webm":
		return in.Data, "utterance.webm", nil
	case "ogg", "audio/ogg":
		return in.Data, "utterance.ogg", nil
	case "mp3", "mpeg", "audio/mpeg":
		return in.Data, "utterance.mp3", nil
	case "m4a", "mp4", "audio/mp4":
		return in.Data, "utterance.m4a", nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported audio format %q", reliability.ErrUnrecognizedAudio, in.Format)
	}
}

func isBadAudioStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}
