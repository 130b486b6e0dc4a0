package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/recall/internal/chat"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/voice"
)

const maxAudioUpload = 10 << 20

type turnResponse struct {
	SessionID   string                 `json:"session_id"`
	TurnID      string                 `json:"turn_id"`
	Transcript  string                 `json:"transcript,omitempty"`
	Reply       string                 `json:"reply"`
	Fallback    bool                   `json:"fallback,omitempty"`
	AudioFormat string                 `json:"audio_format,omitempty"`
	AudioBase64 string                 `json:"audio_base64,omitempty"`
	Errors      []observability.Report `json:"errors,omitempty"`
}

func newTurnResponse(sessionID string, res chat.Result) turnResponse {
	out := turnResponse{
		SessionID:  sessionID,
		TurnID:     res.TurnID,
		Transcript: res.Transcript,
		Reply:      res.Reply,
		Fallback:   res.Fallback,
		Errors:     res.Reports,
	}
	if res.Speech != nil {
		out.AudioFormat = res.Speech.Format
		out.AudioBase64 = base64.StdEncoding.EncodeToString(res.Speech.Audio)
	}
	return out
}

// readAudioUpload reads a raw audio body. The format comes from ?format= or
// the Content-Type; ?sample_rate= applies to raw PCM.
func readAudioUpload(r *http.Request) (voice.Audio, error) {
	if r.Body == nil {
		return voice.Audio{}, errors.New("missing audio body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioUpload+1))
	if err != nil {
		return voice.Audio{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioUpload {
		return voice.Audio{}, fmt.Errorf("audio exceeds %d bytes", maxAudioUpload)
	}

	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		format = mediaType(r.Header.Get("Content-Type"))
	}
	if format == "" {
		return voice.Audio{}, errors.New("audio format is required")
	}

	var sampleRate int
	if v := strings.TrimSpace(r.URL.Query().Get("sample_rate")); v != "" {
		sampleRate, err = strconv.Atoi(v)
		if err != nil || sampleRate <= 0 {
			return voice.Audio{}, fmt.Errorf("invalid sample_rate %q", v)
		}
	}
	return voice.Audio{Data: data, Format: format, SampleRate: sampleRate}, nil
}

// mediaType strips parameters such as codecs=opus from a Content-Type.
func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func mimeForSpeech(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "audio/mpeg", "mp3":
		return "audio/mpeg"
	case voice.MockSpeechFormat:
		return "text/plain; charset=utf-8"
	case "":
		return "application/octet-stream"
	default:
		return format
	}
}
