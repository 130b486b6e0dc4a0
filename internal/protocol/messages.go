package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserText       MessageType = "user_text"
	TypeUserAudio      MessageType = "user_audio"
	TypeClearHistory   MessageType = "clear_history"
	TypeTranscript     MessageType = "transcript"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeAssistantAudio MessageType = "assistant_audio"
	TypeHistoryCleared MessageType = "history_cleared"
	TypeErrorEvent     MessageType = "error_event"
)

// MaxTextRunes bounds a single typed message.
const MaxTextRunes = 4000

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Speak     bool        `json:"speak"`
}

// UserAudio carries one recorded utterance. Format is a MIME type or a short
// name such as "pcm16" or "webm"; SampleRate applies to raw PCM only.
type UserAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	AudioBase64 string      `json:"audio_base64"`
}

type ClearHistory struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	Fallback  bool        `json:"fallback,omitempty"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type HistoryCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserText:
		var msg UserText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_text")
		}
		if len([]rune(msg.Text)) > MaxTextRunes {
			return nil, fmt.Errorf("user_text exceeds %d characters", MaxTextRunes)
		}
		return msg, nil
	case TypeUserAudio:
		var msg UserAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" || msg.Format == "" {
			return nil, errors.New("invalid user_audio")
		}
		if msg.SampleRate < 0 {
			return nil, errors.New("invalid user_audio sample_rate")
		}
		return msg, nil
	case TypeClearHistory:
		var msg ClearHistory
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid clear_history")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
