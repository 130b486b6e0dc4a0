package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/chat"
	"github.com/ent0n29/recall/internal/protocol"
	"github.com/ent0n29/recall/internal/reliability"
	"github.com/ent0n29/recall/internal/session"
	"github.com/ent0n29/recall/internal/voice"
)

const (
	wsReadLimit    = 16 << 20
	wsIdleTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleSessionWS serves one browser connection. Turns run one at a time in
// the read loop; a single writer goroutine owns the socket writes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()
	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		for _, out := range s.handleClientMessage(ctx, sessionID, parsed) {
			send(out)
		}
	}

	cancel()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

// handleClientMessage runs one inbound message and returns the replies to
// send, in order. Messages are bound to the connection's session.
func (s *Server) handleClientMessage(ctx context.Context, sessionID string, msg any) []any {
	switch m := msg.(type) {
	case protocol.UserText:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		res, err := s.chat.SendText(ctx, sessionID, m.Text, m.Speak)
		if err != nil {
			return []any{errorEvent(sessionID, err)}
		}
		return turnMessages(sessionID, res)
	case protocol.UserAudio:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		data, err := base64.StdEncoding.DecodeString(m.AudioBase64)
		if err != nil {
			return []any{protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_audio",
				Source:    "gateway",
				Detail:    "audio_base64 is not valid base64",
			}}
		}
		res, err := s.chat.SendVoice(ctx, sessionID, voice.Audio{Data: data, Format: m.Format, SampleRate: m.SampleRate}, true)
		if err != nil {
			return []any{errorEvent(sessionID, err)}
		}
		return turnMessages(sessionID, res)
	case protocol.ClearHistory:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		if err := s.chat.ClearHistory(sessionID); err != nil {
			return []any{errorEvent(sessionID, err)}
		}
		return []any{protocol.HistoryCleared{Type: protocol.TypeHistoryCleared, SessionID: sessionID}}
	default:
		return nil
	}
}

func turnMessages(sessionID string, res chat.Result) []any {
	var out []any
	if res.Transcript != "" {
		out = append(out, protocol.Transcript{Type: protocol.TypeTranscript, SessionID: sessionID, Text: res.Transcript})
	}
	out = append(out, protocol.AssistantReply{
		Type:      protocol.TypeAssistantReply,
		SessionID: sessionID,
		TurnID:    res.TurnID,
		Text:      res.Reply,
		Fallback:  res.Fallback,
	})
	if res.Speech != nil {
		out = append(out, protocol.AssistantAudio{
			Type:        protocol.TypeAssistantAudio,
			SessionID:   sessionID,
			TurnID:      res.TurnID,
			Format:      res.Speech.Format,
			AudioBase64: base64.StdEncoding.EncodeToString(res.Speech.Audio),
		})
	}
	for _, r := range res.Reports {
		// Completion failures already show up as the fallback reply.
		if r.Source == "llm" {
			continue
		}
		out = append(out, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      r.Code,
			Source:    r.Source,
			Retryable: r.Retryable,
			Detail:    r.Detail,
		})
	}
	return out
}

func errorEvent(sessionID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{Type: protocol.TypeErrorEvent, SessionID: sessionID, Source: "gateway", Detail: err.Error()}
	switch {
	case errors.Is(err, session.ErrNotFound):
		ev.Code = "session_not_found"
	case errors.Is(err, session.ErrEnded):
		ev.Code = "session_ended"
	case errors.Is(err, chat.ErrEmptyInput):
		ev.Code = "empty_input"
	default:
		c := reliability.Classify(err)
		ev.Code, ev.Source, ev.Retryable = c.Code, c.Source, c.Retryable
		ev.Detail = userMessage(c, err)
	}
	return ev
}

func sessionMismatch(sessionID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message session_id does not match the connection",
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserText:
		return m.Type, true
	case protocol.UserAudio:
		return m.Type, true
	case protocol.ClearHistory:
		return m.Type, true
	case protocol.Transcript:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.HistoryCleared:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
