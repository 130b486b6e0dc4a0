package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/chat"
	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/reliability"
	"github.com/ent0n29/recall/internal/session"
	"github.com/ent0n29/recall/internal/voice"
)

// Chat runs user turns against a session.
type Chat interface {
	SendText(ctx context.Context, sessionID, text string, speak bool) (chat.Result, error)
	SendVoice(ctx context.Context, sessionID string, audio voice.Audio, speak bool) (chat.Result, error)
	Speak(ctx context.Context, text, voiceID string) (voice.Speech, error)
	ClearHistory(sessionID string) error
}

// MemoryStatus exposes the memory subsystem state for readiness checks.
type MemoryStatus interface {
	State() string
}

// Status describes the resolved providers, reported by /healthz and /readyz.
type Status struct {
	LLMProvider   string
	VoiceProvider string
	MemoryBackend string
	// Memory is nil when the memory subsystem is disabled.
	Memory MemoryStatus
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	chat     Chat
	metrics  *observability.Metrics
	status   Status
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, sessions *session.Manager, chat Chat, metrics *observability.Metrics, status Status) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		chat:     chat,
		metrics:  metrics,
		status:   status,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser sockets unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/chat/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/ws", s.handleSessionWS)
		r.Post("/{id}/end", s.handleEndSession)
		r.Get("/{id}/history", s.handleHistory)
		r.Post("/{id}/clear", s.handleClearHistory)
		r.Post("/{id}/message", s.handleMessage)
		r.Post("/{id}/voice", s.handleVoice)
	})
	r.Post("/v1/tts", s.handleTTS)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"llm_provider":    s.status.LLMProvider,
		"voice_provider":  s.status.VoiceProvider,
		"memory_backend":  s.status.MemoryBackend,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleReady reports degraded rather than failing when memory is down, since
// chat keeps working without retrieval and storage.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	memoryState := "disabled"
	if s.status.Memory != nil {
		memoryState = s.status.Memory.State()
	}
	status := "ready"
	if memoryState != "ready" && memoryState != "disabled" {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"memory_state":   memoryState,
		"memory_backend": s.status.MemoryBackend,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		req.VoiceID = s.cfg.EdgeTTSVoice
	}

	sess := s.sessions.Create(req.UserID, req.VoiceID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.NewCreateResponse(sess, s.sessions.InactivityTimeout()))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.ObserveSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

type historyResponse struct {
	SessionID string              `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.sessions.Turns(id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	respondJSON(w, http.StatusOK, historyResponse{SessionID: id, Turns: turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.chat.ClearHistory(id); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, historyResponse{SessionID: id, Turns: []conversation.Turn{}})
}

type messageRequest struct {
	Text  string `json:"text"`
	Speak bool   `json:"speak"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.chat.SendText(r.Context(), id, req.Text, req.Speak)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newTurnResponse(id, res))
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	audio, err := readAudioUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}
	speak := r.URL.Query().Get("speak") != "false"

	res, err := s.chat.SendVoice(r.Context(), id, audio, speak)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newTurnResponse(id, res))
}

type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		voiceID = s.cfg.EdgeTTSVoice
	}

	speech, err := s.chat.Speak(r.Context(), req.Text, voiceID)
	if err != nil {
		respondFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", mimeForSpeech(speech.Format))
	w.Header().Set("Cache-Control", "no-store")
	if speech.Format != "" {
		w.Header().Set("X-Audio-Format", speech.Format)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(speech.Audio)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Source    string `json:"source,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

const maxJSONBody = 1 << 20

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFailure maps session, input and provider failures onto HTTP statuses.
func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
		return
	case errors.Is(err, chat.ErrEmptyInput):
		respondError(w, http.StatusBadRequest, "empty_input", err.Error())
		return
	}

	c := reliability.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reliability.ErrUnrecognizedAudio):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, reliability.ErrSpeechServiceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, reliability.ErrSpeechSynthesis):
		status = http.StatusBadGateway
	}
	respondJSON(w, status, errorResponse{
		Error:     userMessage(c, err),
		Code:      c.Code,
		Source:    c.Source,
		Retryable: c.Retryable,
	})
}

func userMessage(c reliability.Classification, err error) string {
	switch c.Code {
	case "unrecognized_audio":
		return "Sorry, I could not understand the audio. Please try again."
	case "speech_service_unavailable":
		return "The speech recognition service is unavailable right now. Please try again."
	case "synthesis_failed":
		return "Could not synthesize speech."
	default:
		return err.Error()
	}
}
