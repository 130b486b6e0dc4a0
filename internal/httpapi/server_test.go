package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/recall/internal/chat"
	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/protocol"
	"github.com/ent0n29/recall/internal/reliability"
	"github.com/ent0n29/recall/internal/session"
	"github.com/ent0n29/recall/internal/voice"
)

var metricsSeq atomic.Int64

type echoCompleter struct{ err error }

func (c echoCompleter) Complete(_ context.Context, req conversation.CompletionRequest) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	i := strings.LastIndex(req.Prompt, "User: ")
	line := strings.TrimSuffix(req.Prompt[i+len("User: "):], "\nAssistant:")
	return "echo: " + line, nil
}

type rejectingTranscriber struct{}

func (rejectingTranscriber) Transcribe(context.Context, voice.Audio) (string, error) {
	return "", fmt.Errorf("%w: empty transcript", reliability.ErrUnrecognizedAudio)
}

type memoryState string

func (m memoryState) State() string { return string(m) }

type testServer struct {
	*httptest.Server
	sessions *session.Manager
}

func newTestServer(t *testing.T, completer conversation.Completer, tr voice.Transcriber, status Status) *testServer {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		EdgeTTSVoice:             "en-US-AriaNeural",
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))
	reporter := observability.NewReporter(metrics)
	sessions := session.NewManager(cfg.SessionInactivityTimeout, time.Hour)
	orch := conversation.NewOrchestrator(completer, nil, nil, reporter, metrics, conversation.Options{})
	svc := chat.NewService(sessions, orch, tr, voice.NewMockSynthesizer(), reporter, metrics)

	ts := httptest.NewServer(New(cfg, sessions, svc, metrics, status).Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, sessions: sessions}
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	res, err := http.Post(ts.URL+"/v1/chat/session", "application/json", strings.NewReader(`{"user_id":"user-1"}`))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || created.VoiceID != "en-US-AriaNeural" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	return created.SessionID
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return res.StatusCode
}

func TestCreateAndEndSession(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, voice.NewMockTranscriber(), Status{})
	id := ts.createSession(t)

	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/end", nil, nil); code != http.StatusOK {
		t.Fatalf("end status = %d, want %d", code, http.StatusOK)
	}
	var failure errorResponse
	code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/message", messageRequest{Text: "hi"}, &failure)
	if code != http.StatusConflict || failure.Code != "session_ended" {
		t.Fatalf("message after end = %d %+v, want 409 session_ended", code, failure)
	}
}

func TestMessageClearAndHistory(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, voice.NewMockTranscriber(), Status{})
	id := ts.createSession(t)

	var turn turnResponse
	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/message", messageRequest{Text: "Hello", Speak: true}, &turn); code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if turn.Reply != "echo: Hello" || turn.Fallback {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.AudioFormat != voice.MockSpeechFormat || turn.AudioBase64 == "" {
		t.Fatalf("turn audio = %q %q", turn.AudioFormat, turn.AudioBase64)
	}

	res, err := http.Get(ts.URL + "/v1/chat/session/" + id + "/history")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	var hist historyResponse
	_ = json.NewDecoder(res.Body).Decode(&hist)
	res.Body.Close()
	if len(hist.Turns) != 2 || hist.Turns[0].Role != conversation.RoleUser || hist.Turns[1].Content != "echo: Hello" {
		t.Fatalf("history = %+v", hist.Turns)
	}

	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/clear", nil, &hist); code != http.StatusOK {
		t.Fatalf("clear status = %d", code)
	}
	if turns, _ := ts.sessions.Turns(id); len(turns) != 0 {
		t.Fatalf("history after clear = %+v", turns)
	}
}

func TestMessageFallbackAndValidation(t *testing.T) {
	ts := newTestServer(t, echoCompleter{err: errors.New("upstream 500")}, voice.NewMockTranscriber(), Status{})
	id := ts.createSession(t)

	var turn turnResponse
	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/message", messageRequest{Text: "Hello"}, &turn); code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if turn.Reply != conversation.DefaultFallbackReply || !turn.Fallback {
		t.Fatalf("turn = %+v, want fallback", turn)
	}

	var failure errorResponse
	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/message", messageRequest{Text: "  "}, &failure); code != http.StatusBadRequest {
		t.Fatalf("blank message status = %d, want 400", code)
	}
	if code := postJSON(t, ts.URL+"/v1/chat/session/missing/message", messageRequest{Text: "x"}, &failure); code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", code)
	}
}

func TestVoiceUpload(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, voice.NewMockTranscriber(), Status{})
	id := ts.createSession(t)

	res, err := http.Post(ts.URL+"/v1/chat/session/"+id+"/voice?speak=false", "audio/webm;codecs=opus", bytes.NewReader([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("POST voice error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("voice status = %d", res.StatusCode)
	}
	var turn turnResponse
	_ = json.NewDecoder(res.Body).Decode(&turn)
	if turn.Transcript != voice.MockTranscript || turn.Reply != "echo: "+voice.MockTranscript || turn.AudioBase64 != "" {
		t.Fatalf("turn = %+v", turn)
	}
}

func TestVoiceUnrecognizedIsReportedWithoutHistory(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, rejectingTranscriber{}, Status{})
	id := ts.createSession(t)

	res, err := http.Post(ts.URL+"/v1/chat/session/"+id+"/voice", "audio/wav", bytes.NewReader([]byte{1, 2}))
	if err != nil {
		t.Fatalf("POST voice error = %v", err)
	}
	defer res.Body.Close()
	var failure errorResponse
	_ = json.NewDecoder(res.Body).Decode(&failure)
	if res.StatusCode != http.StatusUnprocessableEntity || failure.Code != "unrecognized_audio" || !failure.Retryable {
		t.Fatalf("voice failure = %d %+v", res.StatusCode, failure)
	}
	if turns, _ := ts.sessions.Turns(id); len(turns) != 0 {
		t.Fatalf("history = %+v, want untouched", turns)
	}
}

func TestTTS(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, nil, Status{})
	res, err := http.Post(ts.URL+"/v1/tts", "application/json", strings.NewReader(`{"text":"Hello **there**"}`))
	if err != nil {
		t.Fatalf("POST tts error = %v", err)
	}
	defer res.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(res.Body)
	if res.StatusCode != http.StatusOK || body.String() != "Hello there" {
		t.Fatalf("tts = %d %q", res.StatusCode, body.String())
	}
	if got := res.Header.Get("X-Audio-Format"); got != voice.MockSpeechFormat {
		t.Fatalf("X-Audio-Format = %q", got)
	}
}

func TestReadyReportsMemoryState(t *testing.T) {
	cases := []struct {
		memory MemoryStatus
		want   string
	}{
		{nil, "ready"},
		{memoryState("ready"), "ready"},
		{memoryState("uninitialized"), "degraded"},
	}
	for _, tc := range cases {
		ts := newTestServer(t, echoCompleter{}, nil, Status{MemoryBackend: "chromem", Memory: tc.memory})
		res, err := http.Get(ts.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz error = %v", err)
		}
		var payload map[string]any
		_ = json.NewDecoder(res.Body).Decode(&payload)
		res.Body.Close()
		if payload["status"] != tc.want {
			t.Fatalf("readyz = %+v, want status %s", payload, tc.want)
		}
	}
}

func TestSessionWebSocket(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, voice.NewMockTranscriber(), Status{})
	id := ts.createSession(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readType := func() map[string]any {
		t.Helper()
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	_ = conn.WriteJSON(protocol.UserText{Type: protocol.TypeUserText, SessionID: id, Text: "Hello"})
	if msg := readType(); msg["type"] != string(protocol.TypeAssistantReply) || msg["text"] != "echo: Hello" {
		t.Fatalf("reply = %+v", msg)
	}

	_ = conn.WriteJSON(protocol.UserAudio{
		Type:        protocol.TypeUserAudio,
		SessionID:   id,
		Format:      "audio/webm",
		AudioBase64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	})
	wantTypes := []protocol.MessageType{protocol.TypeTranscript, protocol.TypeAssistantReply, protocol.TypeAssistantAudio}
	for _, want := range wantTypes {
		if msg := readType(); msg["type"] != string(want) {
			t.Fatalf("message = %+v, want type %s", msg, want)
		}
	}

	_ = conn.WriteJSON(protocol.ClearHistory{Type: protocol.TypeClearHistory, SessionID: id})
	if msg := readType(); msg["type"] != string(protocol.TypeHistoryCleared) {
		t.Fatalf("message = %+v, want history_cleared", msg)
	}
	if turns, _ := ts.sessions.Turns(id); len(turns) != 0 {
		t.Fatalf("history after clear = %+v", turns)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
	if msg := readType(); msg["type"] != string(protocol.TypeErrorEvent) || msg["code"] != "invalid_client_message" {
		t.Fatalf("message = %+v, want invalid_client_message", msg)
	}
}

func TestUIRoutes(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, nil, Status{})

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if got := rootRes.Header.Get("Location"); got != "/ui/" {
		t.Fatalf("GET / location = %q, want %q", got, "/ui/")
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	if uiRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /ui/ status = %d, want %d", uiRes.StatusCode, http.StatusOK)
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if !strings.Contains(body.String(), `id="clear"`) {
		t.Fatalf("GET /ui/ body missing clear button")
	}
}

func TestPerfLatencyReportsTurnStages(t *testing.T) {
	ts := newTestServer(t, echoCompleter{}, nil, Status{})
	id := ts.createSession(t)
	if code := postJSON(t, ts.URL+"/v1/chat/session/"+id+"/message", messageRequest{Text: "hi"}, nil); code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	var snap observability.LatencySnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	seen := map[string]bool{}
	for _, s := range snap.Stages {
		seen[s.Stage] = true
	}
	if !seen[observability.StageCompletion] || !seen[observability.StageTurnTotal] {
		t.Fatalf("stages = %+v, want completion and turn_total", snap.Stages)
	}
}
