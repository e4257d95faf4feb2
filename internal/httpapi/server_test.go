package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/pitchcoach/internal/brain"
	"github.com/antoniostano/pitchcoach/internal/coach"
	"github.com/antoniostano/pitchcoach/internal/config"
	"github.com/antoniostano/pitchcoach/internal/exchange"
	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/history"
	"github.com/antoniostano/pitchcoach/internal/observability"
	"github.com/antoniostano/pitchcoach/internal/protocol"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/session"
	"github.com/antoniostano/pitchcoach/internal/voice"
)

func newTestServer(t *testing.T, metrics *observability.Metrics) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		HistoryPageLimit:         50,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	mock := brain.NewMock()
	ex := exchange.New(mock, time.Second, nil, metrics)
	scorer := feedback.NewScorer(mock, time.Second, nil, metrics)
	store := history.NewInMemoryStore()
	synth := voice.NewMockSynthesizer()
	svc := coach.NewService(coach.ServiceDeps{
		Exchange:    ex,
		Scorer:      scorer,
		History:     store,
		Sessions:    sessions,
		Synthesizer: synth,
		Metrics:     metrics,
	})
	srv := New(cfg, Deps{
		Sessions:    sessions,
		Coach:       svc,
		Exchange:    ex,
		Scorer:      scorer,
		History:     store,
		Synthesizer: synth,
		Metrics:     metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateAndDestroySession(t *testing.T) {
	ts, sessions := newTestServer(t, nil)

	res := postJSON(t, ts.URL+"/v1/sessions", map[string]string{"user_id": "user-1", "scenario": "demo_pitch"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	decodeBody(t, res, &created)
	if created.SessionID == "" || created.ConversationID == "" {
		t.Fatalf("missing ids in create response: %+v", created)
	}
	if created.OpeningLine != scenario.OpeningLine("demo_pitch") {
		t.Fatalf("opening_line = %q", created.OpeningLine)
	}

	res = postJSON(t, ts.URL+"/v1/sessions/"+created.SessionID+"/destroy", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("destroy status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var destroyed map[string]any
	decodeBody(t, res, &destroyed)
	if destroyed["success"] != true {
		t.Fatalf("destroy response = %+v", destroyed)
	}
	sess, err := sessions.Get(created.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Status != session.StatusEnded || sess.EndReason != session.ReasonDestroyed {
		t.Fatalf("session status=%s reason=%q", sess.Status, sess.EndReason)
	}

	// Destroy is best effort.
	res = postJSON(t, ts.URL+"/v1/sessions/unknown/destroy", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("destroy unknown status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	res, err := http.Post(ts.URL+"/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	var created session.CreateResponse
	decodeBody(t, res, &created)
	if created.UserID != "anonymous" || created.Scenario != "cold_calling" {
		t.Fatalf("defaults = %q/%q, want anonymous/cold_calling", created.UserID, created.Scenario)
	}
}

func TestUIRoutes(t *testing.T) {
	ts, _ := newTestServer(t, nil)

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
	if !strings.Contains(body.String(), "id=\"transcript\"") {
		t.Fatalf("GET /ui/ body missing expected content")
	}
	for _, want := range []string{"capture_id", "recognizer.abort()"} {
		if !strings.Contains(body.String(), want) {
			t.Fatalf("GET /ui/ client missing %q", want)
		}
	}
}

func TestScenarioRoutes(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	res, err := http.Get(ts.URL + "/v1/scenarios")
	if err != nil {
		t.Fatalf("GET /v1/scenarios error = %v", err)
	}
	defer res.Body.Close()
	var list struct {
		Scenarios []scenario.Scenario `json:"scenarios"`
	}
	decodeBody(t, res, &list)
	if len(list.Scenarios) != 3 {
		t.Fatalf("scenarios = %d, want 3", len(list.Scenarios))
	}

	missing, err := http.Get(ts.URL + "/v1/scenarios/negotiation")
	if err != nil {
		t.Fatalf("GET unknown scenario error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown scenario status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestChatEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	bad := postJSON(t, ts.URL+"/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "narrator", "content": "hi"}},
	})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid role status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}

	res := postJSON(t, ts.URL+"/v1/chat", map[string]any{
		"scenario": "upsell",
		"messages": []map[string]string{
			{"role": "assistant", "content": scenario.OpeningLine("upsell")},
			{"role": "user", "content": "Can I show you our analytics add-on?"},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var out map[string]string
	decodeBody(t, res, &out)
	if strings.TrimSpace(out["message"]) == "" {
		t.Fatalf("chat response = %+v, want message", out)
	}
}

func TestTTSEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	bad := postJSON(t, ts.URL+"/v1/tts", map[string]string{"text": "  "})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}

	res := postJSON(t, ts.URL+"/v1/tts", map[string]string{"text": "Thanks for your time."})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tts status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := res.Header.Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("content type = %q, want audio/wav", got)
	}
}

func TestFeedbackPersistsAndUserDataDeletes(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	short := postJSON(t, ts.URL+"/v1/feedback", map[string]any{
		"scenario": "cold_calling",
		"user_id":  "user-7",
		"messages": []map[string]string{{"role": "assistant", "content": "Hello?"}},
	})
	if short.StatusCode != http.StatusBadRequest {
		t.Fatalf("short transcript status = %d, want %d", short.StatusCode, http.StatusBadRequest)
	}

	res := postJSON(t, ts.URL+"/v1/feedback", map[string]any{
		"scenario":        "cold_calling",
		"user_id":         "user-7",
		"conversation_id": "conv-7",
		"messages": []map[string]string{
			{"role": "assistant", "content": "Hello?"},
			{"role": "user", "content": "Hi, this is Sam from Acme."},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("feedback status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var fb feedback.Feedback
	decodeBody(t, res, &fb)
	if fb.Score != feedback.Default().Score {
		t.Fatalf("score = %d, want default %d", fb.Score, feedback.Default().Score)
	}

	latest, err := http.Get(ts.URL + "/v1/users/user-7/conversations/latest")
	if err != nil {
		t.Fatalf("GET latest error = %v", err)
	}
	defer latest.Body.Close()
	var conv history.Conversation
	decodeBody(t, latest, &conv)
	if conv.ID != "conv-7" || len(conv.Messages) != 2 || conv.Score == nil {
		t.Fatalf("latest conversation = %+v", conv)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/users/user-7/data", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE user data error = %v", err)
	}
	defer del.Body.Close()
	var deleted map[string]any
	decodeBody(t, del, &deleted)
	if deleted["conversations_deleted"] != float64(1) {
		t.Fatalf("delete response = %+v", deleted)
	}

	gone, err := http.Get(ts.URL + "/v1/users/user-7/conversations/conv-7")
	if err != nil {
		t.Fatalf("GET conversation error = %v", err)
	}
	defer gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted conversation status = %d, want %d", gone.StatusCode, http.StatusNotFound)
	}
}

func TestSessionWebsocket(t *testing.T) {
	ts, sessions := newTestServer(t, nil)
	sess := sessions.Create("user-1", "cold_calling")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	readUntil := func(what string, match func(map[string]any) bool) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("waiting for %s: %v", what, err)
			}
			if match(msg) {
				return
			}
		}
	}

	_ = conn.WriteJSON(protocol.ClientHello{Type: protocol.TypeClientHello, SessionID: sess.ID, SpeechSupported: false})
	readUntil("speech_unsupported", func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSystemEvent) && m["code"] == "speech_unsupported"
	})

	_ = conn.WriteJSON(map[string]any{"type": "bogus", "session_id": sess.ID})
	readUntil("invalid message error", func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeErrorEvent) && m["code"] == "invalid_client_message"
	})

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sess.ID, Action: protocol.ActionEndSession})
	readUntil("session_ended", func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSystemEvent) && m["code"] == "session_ended"
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := sessions.Get(sess.ID)
		if got.Status == session.StatusEnded {
			if got.EndReason != session.ReasonEndRequested {
				t.Fatalf("end reason = %q, want %q", got.EndReason, session.ReasonEndRequested)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session not ended after end_session")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	ts, _ := newTestServer(t, metrics)

	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	var ready map[string]any
	decodeBody(t, res, &ready)
	if ready["status"] != "ready" || ready["history_store"] != "in-memory" {
		t.Fatalf("readyz = %+v", ready)
	}

	postJSON(t, ts.URL+"/v1/sessions", map[string]string{"user_id": "user-1"})
	mres, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer mres.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(mres.Body)
	if !strings.Contains(body.String(), "session_events_total") {
		t.Fatalf("metrics output missing session_events_total")
	}
}

type failingWSConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *failingWSConn) SetWriteDeadline(time.Time) error { return nil }

func (c *failingWSConn) WriteJSON(any) error { return errors.New("broken pipe") }

func (c *failingWSConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *failingWSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestWriteLoopClosesConnOnWriteError(t *testing.T) {
	srv := New(config.Config{}, Deps{})
	conn := &failingWSConn{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan any, 1)
	outbound <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: "s1", Code: "hello"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.writeLoop(ctx, conn, outbound, make(chan struct{}), cancel)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("writeLoop did not return after write error")
	}

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatalf("conn not closed after write error")
	}
	if ctx.Err() == nil {
		t.Fatalf("context not cancelled after write error")
	}
}
