package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.TestHarness) {
	t.Helper()
	h := testutil.NewTestHarness(t)
	runtime := agent.NewRuntime(h.Provider, h.Memory, h.EventBus, h.Logger, h.Metrics, agent.OptionsFromConfig(h.Config))
	svc := agent.NewService(h.Config, runtime, h.StateMgr, h.EventBus, h.Logger, h.Metrics)
	return New(h.Config, svc, h.EventBus, h.Metrics, h.Logger), h
}

func postChat(t *testing.T, handler http.Handler, req agent.ChatRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	return w
}

func userMsg(content string) state.Message {
	return state.Message{Role: state.RoleUser, Content: content}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestChat(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetResponses(testutil.TextResponse("Hello there."))

	w := postChat(t, srv.Handler(), agent.ChatRequest{ThreadID: "t1", UserID: "alice", Messages: []state.Message{userMsg("hi")}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res agent.ChatResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ThreadID != "t1" || res.Reply != "Hello there." || len(res.Messages) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestChat_Errors(t *testing.T) {
	srv, h := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}

	w = postChat(t, srv.Handler(), agent.ChatRequest{ThreadID: "empty"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty conversation: expected 400, got %d", w.Code)
	}

	w = postChat(t, srv.Handler(), agent.ChatRequest{Messages: []state.Message{{Role: state.RoleTool, Content: "x", ToolCallID: "nope"}}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("orphan tool message: expected 400, got %d", w.Code)
	}

	h.Provider.ShouldFail = true
	w = postChat(t, srv.Handler(), agent.ChatRequest{Messages: []state.Message{userMsg("hi")}})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("inference failure: expected 500, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["code"] != "INFERENCE" || body["error"] == "" {
		t.Errorf("expected an INFERENCE error body, got %v", body)
	}
}

func TestThreads(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetResponses(testutil.TextResponse("one"), testutil.TextResponse("two"))
	handler := srv.Handler()

	postChat(t, handler, agent.ChatRequest{ThreadID: "a", Messages: []state.Message{userMsg("first")}})
	postChat(t, handler, agent.ChatRequest{ThreadID: "b", Messages: []state.Message{userMsg("second")}})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads", nil))
	var list []state.ThreadSummary
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(list))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads?limit=0", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/threads/a", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cp state.Checkpoint
	if err := json.NewDecoder(w.Body).Decode(&cp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.ThreadID != "a" || len(cp.Messages) != 2 || cp.Messages[1].Content != "one" {
		t.Errorf("unexpected checkpoint %+v", cp)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/threads/a", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(method, "/threads/a", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s deleted thread: expected 404, got %d", method, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetResponses(testutil.TextResponse("ok"))
	postChat(t, srv.Handler(), agent.ChatRequest{Messages: []state.Message{userMsg("hi")}})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "turns_completed") {
		t.Errorf("expected turn counters in %s", w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	srv, h := newTestServer(t)
	h.Config.Server.AllowedOrigins = []string{"https://app.example.com"}
	srv = New(h.Config, srv.chat, h.EventBus, h.Metrics, h.Logger)

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allowed origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header for foreign origin, got %q", got)
	}
}

func TestBroker_FiltersByThread(t *testing.T) {
	b := NewBroker(testutil.TestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := b.Subscribe(ctx, "all", "")
	one := b.Subscribe(ctx, "one", "t1")

	b.Broadcast(SSEEvent{Type: "turn.started", ThreadID: "t2"})
	b.Broadcast(SSEEvent{Type: "turn.completed", ThreadID: "t1"})

	if got := len(all.Events); got != 2 {
		t.Errorf("expected 2 events for unfiltered client, got %d", got)
	}
	if got := len(one.Events); got != 1 {
		t.Fatalf("expected 1 event for filtered client, got %d", got)
	}
	if ev := <-one.Events; ev.ThreadID != "t1" {
		t.Errorf("unexpected event %+v", ev)
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-one.Events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("expected events channel to close after cancellation")
		}
	}
}

func TestBroker_DropsForSlowClient(t *testing.T) {
	b := NewBroker(testutil.TestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := b.Subscribe(ctx, "slow", "t1")
	for i := 0; i < clientBuffer+3; i++ {
		b.Broadcast(SSEEvent{Type: "turn.started", ThreadID: "t1"})
	}
	if got := len(c.Events); got != clientBuffer {
		t.Errorf("expected a full buffer of %d, got %d", clientBuffer, got)
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped events, got %d", got)
	}
}

func TestSSE_StreamsTurnEvents(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetResponses(testutil.TextResponse("streamed"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/sse-thread", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(first, "connected") {
		t.Fatalf("expected connected event, got %q (%v)", first, err)
	}

	postChat(t, srv.Handler(), agent.ChatRequest{ThreadID: "sse-thread", Messages: []state.Message{userMsg("hi")}})

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before turn.completed: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev SSEEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.ThreadID != "sse-thread" {
			t.Fatalf("unexpected thread on filtered stream: %+v", ev)
		}
		if ev.Type == "turn.completed" {
			return
		}
	}
}

func TestWebSocket(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetResponses(testutil.TextResponse("first"), testutil.TextResponse("second"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(agent.ChatRequest{ThreadID: "ws", Messages: []state.Message{userMsg("one")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res agent.ChatResult
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reply != "first" || len(res.Messages) != 2 {
		t.Errorf("unexpected first result %+v", res)
	}

	if err := conn.WriteJSON(agent.ChatRequest{ThreadID: "ws", Messages: []state.Message{userMsg("two")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reply != "second" || len(res.Messages) != 4 {
		t.Errorf("unexpected second result %+v", res)
	}

	if err := conn.WriteJSON(agent.ChatRequest{ThreadID: "ws-empty"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var failure wsError
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failure.Code != "USAGE" {
		t.Errorf("expected USAGE, got %+v", failure)
	}
}
