//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/app"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/server"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/testutil"
)

func durableConfig(dir string) *config.Config {
	cfg := testutil.TestConfig()
	cfg.Memory.Driver = "sqlite"
	cfg.Memory.Path = filepath.Join(dir, "memory.db")
	cfg.State.Driver = "sqlite"
	cfg.State.Path = filepath.Join(dir, "state.db")
	return cfg
}

func startServer(t *testing.T, cfg *config.Config, mock *testutil.MockProvider) (*httptest.Server, *app.App) {
	t.Helper()
	a, err := app.New(cfg, app.Options{Provider: mock, Logger: testutil.TestLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.New(cfg, a.Service, a.Bus, a.Metrics, a.Logger).Handler())
	return ts, a
}

func chat(t *testing.T, url string, req agent.ChatRequest) agent.ChatResult {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(url+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res agent.ChatResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestMemoryPersistenceAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	cfg := durableConfig(dir)

	// --- Run 1: the model stores a preference ---
	mock1 := &testutil.MockProvider{}
	mock1.Responses = append(mock1.Responses,
		testutil.ToolResponse([3]string{"call-1", "upsert_memory", `{"content":"User's favorite color is blue","context":"stated directly"}`}),
		testutil.TextResponse("Got it."),
	)
	ts1, app1 := startServer(t, cfg, mock1)
	chat(t, ts1.URL, agent.ChatRequest{ThreadID: "first", UserID: "alice", Messages: []state.Message{{Role: state.RoleUser, Content: "My favorite color is blue."}}})
	ts1.Close()
	if err := app1.Close(); err != nil {
		t.Fatal(err)
	}

	// --- Run 2: a new process primes a new thread with the stored memory ---
	mock2 := &testutil.MockProvider{}
	mock2.Responses = append(mock2.Responses, testutil.TextResponse("Blue."))
	ts2, app2 := startServer(t, cfg, mock2)
	defer ts2.Close()
	defer app2.Close()

	res := chat(t, ts2.URL, agent.ChatRequest{ThreadID: "second", UserID: "alice", Messages: []state.Message{{Role: state.RoleUser, Content: "What's my favorite color?"}}})
	if res.Reply != "Blue." {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if sys := mock2.LastCall().System; !strings.Contains(sys, "<memories>") || !strings.Contains(sys, "favorite color is blue") {
		t.Errorf("expected the stored memory in the system prompt, got %q", sys)
	}

	// The first thread's checkpoint survived too.
	resp, err := http.Get(ts2.URL + "/threads/first")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var cp state.Checkpoint
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		t.Fatal(err)
	}
	if len(cp.Messages) != 4 {
		t.Errorf("expected 4 persisted messages, got %d", len(cp.Messages))
	}
}
