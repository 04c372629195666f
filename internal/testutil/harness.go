package testutil

import (
	"testing"

	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/embedding"
	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// TestHarness provides everything needed for turn-level tests:
// config, checkpoints, memory, events, mock provider, and assertion helpers.
type TestHarness struct {
	T        *testing.T
	Config   *config.Config
	StateMgr *state.Manager
	Memory   *memory.Store
	EventBus *event.Bus
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Provider *MockProvider
	Recorder *event.RecorderHook
}

// NewTestHarness creates a test harness with an in-memory store and the
// hash embedder.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()
	return NewTestHarnessWithEmbedder(t, embedding.NewHashEmbedder(64))
}

// NewTestHarnessWithEmbedder lets a test swap the embedder, e.g. for one
// that fails.
func NewTestHarnessWithEmbedder(t *testing.T, emb embedding.Embedder) *TestHarness {
	t.Helper()

	logger := TestLogger()
	metrics := telemetry.NewMetrics()

	backend, err := memory.NewChromemStore("")
	if err != nil {
		t.Fatal(err)
	}
	store := memory.NewStore(backend, emb, logger, metrics)

	stateMgr, err := state.NewManager("memory", "", 0, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { stateMgr.Close() })

	bus := event.NewBus(logger)
	recorder := event.NewRecorderHook("test-capture", nil)
	bus.Register(recorder)

	return &TestHarness{
		T:        t,
		Config:   TestConfig(),
		StateMgr: stateMgr,
		Memory:   store,
		EventBus: bus,
		Logger:   logger,
		Metrics:  metrics,
		Provider: &MockProvider{},
		Recorder: recorder,
	}
}

// SetResponses queues mock provider responses.
func (h *TestHarness) SetResponses(responses ...*provider.Response) {
	h.Provider.Responses = responses
}

// AssertEventEmitted checks that an event with the given type was emitted.
func (h *TestHarness) AssertEventEmitted(eventType event.EventType) {
	h.T.Helper()
	if h.EventCount(eventType) == 0 {
		h.T.Errorf("expected event %q to be emitted", eventType)
	}
}

// AssertNoEvent checks that an event type was NOT emitted.
func (h *TestHarness) AssertNoEvent(eventType event.EventType) {
	h.T.Helper()
	if h.EventCount(eventType) > 0 {
		h.T.Errorf("expected event %q NOT to be emitted, but it was", eventType)
	}
}

// EventCount returns the number of events with the given type.
func (h *TestHarness) EventCount(eventType event.EventType) int {
	count := 0
	for _, t := range h.Recorder.Types() {
		if t == eventType {
			count++
		}
	}
	return count
}
