package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadre-oss/memchat/internal/telemetry"
)

// Bus dispatches turn events to registered hooks.
//
// Blocking hooks run in registration order on the caller's goroutine and
// their first error is returned, which lets a hook on turn.started veto a
// turn. Non-blocking hooks run on their own goroutines; their failures and
// panics are only logged. Drain waits for those deliveries. A nil Bus is a
// no-op.
type Bus struct {
	mu       sync.RWMutex
	hooks    []Hook
	logger   Logger
	inflight sync.WaitGroup
}

// Logger is a minimal logging interface so hooks can log without
// depending on a concrete logger.
type Logger interface {
	Warn(msg string, keyvals ...interface{})
}

// NewBus creates an event bus. Pass nil logger for silent operation.
func NewBus(logger Logger) *Bus {
	return &Bus{logger: logger}
}

// Register adds a hook to the bus.
func (b *Bus) Register(h Hook) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, h)
}

// Unregister removes every hook with the given name.
func (b *Bus) Unregister(name string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.hooks[:0]
	for _, h := range b.hooks {
		if h.Name() != name {
			kept = append(kept, h)
		}
	}
	b.hooks = kept
}

// Publish emits an event tagged with the turn identifiers carried by ctx.
// Keys already present in data win.
func (b *Bus) Publish(ctx context.Context, t EventType, data map[string]interface{}) error {
	if b == nil {
		return nil
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	if tt := telemetry.TraceFromContext(ctx); tt != nil {
		tag(data, "thread_id", tt.ThreadID)
		tag(data, "turn_id", tt.TurnID)
		tag(data, "user_id", tt.UserID)
	}
	return b.Emit(NewEvent(t, data))
}

func tag(data map[string]interface{}, key, value string) {
	if _, ok := data[key]; !ok && value != "" {
		data[key] = value
	}
}

// Emit dispatches an event to all matching hooks and returns the first
// blocking hook error.
func (b *Bus) Emit(ev Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	hooks := make([]Hook, len(b.hooks))
	copy(hooks, b.hooks)
	b.mu.RUnlock()

	for _, h := range hooks {
		if !h.Matches(ev.Type) {
			continue
		}
		if h.IsBlocking() {
			if err := h.Handle(ev); err != nil {
				return fmt.Errorf("blocking hook %s failed: %w", h.Name(), err)
			}
			continue
		}
		b.inflight.Add(1)
		go b.deliver(h, ev)
	}
	return nil
}

func (b *Bus) deliver(h Hook, ev Event) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.warn("Non-blocking hook panicked", h, ev, "panic", r)
		}
	}()
	if err := h.Handle(ev); err != nil {
		b.warn("Non-blocking hook failed", h, ev, "error", err)
	}
}

func (b *Bus) warn(msg string, h Hook, ev Event, key string, value interface{}) {
	if b.logger == nil {
		return
	}
	b.logger.Warn(msg, "hook", h.Name(), "event", string(ev.Type), key, value)
}

// Drain waits until every non-blocking delivery started so far has
// finished, or ctx is done.
func (b *Bus) Drain(ctx context.Context) error {
	if b == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
