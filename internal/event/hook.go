package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Hook receives bus events. A blocking hook runs inline with the emitter
// and its error is returned to it; a non-blocking hook runs in the
// background and its error is only logged.
type Hook interface {
	Name() string
	Matches(t EventType) bool
	IsBlocking() bool
	Handle(ev Event) error
}

// baseHook carries the name, the event filter and the blocking flag. An
// empty filter matches every event.
type baseHook struct {
	name     string
	events   []EventType
	blocking bool
}

func (h *baseHook) Name() string     { return h.name }
func (h *baseHook) IsBlocking() bool { return h.blocking }

func (h *baseHook) Matches(t EventType) bool {
	for _, ev := range h.events {
		if ev == t {
			return true
		}
	}
	return len(h.events) == 0
}

const defaultWebhookTimeout = 10 * time.Second

var webhookClient = &http.Client{}

// WebhookHook POSTs each event as JSON. Any non-2xx answer is an error.
type WebhookHook struct {
	baseHook
	URL     string
	Timeout time.Duration
}

func NewWebhookHook(name, url string, events []EventType, blocking bool) *WebhookHook {
	return &WebhookHook{
		baseHook: baseHook{name: name, events: events, blocking: blocking},
		URL:      url,
		Timeout:  defaultWebhookTimeout,
	}
}

func (h *WebhookHook) Handle(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook %s: failed to marshal event: %w", h.name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", h.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "memchat-webhook")
	req.Header.Set("X-Memchat-Event", string(ev.Type))

	resp, err := webhookClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s failed: %w", h.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook %s returned status %d", h.name, resp.StatusCode)
	}
	return nil
}

// FullLogger is the logger a LogHook needs for its debug and info levels.
type FullLogger interface {
	Logger
	Info(msg string, keyvals ...interface{})
	Debug(msg string, keyvals ...interface{})
}

// LogHook writes every matching event to the logger. It never blocks.
type LogHook struct {
	baseHook
	log func(msg string, keyvals ...interface{})
}

// NewLogHook logs at level: debug, warn, or info for anything else. A
// logger without Debug and Info logs at warn.
func NewLogHook(name string, events []EventType, logger Logger, level string) *LogHook {
	h := &LogHook{baseHook: baseHook{name: name, events: events}}
	switch fl := logger.(type) {
	case nil:
		h.log = func(string, ...interface{}) {}
	case FullLogger:
		switch level {
		case "debug":
			h.log = fl.Debug
		case "warn":
			h.log = fl.Warn
		default:
			h.log = fl.Info
		}
	default:
		h.log = logger.Warn
	}
	return h
}

func (h *LogHook) Handle(ev Event) error {
	keyvals := make([]interface{}, 0, 2+2*len(ev.Data))
	keyvals = append(keyvals, "event_type", string(ev.Type))
	for k, v := range ev.Data {
		keyvals = append(keyvals, k, v)
	}
	h.log("Event "+string(ev.Type), keyvals...)
	return nil
}

// RecorderHook keeps matching events in memory. It is blocking, so an
// event is recorded by the time Emit returns.
type RecorderHook struct {
	baseHook
	mu     sync.Mutex
	events []Event
}

func NewRecorderHook(name string, events []EventType) *RecorderHook {
	return &RecorderHook{baseHook: baseHook{name: name, events: events, blocking: true}}
}

func (h *RecorderHook) Handle(ev Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

// Events returns a copy of what was recorded.
func (h *RecorderHook) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Types returns the recorded event types in order.
func (h *RecorderHook) Types() []EventType {
	events := h.Events()
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// HookSpec is a hook as written in the hooks section of the config.
type HookSpec struct {
	Name     string
	Type     string // log or webhook
	Events   []string
	Blocking bool
	URL      string
	Level    string
}

// BuildHook constructs the hook a HookSpec describes.
func BuildHook(spec HookSpec, logger Logger) (Hook, error) {
	events := ParseTypes(spec.Events)
	switch spec.Type {
	case "log":
		return NewLogHook(spec.Name, events, logger, spec.Level), nil
	case "webhook":
		if spec.URL == "" {
			return nil, fmt.Errorf("webhook hook %s requires a url", spec.Name)
		}
		return NewWebhookHook(spec.Name, spec.URL, events, spec.Blocking), nil
	}
	return nil, fmt.Errorf("unknown hook type %q for hook %s", spec.Type, spec.Name)
}
