package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

const clientBuffer = 64

// SSEEvent is one frame of the /events stream.
type SSEEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Client is one open event stream. A client with an empty ThreadID
// follows every thread.
type Client struct {
	ID       string
	ThreadID string
	Events   chan SSEEvent
}

// Broker fans bus events out to stream clients, indexed by thread. It is
// registered on the bus as a non-blocking hook, so a slow client loses
// frames instead of holding up a turn.
type Broker struct {
	mu      sync.RWMutex
	threads map[string]map[string]*Client
	dropped atomic.Int64
	logger  *telemetry.Logger
}

// NewBroker creates a broker with no clients.
func NewBroker(logger *telemetry.Logger) *Broker {
	return &Broker{threads: make(map[string]map[string]*Client), logger: logger}
}

// Subscribe opens a stream for threadID, or for every thread when it is
// empty. Events is closed once ctx is done.
func (b *Broker) Subscribe(ctx context.Context, clientID, threadID string) *Client {
	c := &Client{ID: clientID, ThreadID: threadID, Events: make(chan SSEEvent, clientBuffer)}

	b.mu.Lock()
	if b.threads[threadID] == nil {
		b.threads[threadID] = make(map[string]*Client)
	}
	b.threads[threadID][clientID] = c
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.threads[threadID], clientID)
		if len(b.threads[threadID]) == 0 {
			delete(b.threads, threadID)
		}
		close(c.Events)
	})
	return c
}

// Broadcast delivers ev to the clients of its thread and to the clients
// following all threads.
func (b *Broker) Broadcast(ev SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.send(b.threads[""], ev)
	if ev.ThreadID != "" {
		b.send(b.threads[ev.ThreadID], ev)
	}
}

func (b *Broker) send(clients map[string]*Client, ev SSEEvent) {
	for _, c := range clients {
		select {
		case c.Events <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Dropping event for slow stream client", "client", c.ID, "type", ev.Type)
		}
	}
}

// Dropped is the number of frames lost to full client buffers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broker) Name() string                   { return "sse-broker" }
func (b *Broker) Matches(_ event.EventType) bool { return true }
func (b *Broker) IsBlocking() bool               { return false }

// Handle routes a bus event by the thread_id the bus tagged it with.
func (b *Broker) Handle(ev event.Event) error {
	threadID, _ := ev.Data["thread_id"].(string)
	b.Broadcast(SSEEvent{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		ThreadID:  threadID,
		Data:      ev.Data,
	})
	return nil
}
