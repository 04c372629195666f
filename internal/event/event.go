package event

import "time"

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Turn lifecycle
	TurnStarted   EventType = "turn.started"
	TurnCompleted EventType = "turn.completed"
	TurnFailed    EventType = "turn.failed"

	// Agent loop
	ModelRequest    EventType = "agent.model.request"
	AgentToolCall   EventType = "agent.tool.call"
	AgentToolResult EventType = "agent.tool.result"

	// Memory
	MemoryPrimed      EventType = "memory.primed"
	MemoryPrimeFailed EventType = "memory.prime_failed"

	// State
	StateCheckpoint EventType = "state.checkpoint"
)

// Event carries data about a lifecycle occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ParseTypes converts configured event names, dropping empty entries.
func ParseTypes(names []string) []EventType {
	types := make([]EventType, 0, len(names))
	for _, n := range names {
		if n != "" {
			types = append(types, EventType(n))
		}
	}
	return types
}
