// Package state holds conversation histories and their per-thread
// checkpoints.
package state

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message represents a conversation message
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// Checkpoint is the saved conversation of one thread.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id,omitempty"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThreadSummary describes a stored thread without its messages.
type ThreadSummary struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id,omitempty"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = CloneMessages(c.Messages)
	return &out
}

// Summary returns the thread summary of the checkpoint.
func (c *Checkpoint) Summary() ThreadSummary {
	return ThreadSummary{
		ThreadID:  c.ThreadID,
		UserID:    c.UserID,
		Messages:  len(c.Messages),
		UpdatedAt: c.UpdatedAt,
	}
}

// CloneMessages deep-copies msgs so the copy can be extended without
// touching the original.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				out[i].ToolCalls[j] = tc
				out[i].ToolCalls[j].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
	}
	return out
}
