package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Conversation is an append-only message history. Tool calls of the last
// assistant message stay open until each is answered by exactly one tool
// message, and nothing else may be appended while any is open. A tool
// result therefore always follows its request or a sibling result.
type Conversation struct {
	messages []Message
	calls    map[string]bool
	open     map[string]bool
}

// NewConversation validates msgs and wraps a copy of them.
func NewConversation(msgs []Message) (*Conversation, error) {
	c := &Conversation{calls: make(map[string]bool), open: make(map[string]bool)}
	if err := c.Append(msgs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := CloneMessages(c.messages)
	if out == nil {
		out = []Message{}
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the last n messages, fewer when the history is shorter.
func (c *Conversation) Last(n int) []Message {
	if n > len(c.messages) {
		n = len(c.messages)
	}
	return CloneMessages(c.messages[len(c.messages)-n:])
}

// Append validates and appends msgs. Nothing is appended when any message
// is invalid.
func (c *Conversation) Append(msgs ...Message) error {
	calls := make(map[string]bool)
	open := make(map[string]bool, len(c.open))
	for id := range c.open {
		open[id] = true
	}
	known := func(id string) bool { return c.calls[id] || calls[id] }

	for i, m := range msgs {
		idx := c.Len() + i
		if err := validateMessage(m); err != nil {
			code := memErrors.CodeInvalidMessage
			if memErrors.HasCode(err, memErrors.CodeUsage) {
				code = memErrors.CodeUsage
			}
			return memErrors.Wrap(code, fmt.Sprintf("message %d", idx), err)
		}

		if m.Role == RoleTool {
			switch {
			case open[m.ToolCallID]:
				delete(open, m.ToolCallID)
			case !known(m.ToolCallID):
				return memErrors.Newf(memErrors.CodeInvalidMessage,
					"message %d: tool_call_id %q does not match any earlier tool call", idx, m.ToolCallID)
			default:
				return memErrors.Newf(memErrors.CodeInvalidMessage,
					"message %d: tool_call_id %q was already answered", idx, m.ToolCallID)
			}
			continue
		}

		if len(open) > 0 {
			return memErrors.Newf(memErrors.CodeInvalidMessage,
				"message %d: %s message before tool calls %s were answered", idx, m.Role, openIDs(open))
		}
		for _, tc := range m.ToolCalls {
			if known(tc.ID) {
				return memErrors.Newf(memErrors.CodeInvalidMessage, "message %d: duplicate tool call id %q", idx, tc.ID)
			}
			calls[tc.ID] = true
			open[tc.ID] = true
		}
	}

	for id := range calls {
		c.calls[id] = true
	}
	c.open = open
	c.messages = append(c.messages, CloneMessages(msgs)...)
	return nil
}

func openIDs(open map[string]bool) string {
	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return strings.Join(ids, ", ")
}

// Merge folds an incoming request history into the stored one. When
// incoming starts with the stored history it is treated as the full list
// and only its new suffix is appended; otherwise every incoming message is
// appended. The stored history is never rewritten.
func (c *Conversation) Merge(incoming []Message) error {
	if hasPrefix(incoming, c.messages) {
		return c.Append(incoming[len(c.messages):]...)
	}
	return c.Append(incoming...)
}

func validateMessage(m Message) error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("%s message cannot carry tool calls", m.Role)
		}
		if m.Role == RoleUser && strings.TrimSpace(m.Content) == "" {
			return memErrors.New(memErrors.CodeUsage, "user message content is empty")
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("assistant message cannot carry tool_call_id")
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				return fmt.Errorf("tool call requires id and name")
			}
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message requires tool_call_id")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

func hasPrefix(msgs, prefix []Message) bool {
	if len(prefix) == 0 || len(msgs) < len(prefix) {
		return len(prefix) == 0
	}
	for i := range prefix {
		if !sameMessage(msgs[i], prefix[i]) {
			return false
		}
	}
	return true
}

// sameMessage compares content fields only; timestamps are assigned on
// receipt and clients do not echo them reliably.
func sameMessage(a, b Message) bool {
	if a.Role != b.Role || a.Content != b.Content || a.ToolCallID != b.ToolCallID || len(a.ToolCalls) != len(b.ToolCalls) {
		return false
	}
	for i := range a.ToolCalls {
		x, y := a.ToolCalls[i], b.ToolCalls[i]
		if x.ID != y.ID || x.Name != y.Name || !jsonEqual(x.Arguments, y.Arguments) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
