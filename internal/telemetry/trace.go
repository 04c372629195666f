package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type traceKey struct{}

// TurnTrace carries correlation IDs for one conversation turn.
type TurnTrace struct {
	TurnID   string `json:"turn_id"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id,omitempty"`
	SpanID   string `json:"span_id"`
	ParentID string `json:"parent_id,omitempty"`
	Step     string `json:"step,omitempty"`
}

// NewTurnTrace creates a root trace for a turn on threadID.
func NewTurnTrace(threadID, userID string) *TurnTrace {
	return &TurnTrace{
		TurnID:   randomID(),
		ThreadID: threadID,
		UserID:   userID,
		SpanID:   randomID(),
	}
}

// ChildSpan creates a child span for a named step inside the same turn.
func (tt *TurnTrace) ChildSpan(step string) *TurnTrace {
	return &TurnTrace{
		TurnID:   tt.TurnID,
		ThreadID: tt.ThreadID,
		UserID:   tt.UserID,
		SpanID:   randomID(),
		ParentID: tt.SpanID,
		Step:     step,
	}
}

// Fields returns key-value pairs suitable for structured logging.
func (tt *TurnTrace) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"turn_id":   tt.TurnID,
		"thread_id": tt.ThreadID,
		"span_id":   tt.SpanID,
	}
	if tt.UserID != "" {
		fields["user_id"] = tt.UserID
	}
	if tt.ParentID != "" {
		fields["parent_id"] = tt.ParentID
	}
	if tt.Step != "" {
		fields["step"] = tt.Step
	}
	return fields
}

// ContextWithTrace stores a TurnTrace in the context.
func ContextWithTrace(ctx context.Context, tt *TurnTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, tt)
}

// TraceFromContext extracts a TurnTrace from the context, or nil.
func TraceFromContext(ctx context.Context) *TurnTrace {
	tt, _ := ctx.Value(traceKey{}).(*TurnTrace)
	return tt
}

// WithTrace returns a logger enriched with trace fields from the context.
func (l *Logger) WithTrace(ctx context.Context) *Logger {
	tt := TraceFromContext(ctx)
	if tt == nil {
		return l
	}
	return l.WithFields(tt.Fields())
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
