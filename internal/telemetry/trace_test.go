package telemetry

import (
	"context"
	"testing"
)

func TestTurnTrace_NewAndChild(t *testing.T) {
	root := NewTurnTrace("thread-1", "alice")

	if root.ThreadID != "thread-1" {
		t.Errorf("expected ThreadID 'thread-1', got %q", root.ThreadID)
	}
	if root.TurnID == "" {
		t.Error("expected non-empty TurnID")
	}
	if root.SpanID == "" {
		t.Error("expected non-empty SpanID")
	}
	if root.ParentID != "" {
		t.Error("expected empty ParentID for root")
	}

	child := root.ChildSpan("prime")
	if child.TurnID != root.TurnID {
		t.Error("child should inherit TurnID")
	}
	if child.ParentID != root.SpanID {
		t.Error("child ParentID should be parent's SpanID")
	}
	if child.SpanID == root.SpanID {
		t.Error("child should have a different SpanID")
	}
	if child.Step != "prime" {
		t.Errorf("expected step 'prime', got %q", child.Step)
	}
	if root.Step != "" {
		t.Error("original should not be modified")
	}
}

func TestTurnTrace_ContextPropagation(t *testing.T) {
	tt := NewTurnTrace("thread-2", "")
	ctx := ContextWithTrace(context.Background(), tt)

	extracted := TraceFromContext(ctx)
	if extracted == nil {
		t.Fatal("expected trace in context")
	}
	if extracted.ThreadID != "thread-2" {
		t.Errorf("expected ThreadID 'thread-2', got %q", extracted.ThreadID)
	}

	if TraceFromContext(context.Background()) != nil {
		t.Error("expected nil trace from empty context")
	}
}

func TestTurnTrace_Fields(t *testing.T) {
	tt := NewTurnTrace("thread-3", "bob").ChildSpan("model")

	fields := tt.Fields()
	if fields["thread_id"] != "thread-3" {
		t.Error("expected thread_id in fields")
	}
	if fields["user_id"] != "bob" {
		t.Error("expected user_id in fields")
	}
	if fields["step"] != "model" {
		t.Error("expected step in fields")
	}
	if _, ok := fields["parent_id"]; !ok {
		t.Error("expected parent_id in fields")
	}
}

func TestLogger_WithTrace(t *testing.T) {
	logger := NewLogger(true)
	ctx := ContextWithTrace(context.Background(), NewTurnTrace("thread-4", "u"))

	traced := logger.WithTrace(ctx)
	if traced == nil {
		t.Fatal("expected non-nil logger")
	}

	noTrace := logger.WithTrace(context.Background())
	if noTrace != logger {
		t.Fatal("expected the same logger without a trace")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
