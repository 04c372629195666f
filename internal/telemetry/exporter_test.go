package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// nopCloser adapts a buffer to io.WriteCloser.
type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func readSnapshots(t *testing.T, data []byte) []MetricsSnapshot {
	t.Helper()
	var out []MetricsSnapshot
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var s MetricsSnapshot
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		out = append(out, s)
	}
	return out
}

func TestJSONFileExporter_Appends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".memchat", "metrics.jsonl")

	for _, event := range []string{"turn.completed", "turn.failed"} {
		exporter, err := NewJSONFileExporter(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := exporter.Export(MetricsSnapshot{
			Timestamp: time.Now(),
			Event:     event,
			ThreadID:  "t-1",
			Metrics:   map[string]interface{}{"tool_calls": int64(12)},
		}); err != nil {
			t.Fatal(err)
		}
		if err := exporter.Close(); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	snaps := readSnapshots(t, data)
	if len(snaps) != 2 {
		t.Fatalf("expected 2 JSONL lines across reopen, got %d", len(snaps))
	}
	if snaps[0].Event != "turn.completed" || snaps[1].Event != "turn.failed" {
		t.Errorf("unexpected order %q, %q", snaps[0].Event, snaps[1].Event)
	}
}

func TestMetrics_FlushTagsTurn(t *testing.T) {
	var buf bytes.Buffer
	m := NewMetrics()
	m.SetExporter(NewJSONLExporter(nopCloser{&buf}))
	m.IncTurnsStarted()
	m.IncTurnsCompleted()

	tt := NewTurnTrace("thread-9", "alice")
	if err := m.Flush(ContextWithTrace(context.Background(), tt), "turn.completed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Flush(context.Background(), "turn.failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps := readSnapshots(t, buf.Bytes())
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	first := snaps[0]
	if first.ThreadID != "thread-9" || first.UserID != "alice" || first.TurnID != tt.TurnID {
		t.Errorf("expected turn identity on snapshot, got %+v", first)
	}
	if v, ok := first.Metrics["turns_completed"].(float64); !ok || v != 1 {
		t.Errorf("expected turns_completed 1, got %v", first.Metrics["turns_completed"])
	}
	if snaps[1].ThreadID != "" {
		t.Errorf("untraced flush should carry no thread, got %q", snaps[1].ThreadID)
	}
}

type failingExporter struct{}

func (failingExporter) Export(MetricsSnapshot) error { return errors.New("disk full") }
func (failingExporter) Close() error                 { return nil }

func TestMetrics_FlushReportsExportError(t *testing.T) {
	m := NewMetrics()
	m.SetExporter(failingExporter{})
	if err := m.Flush(context.Background(), "turn.completed"); err == nil {
		t.Fatal("expected export error")
	}
}

func TestMetrics_SummaryAndReset(t *testing.T) {
	m := NewMetrics()
	m.IncTurnsStarted()
	m.IncTurnsFailed()
	m.IncModelRequests()
	m.IncToolCalls()
	m.IncToolFailures()
	m.IncMemoryWrites()
	m.IncMemorySearches()
	m.IncPrimingFailures()
	m.RecordModelLatency(20 * time.Millisecond)
	m.RecordTurnDuration(40 * time.Millisecond)

	s := m.GetSummary()
	if s["turns_failed"] != int64(1) || s["active_turns"] != int64(0) {
		t.Errorf("unexpected turn counters: %v", s)
	}
	if s["priming_failures"] != int64(1) {
		t.Errorf("expected priming_failures 1, got %v", s["priming_failures"])
	}
	if s["avg_model_latency_ms"] != int64(20) {
		t.Errorf("expected avg_model_latency_ms 20, got %v", s["avg_model_latency_ms"])
	}

	m.Reset()
	s = m.GetSummary()
	if s["tool_calls"] != int64(0) {
		t.Errorf("expected reset tool_calls, got %v", s["tool_calls"])
	}
	if _, ok := s["avg_turn_duration_ms"]; ok {
		t.Error("expected duration stats cleared by Reset")
	}
}

func TestMetrics_FlushWithoutExporter(t *testing.T) {
	m := NewMetrics()
	if err := m.Flush(context.Background(), "turn.completed"); err != nil {
		t.Errorf("expected nil without exporter, got %v", err)
	}
}
