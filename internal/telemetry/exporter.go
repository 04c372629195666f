package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MetricsExporter receives a snapshot at the end of every turn.
type MetricsExporter interface {
	Export(snapshot MetricsSnapshot) error
	Close() error
}

// MetricsSnapshot is the process counters as they stood when a turn ended.
type MetricsSnapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"` // turn.completed, turn.failed
	TurnID    string                 `json:"turn_id,omitempty"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Metrics   map[string]interface{} `json:"metrics"`
}

// JSONLExporter writes one snapshot per line.
type JSONLExporter struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

// NewJSONLExporter writes snapshots to w and closes it on Close.
func NewJSONLExporter(w io.WriteCloser) *JSONLExporter {
	return &JSONLExporter{w: w, enc: json.NewEncoder(w)}
}

// NewJSONFileExporter appends snapshots to the file at path, creating its
// directory as needed.
func NewJSONFileExporter(path string) (*JSONLExporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	return NewJSONLExporter(f), nil
}

// Export writes a snapshot. Encoder.Encode terminates each value with a
// newline.
func (e *JSONLExporter) Export(snapshot MetricsSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(snapshot)
}

// Close closes the underlying writer.
func (e *JSONLExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Close()
}
