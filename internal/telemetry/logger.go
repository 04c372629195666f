package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger is a structured logger over log/slog. Loggers derived with
// WithFields share their parent's outputs, so a file added later reaches
// them too.
type Logger struct {
	inner *slog.Logger
	out   *outputs
}

// outputs is the set of writers every record goes to.
type outputs struct {
	mu      sync.Mutex
	writers []io.Writer
	files   []*os.File
}

func (o *outputs) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.writers {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// NewLogger logs text to stderr, at debug level when verbose.
func NewLogger(verbose bool) *Logger {
	return NewLoggerWithOptions("info", "text", verbose)
}

// NewLoggerWithOptions builds a stderr logger from the logging section:
// level is debug, info, warn or error and format is text or json. verbose
// forces debug.
func NewLoggerWithOptions(level, format string, verbose bool) *Logger {
	lvl := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return NewWriterLogger(os.Stderr, lvl, strings.EqualFold(format, "json"))
}

// NewWriterLogger logs to w.
func NewWriterLogger(w io.Writer, level slog.Level, asJSON bool) *Logger {
	out := &outputs{writers: []io.Writer{w}}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if asJSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{inner: slog.New(h), out: out}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewWriterLogger(io.Discard, slog.LevelError+4, false)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithFile appends to the log file at path as an extra output, creating
// it and its directory if needed.
func (l *Logger) WithFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.out.mu.Lock()
	l.out.writers = append(l.out.writers, f)
	l.out.files = append(l.out.files, f)
	l.out.mu.Unlock()
	return nil
}

// WithFields returns a child logger that adds fields to every record.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{inner: l.inner.With(args...), out: l.out}
}

// Close closes the files added with WithFile and detaches them. Files are
// always the tail of the writer list.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	var first error
	for _, f := range l.out.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.out.writers = l.out.writers[:len(l.out.writers)-len(l.out.files)]
	l.out.files = nil
	return first
}

// Slog exposes the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.inner }

func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }
