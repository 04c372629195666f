package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/cadre-oss/memchat"

// Counter names double as the keys of GetSummary.
const (
	turnsStarted    = "turns_started"
	turnsCompleted  = "turns_completed"
	turnsFailed     = "turns_failed"
	activeTurns     = "active_turns"
	modelRequests   = "model_requests"
	toolCalls       = "tool_calls"
	toolFailures    = "tool_failures"
	memoryWrites    = "memory_writes"
	memorySearches  = "memory_searches"
	primingFailures = "priming_failures"

	turnDuration = "turn_duration_ms"
	modelLatency = "model_latency_ms"
)

var summaryCounters = []string{
	turnsStarted, turnsCompleted, turnsFailed, activeTurns,
	modelRequests, toolCalls, toolFailures,
	memoryWrites, memorySearches, primingFailures,
}

// Metrics records turn, model, tool and memory activity on an OpenTelemetry
// meter. A manual reader backs GetSummary and the JSONL exporter.
type Metrics struct {
	mu       sync.RWMutex
	reader   *sdkmetric.ManualReader
	counters map[string]metric.Int64Counter
	active   metric.Int64UpDownCounter
	turnDur  metric.Float64Histogram
	modelLat metric.Float64Histogram

	exporter MetricsExporter
}

// NewMetrics creates a collector with its own meter provider.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.build()
	return m
}

// build creates a fresh provider and instruments. Callers hold mu or own m.
func (m *Metrics) build() {
	m.reader = sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(m.reader)).Meter(meterName)

	m.counters = make(map[string]metric.Int64Counter, len(summaryCounters))
	for _, name := range summaryCounters {
		if name == activeTurns {
			continue
		}
		c, err := meter.Int64Counter(name)
		if err != nil {
			c = noop.Int64Counter{}
		}
		m.counters[name] = c
	}

	var err error
	if m.active, err = meter.Int64UpDownCounter(activeTurns); err != nil {
		m.active = noop.Int64UpDownCounter{}
	}
	if m.turnDur, err = meter.Float64Histogram(turnDuration, metric.WithUnit("ms")); err != nil {
		m.turnDur = noop.Float64Histogram{}
	}
	if m.modelLat, err = meter.Float64Histogram(modelLatency, metric.WithUnit("ms")); err != nil {
		m.modelLat = noop.Float64Histogram{}
	}
}

func (m *Metrics) add(name string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.counters[name].Add(context.Background(), 1)
}

func (m *Metrics) addActive(delta int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.active.Add(context.Background(), delta)
}

// IncTurnsStarted counts a turn and marks it active.
func (m *Metrics) IncTurnsStarted() {
	m.add(turnsStarted)
	m.addActive(1)
}

// IncTurnsCompleted counts a finished turn.
func (m *Metrics) IncTurnsCompleted() {
	m.add(turnsCompleted)
	m.addActive(-1)
}

// IncTurnsFailed counts a failed turn.
func (m *Metrics) IncTurnsFailed() {
	m.add(turnsFailed)
	m.addActive(-1)
}

func (m *Metrics) IncModelRequests()   { m.add(modelRequests) }
func (m *Metrics) IncToolCalls()       { m.add(toolCalls) }
func (m *Metrics) IncToolFailures()    { m.add(toolFailures) }
func (m *Metrics) IncMemoryWrites()    { m.add(memoryWrites) }
func (m *Metrics) IncMemorySearches()  { m.add(memorySearches) }
func (m *Metrics) IncPrimingFailures() { m.add(primingFailures) }

// RecordTurnDuration records the wall time of one turn.
func (m *Metrics) RecordTurnDuration(d time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.turnDur.Record(context.Background(), millis(d))
}

// RecordModelLatency records a model call latency.
func (m *Metrics) RecordModelLatency(d time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.modelLat.Record(context.Background(), millis(d))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// GetSummary collects the current values. Every counter is present; the
// averages only once something was recorded.
func (m *Metrics) GetSummary() map[string]interface{} {
	m.mu.RLock()
	reader := m.reader
	m.mu.RUnlock()

	summary := make(map[string]interface{}, len(summaryCounters)+2)
	for _, name := range summaryCounters {
		summary[name] = int64(0)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		return summary
	}

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				summary[md.Name] = total
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				if count > 0 {
					summary["avg_"+md.Name] = int64(sum / float64(count))
				}
			}
		}
	}
	return summary
}

// Reset starts over on a new meter provider.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.build()
}

// SetExporter attaches a metrics exporter.
func (m *Metrics) SetExporter(e MetricsExporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exporter = e
}

// Flush exports the current counters for a turn that ended with event.
// The turn identity is read from the trace in ctx.
func (m *Metrics) Flush(ctx context.Context, event string) error {
	m.mu.RLock()
	exporter := m.exporter
	m.mu.RUnlock()

	if exporter == nil {
		return nil
	}

	snapshot := MetricsSnapshot{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Metrics:   m.GetSummary(),
	}
	if tt := TraceFromContext(ctx); tt != nil {
		snapshot.TurnID = tt.TurnID
		snapshot.ThreadID = tt.ThreadID
		snapshot.UserID = tt.UserID
	}
	return exporter.Export(snapshot)
}
