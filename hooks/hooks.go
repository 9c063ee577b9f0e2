// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/streamcodec/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

// NewLevelLogger creates a text logger on stderr at the named level
// ("debug", "info", "warn" or "error"; anything else means info).
func NewLevelLogger(level string) *SlogLogger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// nopHandler is a slog.Handler that silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var nop = NewSlogLogger(slog.New(nopHandler{}))

// NopLogger returns a logger that discards everything.  Sessions use it when
// no logger is configured.
func NopLogger() *SlogLogger { return nop }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each session operation.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeCall(_ context.Context, op string, info core.CallInfo) {
	h.logger.Debug("session.call.start",
		"op", op,
		"source", info.Name,
		"format", info.Format,
		"phase", info.Phase.String(),
	)
}

func (h *LoggingHook) AfterCall(_ context.Context, op string, info core.CallInfo, d time.Duration, res core.Result) {
	if res.Terminal() {
		h.logger.Error("session.call.error",
			"op", op,
			"source", info.Name,
			"duration_ms", d.Milliseconds(),
			"result", res.String(),
		)
		return
	}
	h.logger.Debug("session.call.done",
		"op", op,
		"source", info.Name,
		"duration_ms", d.Milliseconds(),
		"result", res.String(),
		"width", info.Width,
		"height", info.Height,
		"rows", info.Rows,
	)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	callDurationsMs map[string]int64 // cumulative ms per operation
	calls           map[string]int64 // call count per operation
	results         map[string]int64 // "op/result" → count

	totalBytes int64
	totalRows  int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		callDurationsMs: make(map[string]int64),
		calls:           make(map[string]int64),
		results:         make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordCallTime(op string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.callDurationsMs[op] += ms
	m.calls[op]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordBytes(n int64) {
	atomic.AddInt64(&m.totalBytes, n)
}

func (m *InMemoryMetrics) RecordRows(n int64) {
	atomic.AddInt64(&m.totalRows, n)
}

func (m *InMemoryMetrics) RecordResult(op string, result string) {
	m.mu.Lock()
	m.results[op+"/"+result]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		CallDurationsMs: make(map[string]int64, len(m.callDurationsMs)),
		Calls:           make(map[string]int64, len(m.calls)),
		Results:         make(map[string]int64, len(m.results)),
		TotalBytes:      atomic.LoadInt64(&m.totalBytes),
		TotalRows:       atomic.LoadInt64(&m.totalRows),
	}
	for k, v := range m.callDurationsMs {
		snap.CallDurationsMs[k] = v
	}
	for k, v := range m.calls {
		snap.Calls[k] = v
	}
	for k, v := range m.results {
		snap.Results[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	CallDurationsMs map[string]int64
	Calls           map[string]int64
	Results         map[string]int64
	TotalBytes      int64
	TotalRows       int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds session events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeCall(_ context.Context, _ string, _ core.CallInfo) {}

func (h *MetricsHook) AfterCall(_ context.Context, op string, _ core.CallInfo, d time.Duration, res core.Result) {
	h.collector.RecordCallTime(op, d)
	h.collector.RecordResult(op, res.String())
}
