package core

import (
	"context"
	"encoding/json"
	"expvar"
	"io"
	"sync"
	"time"
)

// DefaultExpvarName is the /debug/vars key the CLI publishes under.
const DefaultExpvarName = "racecore"

var expvarMu sync.Mutex

// ExpvarRecorder publishes per-operation outcome counts and total latency in
// milliseconds as one expvar map:
//
//	"racecore": {"record_finish": {"ok": 14, "conflict": 2, "ms": 3.61}, ...}
//
// Recorders created with the same name share the published map.
type ExpvarRecorder struct {
	name string
	ops  *expvar.Map
}

// NewExpvarRecorder returns a recorder publishing under name
// (DefaultExpvarName when empty). It panics if name is already published as
// something other than a map.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = DefaultExpvarName
	}
	expvarMu.Lock()
	defer expvarMu.Unlock()
	if m, ok := expvar.Get(name).(*expvar.Map); ok {
		return &ExpvarRecorder{name: name, ops: m}
	}
	m := new(expvar.Map).Init()
	expvar.Publish(name, m)
	return &ExpvarRecorder{name: name, ops: m}
}

// Name returns the expvar key.
func (r *ExpvarRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, err error, duration time.Duration) {
	if operation == "" {
		return
	}
	op := r.operation(operation)
	op.Add(Outcome(err), 1)
	op.AddFloat("ms", float64(duration)/float64(time.Millisecond))
}

// Count returns how many times operation ended with outcome.
func (r *ExpvarRecorder) Count(operation, outcome string) int64 {
	op, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		return 0
	}
	if n, ok := op.Get(outcome).(*expvar.Int); ok {
		return n.Value()
	}
	return 0
}

func (r *ExpvarRecorder) operation(name string) *expvar.Map {
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	expvarMu.Lock()
	defer expvarMu.Unlock()
	if m, ok := r.ops.Get(name).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.ops.Set(name, m)
	return m
}

// SpanRecord is one line written by SpanLog.
type SpanRecord struct {
	Operation string    `json:"op"`
	Outcome   string    `json:"outcome"`
	Millis    float64   `json:"ms"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// SpanLog is a Tracer that writes one JSON line per finished operation, so a
// race day can be followed (or replayed into a log pipeline) from stderr.
type SpanLog struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewSpanLog writes spans to w.
func NewSpanLog(w io.Writer) *SpanLog {
	return &SpanLog{enc: json.NewEncoder(w)}
}

// Start implements Tracer.
func (l *SpanLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &logSpan{log: l, operation: operation, started: time.Now()}
}

type logSpan struct {
	log       *SpanLog
	operation string
	started   time.Time
}

func (s *logSpan) End(err error) {
	rec := SpanRecord{
		Operation: s.operation,
		Outcome:   Outcome(err),
		Millis:    float64(time.Since(s.started)) / float64(time.Millisecond),
		At:        s.started.UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.log.mu.Lock()
	_ = s.log.enc.Encode(rec)
	s.log.mu.Unlock()
}
