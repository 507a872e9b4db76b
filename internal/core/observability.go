package core

import (
	"context"
	"errors"
	"time"

	"racecore/pkg/domain"
)

// MetricsRecorder receives one observation per service operation. err is the
// operation's result, nil on success.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, err error, duration time.Duration)
}

// Tracer opens a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

// OutcomeOK labels successful operations.
const OutcomeOK = "ok"

// Outcome names how an operation ended: "ok", the domain error kind
// ("conflict", "not_found", ...), "cancelled", or "error" for anything else.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, error, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
