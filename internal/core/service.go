package core

import (
	"context"
	"errors"
	"time"

	"racecore/internal/blob"
	"racecore/internal/infra/blob/memory"
	memstore "racecore/internal/infra/persistence/memory"
	"racecore/pkg/domain"
)

// Clock supplies the timestamps stamped on finishes and ledger entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type serviceOptions struct {
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	blobs   blob.Store
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the per-operation tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithBlobStore sets where house points backups are written. Without it an
// in-memory blob store is used.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(o *serviceOptions) {
		if store != nil {
			o.blobs = store
		}
	}
}

// Service exposes the race, roster and scoring operations over a
// PersistentStore. It is safe for concurrent use; per-client finish state
// lives in Session.
type Service struct {
	store   domain.PersistentStore
	blobs   blob.Store
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.blobs == nil {
		o.blobs = memory.New()
	}
	return &Service{
		store:   store,
		blobs:   o.blobs,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memstore.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Blobs returns the backup blob store.
func (s *Service) Blobs() blob.Store {
	return s.blobs
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// run wraps an operation with tracing, metrics and failure logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err, time.Since(started))
	switch {
	case err == nil:
		s.logger.Debug("operation complete", "operation", op, "duration", time.Since(started))
	case isCallerError(err):
		s.logger.Warn("operation rejected", "operation", op, "error", err, "kind", domain.KindOf(err))
	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

// isCallerError reports failures caused by input or state the caller can see,
// as opposed to backend trouble.
func isCallerError(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotFound, domain.KindConflict, domain.KindInvalidSnapshot:
		return true
	}
	return errors.Is(err, context.Canceled)
}
