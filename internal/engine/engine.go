package engine

import (
	"context"
	"runtime"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"buildweaver/internal/ctxlog"
	"buildweaver/internal/trace"
)

// Engine creates sessions over a fixed rule registry.
type Engine struct {
	registry *Registry
	workers  int
	metrics  *metrics
	sink     trace.Sink
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of rules running at once in a session.
// Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRegisterer registers the engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = newMetrics(reg) }
}

// WithTraceSink records rule events into sink.
func WithTraceSink(sink trace.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New creates an Engine. The registry must not be modified once sessions
// are running.
func New(reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		workers:  runtime.NumCPU(),
		sink:     trace.NopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	return e
}

// NewSession starts a session. ctx supplies the logger and values visible
// to every rule of the session.
func (e *Engine) NewSession(ctx context.Context) *Session {
	s := &Session{
		id:     uuid.New(),
		engine: e,
		sem:    semaphore.NewWeighted(int64(e.workers)),
		memo:   make(map[memoKey][]*node),
	}
	s.logger = ctxlog.FromContext(ctx).With("session", s.id.String())
	s.ctx = ctxlog.WithLogger(ctx, s.logger)

	e.metrics.sessions.Inc()
	s.logger.Debug("session started", "workers", e.workers)
	return s
}
