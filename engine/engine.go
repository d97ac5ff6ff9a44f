// Package engine wires all chrono subsystems together: the job registry,
// event bus, middleware chain, dispatch loop, and cron trigger manager.
//
// This package exists to break the import cycle: the root chrono package
// defines Entity (imported by job, cron, etc.) and so cannot import those
// packages back. The engine package sits above all subsystem packages and
// below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/backoff"
	"github.com/pageforge/chrono/cron"
	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/job"
	mw "github.com/pageforge/chrono/middleware"
	"github.com/pageforge/chrono/worker"
)

// Engine wraps a Scheduler with typed subsystem access and the job
// lifecycle API. Use Build() to create one from a Scheduler.
type Engine struct {
	s        *chrono.Scheduler
	registry *job.Registry
	store    job.Store
	bus      *event.Bus
	eval     *cron.Evaluator
	bo       backoff.Strategy
	mws      []mw.Middleware
	loop     *worker.Loop
	triggers *cron.Manager
	logger   *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithMiddleware adds middleware to the engine's chain, after the built-in
// recover, tracing, metrics, and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Scheduler.
// The Scheduler's store must implement job.Store.
func Build(s *chrono.Scheduler, opts ...Option) (*Engine, error) {
	logger := s.Logger()
	st := s.Store()

	if st == nil {
		return nil, chrono.ErrNoStore
	}

	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("chrono: store does not implement job.Store")
	}

	config := s.Config()

	eng := &Engine{
		s:        s,
		registry: job.NewRegistry(),
		store:    js,
		eval:     cron.NewEvaluator(),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.bus = event.NewBus(
		event.WithBuffer(config.EventBuffer),
		event.WithLogger(logger),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/pageforge/chrono")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/pageforge/chrono")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, js, eng.bus, eng.eval, eng.bo, logger, allMws...)
	eng.loop = worker.NewLoop(js, executor, eng.bus, logger,
		config.Concurrency, config.PollInterval, config.DrainInterval)

	// The trigger manager persists each spawned run instance and announces
	// it like any other created job.
	spawn := func(ctx context.Context, instance *job.Job) error {
		if err := js.InsertJob(ctx, instance); err != nil {
			return err
		}
		eng.bus.Publish(event.TypeCreated, instance, nil)
		return nil
	}
	eng.triggers = cron.NewManager(js, eng.eval, spawn, eng.loop.Kick, logger)

	s.SetLoop(eng.loop)
	s.SetTriggers(eng.triggers)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.CreateRaw(ctx, name, data, opts...)
}

// Start begins dispatching: persisted cron templates are loaded and armed,
// then the dispatch loop starts polling.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.s.Start(ctx)
}

// Stop gracefully shuts down the engine within the configured shutdown
// timeout, unless ctx carries an earlier deadline.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.s.Config().ShutdownTimeout)
		defer cancel()
	}
	return eng.s.Stop(ctx)
}

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Bus returns the lifecycle event bus.
func (eng *Engine) Bus() *event.Bus { return eng.bus }

// Scheduler returns the underlying Scheduler.
func (eng *Engine) Scheduler() *chrono.Scheduler { return eng.s }

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}
