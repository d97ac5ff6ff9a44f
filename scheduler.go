package chrono

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// Storer is the minimal store interface held by the Scheduler. It covers
// lifecycle operations only. The full store contract (store.Store) is used
// by subsystem layers that do not create import cycles; implementations
// satisfy store.Store, which embeds the job store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// loopRunner is an internal interface for dispatch loop lifecycle.
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// triggerRunner is an internal interface for the cron trigger manager
// lifecycle.
type triggerRunner interface {
	Init(ctx context.Context) error
	Stop()
}

// Scheduler is the central coordinator for job scheduling. Create one with
// New and functional options, then wire the subsystems together with
// engine.Build. The Scheduler holds references to subsystem components via
// internal interfaces to avoid import cycles.
type Scheduler struct {
	config   Config
	logger   *slog.Logger
	store    Storer
	loop     loopRunner
	triggers triggerRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Scheduler with the given options.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Store returns the scheduler's store.
func (s *Scheduler) Store() Storer { return s.store }

// Config returns a copy of the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.config }

// SetLoop sets the dispatch loop (called by the engine package).
func (s *Scheduler) SetLoop(l loopRunner) { s.loop = l }

// SetTriggers sets the cron trigger manager (called by the engine package).
func (s *Scheduler) SetTriggers(t triggerRunner) { s.triggers = t }

// Start loads persisted cron templates and begins dispatch polling.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.loop == nil {
		return ErrNoStore
	}
	if s.triggers != nil {
		if err := s.triggers.Init(ctx); err != nil {
			return err
		}
	}
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the scheduler: cron timers first so no new
// instances spawn, then the dispatch loop, then the store.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.triggers != nil {
		s.triggers.Stop()
	}
	if s.loop != nil && s.started {
		if err := s.loop.Stop(ctx); err != nil {
			s.logger.Error("dispatch loop stop error", "error", err)
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of jobs claimed per dispatch pass.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the dispatch loop polls for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.PollInterval = d
		return nil
	}
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the scheduler. The store must
// implement Storer at minimum; typically it will be a store.Store.
func WithStore(st Storer) Option {
	return func(s *Scheduler) error {
		s.store = st
		return nil
	}
}
