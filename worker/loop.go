package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/job"
)

// Loop polls the store for due jobs and dispatches them to the Executor.
//
// Each pass claims up to concurrency jobs atomically (the claim transitions
// them to running in the store), executes the whole batch in parallel, and
// waits for the batch to finish before the next pass. When a pass claims a
// full batch there may be more work behind it, so a drain pass is scheduled
// after drainInterval instead of waiting out the full poll interval.
type Loop struct {
	store       job.Store
	executor    *Executor
	bus         *event.Bus
	logger      *slog.Logger
	concurrency int
	interval    time.Duration
	drain       time.Duration

	kick    chan struct{}
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoop creates a dispatch loop. concurrency bounds the number of jobs
// claimed and executed per pass; interval is the poll period between passes;
// drain is the shortened delay used after a full batch.
func NewLoop(
	store job.Store,
	executor *Executor,
	bus *event.Bus,
	logger *slog.Logger,
	concurrency int,
	interval time.Duration,
	drain time.Duration,
) *Loop {
	return &Loop{
		store:       store,
		executor:    executor,
		bus:         bus,
		logger:      logger,
		concurrency: concurrency,
		interval:    interval,
		drain:       drain,
		kick:        make(chan struct{}, 1),
	}
}

// Start launches the polling goroutine. Calling Start on an already
// started loop is a no-op.
func (l *Loop) Start(_ context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx)

	l.logger.Info("dispatch loop started",
		slog.Int("concurrency", l.concurrency),
		slog.Duration("poll_interval", l.interval),
	)
	return nil
}

// Stop signals the loop to exit and waits for the in-flight pass to finish,
// or until ctx expires. Jobs already handed to the executor run to
// completion unless the deadline cuts them off.
func (l *Loop) Stop(ctx context.Context) error {
	if !l.started.CompareAndSwap(true, false) {
		return nil
	}
	l.cancel()
	select {
	case <-l.done:
		l.logger.Info("dispatch loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick requests an immediate pass without waiting for the next tick.
// Safe to call from any goroutine; coalesces concurrent kicks.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Initial pass picks up anything that came due while stopped.
	l.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pass(ctx)
		case <-l.kick:
			l.pass(ctx)
		}
	}
}

// pass claims one batch of due jobs and executes it in parallel. A full
// batch schedules a drain kick so a backlog is worked off faster than the
// poll interval, without starving the goroutine of shutdown signals.
func (l *Loop) pass(ctx context.Context) {
	jobs, err := l.store.ClaimDue(ctx, l.concurrency)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("failed to claim due jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(jobs) == 0 {
		return
	}

	l.logger.Debug("claimed due jobs", slog.Int("count", len(jobs)))

	var wg sync.WaitGroup
	for _, j := range jobs {
		l.bus.Publish(event.TypeStarted, j, nil)

		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			l.executor.Execute(ctx, j)
		}(j)
	}
	wg.Wait()

	if len(jobs) == l.concurrency {
		time.AfterFunc(l.drain, l.Kick)
	}
}
