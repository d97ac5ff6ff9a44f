// Package worker provides the dispatch engine — an Executor that invokes
// registered handlers through middleware and applies state transitions, and
// a Loop that polls for due jobs under a concurrency cap.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/backoff"
	"github.com/pageforge/chrono/cron"
	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/job"
	"github.com/pageforge/chrono/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, then applies the completion, retry, or failure transition.
//
// Every post-execution write is a compare-and-swap conditional on the job
// still being in the running status, so a cancel issued while the handler
// was in flight is never overwritten.
type Executor struct {
	registry *job.Registry
	store    job.Store
	bus      *event.Bus
	eval     *cron.Evaluator
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	store job.Store,
	bus *event.Bus,
	eval *cron.Evaluator,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		bus:      bus,
		eval:     eval,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a job that has already been claimed (status running).
// On success: status→completed, result stored, run counters advanced.
// On failure with retries remaining: status→pending with backoff delay.
// On failure with retries exhausted: status→failed (terminal).
// A missing handler is an execution failure, not a loop-fatal error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) {
	var (
		result []byte
		err    error
	)

	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err = &chrono.NoHandlerError{Name: j.Name}
	} else {
		terminal := func(ctx context.Context) ([]byte, error) {
			return handler(ctx, j)
		}
		result, err = e.mw(ctx, j, terminal)
	}

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		e.handleFailure(ctx, j, err, now)
		return
	}
	e.handleSuccess(ctx, j, result, now)
}

// handleSuccess marks the job completed and, for cron-kind jobs, advances
// the next fire time. Jobs of other kinds get a nil NextRunAt, ending
// their run.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, now time.Time) {
	j.Status = job.StatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.LastRunAt = &now
	j.RunCount++
	j.NextRunAt = nil

	if j.Kind == job.KindCron {
		next, nextErr := e.eval.NextAfter(j.CronExpression, now)
		if nextErr == nil {
			j.NextRunAt = &next
		}
	}

	swapped, updateErr := e.store.UpdateJobIf(ctx, j, job.StatusRunning)
	if updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return
	}
	if !swapped {
		e.logger.Debug("job no longer running, skipping completion write",
			slog.String("job_id", j.ID.String()),
		)
		return
	}

	e.bus.Publish(event.TypeCompleted, j, nil)
}

// handleFailure increments the retry counter and either reschedules with
// exponential backoff or fails the job terminally.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) {
	j.RetryCount++
	j.LastError = handlerErr.Error()

	if j.RetryCount < j.MaxRetries {
		e.scheduleRetry(ctx, j, now)
		return
	}

	j.Status = job.StatusFailed
	j.NextRunAt = nil

	swapped, updateErr := e.store.UpdateJobIf(ctx, j, job.StatusRunning)
	if updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return
	}
	if !swapped {
		return
	}

	e.bus.Publish(event.TypeFailed, j, handlerErr)

	e.logger.Warn("job failed after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)
}

// scheduleRetry returns the job to pending with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) {
	delay := e.backoff.Delay(j.RetryCount)
	nextRunAt := now.Add(delay)
	j.Status = job.StatusPending
	j.NextRunAt = &nextRunAt

	swapped, updateErr := e.store.UpdateJobIf(ctx, j, job.StatusRunning)
	if updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return
	}
	if !swapped {
		return
	}

	e.bus.Publish(event.TypeRetried, j, nil)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
}
