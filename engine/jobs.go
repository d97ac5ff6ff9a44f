package engine

import (
	"context"
	"log/slog"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

// CreateRaw creates a job with a pre-serialized payload. The job's kind and
// scheduling fields come from the functional options; with none it is an
// immediate job due right away. Cron templates are validated and armed
// before this returns.
func (eng *Engine) CreateRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	if name == "" {
		return nil, &chrono.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if jobOpts.MaxRetries < 0 {
		return nil, &chrono.ValidationError{Field: "max_retries", Reason: "must not be negative"}
	}

	t := now()
	j := &job.Job{
		Entity:         chrono.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Kind:           jobOpts.Kind,
		Status:         job.StatusPending,
		Payload:        payload,
		MaxRetries:     jobOpts.MaxRetries,
		MaxRuns:        jobOpts.MaxRuns,
		Priority:       jobOpts.Priority,
		Tags:           jobOpts.Tags,
		RunImmediately: jobOpts.RunImmediately,
	}

	switch jobOpts.Kind {
	case job.KindImmediate:
		j.NextRunAt = &t

	case job.KindScheduled:
		if jobOpts.ScheduledFor.IsZero() {
			return nil, &chrono.ValidationError{Field: "scheduled_for", Reason: "required for scheduled jobs"}
		}
		at := jobOpts.ScheduledFor.UTC()
		j.ScheduledFor = &at
		j.NextRunAt = &at

	case job.KindCron:
		if err := eng.eval.Validate(jobOpts.CronExpression); err != nil {
			return nil, err
		}
		j.CronExpression = jobOpts.CronExpression
		next, err := eng.eval.NextAfter(jobOpts.CronExpression, t)
		if err != nil {
			return nil, err
		}
		j.NextRunAt = &next

	default:
		return nil, &chrono.ValidationError{Field: "kind", Reason: "unknown job kind"}
	}

	if err := eng.store.InsertJob(ctx, j); err != nil {
		return nil, err
	}

	eng.bus.Publish(event.TypeCreated, j, nil)

	if j.Kind == job.KindCron {
		if err := eng.triggers.Register(j); err != nil {
			return nil, err
		}
	} else if j.RunImmediately || !j.NextRunAt.After(t) {
		eng.loop.Kick()
	}

	eng.logger.Debug("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("kind", string(j.Kind)),
	)
	return j, nil
}

// GetJob retrieves a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter with the total match count.
func (eng *Engine) ListJobs(ctx context.Context, f job.Filter, opts job.ListOpts) ([]*job.Job, int64, error) {
	return eng.store.ListJobs(ctx, f, opts)
}

// CancelJob cancels a pending or running job. A running job's handler is
// not interrupted; the status compare-and-swap guarantees its eventual
// completion write loses to the cancel. Terminal jobs cannot be cancelled.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		return nil, chrono.ErrInvalidState
	}

	prev := j.Status
	t := now()
	j.Status = job.StatusCancelled
	j.NextRunAt = nil
	j.CompletedAt = &t
	j.UpdatedAt = t

	swapped, err := eng.store.UpdateJobIf(ctx, j, prev)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Lost the race: the job changed status under us.
		return nil, chrono.ErrInvalidState
	}

	if j.Kind == job.KindCron {
		eng.triggers.Unregister(j.ID)
	}

	eng.bus.Publish(event.TypeCancelled, j, nil)
	return j, nil
}

// RetryJob requeues a terminally failed job. The retry counter starts over
// with the job's full retry budget; only failed jobs can be retried.
func (eng *Engine) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusFailed {
		return nil, chrono.ErrInvalidState
	}

	t := now()
	j.Status = job.StatusPending
	j.RetryCount = 0
	j.LastError = ""
	j.NextRunAt = &t
	j.CompletedAt = nil
	j.UpdatedAt = t

	swapped, err := eng.store.UpdateJobIf(ctx, j, job.StatusFailed)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, chrono.ErrInvalidState
	}

	eng.bus.Publish(event.TypeRetried, j, nil)
	eng.loop.Kick()
	return j, nil
}

// DeleteJob removes a job regardless of status. Deleting a cron template
// disarms its trigger first so no further instances spawn.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if j.Kind == job.KindCron {
		eng.triggers.Unregister(j.ID)
	}

	if err := eng.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}

	eng.bus.Publish(event.TypeDeleted, j, nil)
	return nil
}
