package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/job"
)

// CleanupOptions controls retention cleanup of terminal jobs.
type CleanupOptions struct {
	// OlderThan deletes only jobs not updated within this duration.
	// Zero means no age cutoff.
	OlderThan time.Duration

	// Statuses restricts cleanup to the given statuses. Defaults to all
	// terminal statuses (completed, failed, cancelled). Non-terminal
	// statuses are rejected.
	Statuses []job.Status

	// KeepLastN preserves the N most recently updated jobs per handler
	// name, regardless of age. Zero keeps nothing back.
	KeepLastN int
}

// Cleanup deletes terminal jobs per the retention options and returns how
// many were removed. It emits no per-job events; retention is housekeeping,
// not lifecycle.
func (eng *Engine) Cleanup(ctx context.Context, opts CleanupOptions) (int64, error) {
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled}
	}
	for _, st := range statuses {
		switch st {
		case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		default:
			return 0, &chrono.ValidationError{Field: "statuses", Reason: "cleanup only applies to terminal statuses"}
		}
	}

	f := job.Filter{Statuses: statuses}
	if opts.OlderThan > 0 {
		cutoff := now().Add(-opts.OlderThan)
		f.OlderThan = &cutoff
	}

	var deleted int64
	var err error
	if opts.KeepLastN > 0 {
		deleted, err = eng.cleanupKeepLast(ctx, f, opts.KeepLastN)
	} else {
		deleted, err = eng.store.DeleteJobs(ctx, f)
	}
	if err != nil {
		return deleted, err
	}

	eng.logger.Info("cleanup removed jobs",
		slog.Int64("deleted", deleted),
		slog.Int("keep_last_n", opts.KeepLastN),
	)
	return deleted, nil
}

// cleanupKeepLast deletes matching jobs per handler name, sparing the N
// most recently updated of each name.
func (eng *Engine) cleanupKeepLast(ctx context.Context, f job.Filter, keep int) (int64, error) {
	names, err := eng.store.DistinctNames(ctx, f)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, name := range names {
		nf := f
		nf.Name = name

		jobs, _, listErr := eng.store.ListJobs(ctx, nf, job.ListOpts{
			SortBy: job.SortByUpdatedAt,
			Desc:   true,
		})
		if listErr != nil {
			return deleted, listErr
		}
		if len(jobs) <= keep {
			continue
		}

		for _, j := range jobs[keep:] {
			if delErr := eng.store.DeleteJob(ctx, j.ID); delErr != nil {
				return deleted, delErr
			}
			deleted++
		}
	}
	return deleted, nil
}
