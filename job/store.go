package job

import (
	"context"
	"time"

	"github.com/pageforge/chrono/id"
)

// SortField names a sortable job column.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByNextRunAt SortField = "next_run_at"
	SortByPriority  SortField = "priority"
	SortByName      SortField = "name"
)

// Filter selects jobs for list, delete-many, and distinct-name queries.
// Zero-valued fields do not constrain the result.
type Filter struct {
	// Statuses matches jobs whose status is any of the given values.
	Statuses []Status
	// Name matches jobs with exactly this handler name.
	Name string
	// Kind matches jobs of this kind.
	Kind Kind
	// Tags matches jobs carrying all of the given tags.
	Tags []string
	// CreatedAfter and CreatedBefore bound CreatedAt.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// OlderThan matches jobs whose UpdatedAt is before the given time.
	// Used by retention cleanup.
	OlderThan *time.Time
}

// ListOpts controls ordering and pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// SortBy selects the sort column. Empty defaults to created_at.
	SortBy SortField
	// Desc reverses the sort order.
	Desc bool
}

// Store defines the persistence contract for jobs.
//
// Implementations must make ClaimDue and UpdateJobIf atomic with respect to
// concurrent schedulers sharing the same backend: the pending→running claim
// is the only multi-instance safety boundary, and the status compare-and-
// swap is what keeps a cancellation from being overwritten by a slow
// handler's completion write.
type Store interface {
	// InsertJob persists a new job.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimDue atomically claims up to limit due jobs — status pending and
	// (NextRunAt <= now or RunImmediately) — sets them to running with
	// StartedAt stamped and RunImmediately cleared, and returns them
	// ordered by priority (descending) then NextRunAt (ascending).
	// Cron templates (kind=cron) are never claimed. Under sustained
	// high-priority load, lower-priority jobs can be starved; callers who
	// need fairness should flatten priorities.
	ClaimDue(ctx context.Context, limit int) ([]*Job, error)

	// UpdateJob persists changes to an existing job unconditionally.
	UpdateJob(ctx context.Context, j *Job) error

	// UpdateJobIf persists j only if the stored status equals expect.
	// Returns false (and no error) when the precondition fails.
	UpdateJobIf(ctx context.Context, j *Job, expect Status) (bool, error)

	// ListJobs returns jobs matching the filter, with the total count of
	// matches before pagination.
	ListJobs(ctx context.Context, f Filter, opts ListOpts) ([]*Job, int64, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// DeleteJobs removes all jobs matching the filter and returns how many
	// were deleted.
	DeleteJobs(ctx context.Context, f Filter) (int64, error)

	// DistinctNames returns the distinct handler names among jobs matching
	// the filter.
	DistinctNames(ctx context.Context, f Filter) ([]string, error)
}
