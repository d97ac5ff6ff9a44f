package job

import (
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
)

// Kind distinguishes how a job is scheduled.
type Kind string

const (
	// KindImmediate jobs run once, as soon as they are due.
	KindImmediate Kind = "immediate"
	// KindScheduled jobs run once at a fixed future time.
	KindScheduled Kind = "scheduled"
	// KindCron jobs are templates: each firing of the cron expression
	// spawns a separate immediate-kind instance. The template row itself
	// is never executed by the dispatch loop.
	KindCron Kind = "cron"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is waiting to become due.
	StatusPending Status = "pending"
	// StatusRunning means a handler is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed with retries exhausted. Terminal.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled. Terminal.
	StatusCancelled Status = "cancelled"
)

// Job represents a unit of deferred or recurring work.
//
// Status and NextRunAt jointly determine dispatch eligibility: a job is due
// when Status is pending and either NextRunAt has passed or RunImmediately
// is set. CronExpression is non-empty iff Kind is cron; ScheduledFor is
// non-nil iff Kind is scheduled.
type Job struct {
	chrono.Entity

	ID             id.JobID   `json:"id"`
	Name           string     `json:"name"`
	Kind           Kind       `json:"kind"`
	Status         Status     `json:"status"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Payload        []byte     `json:"payload,omitempty"`
	Result         []byte     `json:"result,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RunCount       int        `json:"run_count"`
	MaxRuns        int        `json:"max_runs,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	Priority       int        `json:"priority"`
	Tags           []string   `json:"tags,omitempty"`
	RunImmediately bool       `json:"run_immediately,omitempty"`
}

// Terminal reports whether the job's status admits no further transitions.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SpawnInstance returns a new immediate-kind run instance of a cron
// template, carrying the template's payload, tags, priority, and retry
// budget. The instance is due immediately.
func (j *Job) SpawnInstance(now time.Time) *Job {
	tags := make([]string, len(j.Tags))
	copy(tags, j.Tags)

	n := now
	return &Job{
		Entity:     chrono.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Name:       j.Name,
		Kind:       KindImmediate,
		Status:     StatusPending,
		Payload:    j.Payload,
		NextRunAt:  &n,
		MaxRetries: j.MaxRetries,
		Priority:   j.Priority,
		Tags:       tags,
	}
}
