package event

import (
	"time"

	"github.com/pageforge/chrono/job"
)

// Type names a job lifecycle transition.
type Type string

const (
	TypeCreated   Type = "created"
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeRetried   Type = "retried"
	TypeCancelled Type = "cancelled"
	TypeDeleted   Type = "deleted"
)

// Event is a lifecycle notification. Job is a snapshot of the affected job
// at emission time; Err is set only for failed events.
type Event struct {
	Type Type
	Job  *job.Job
	Err  error
	At   time.Time
}
