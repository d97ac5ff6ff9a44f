package mongo

import (
	"fmt"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

type jobModel struct {
	ID             string     `bson:"_id"`
	Name           string     `bson:"name"`
	Kind           string     `bson:"kind"`
	Status         string     `bson:"status"`
	CronExpression string     `bson:"cron_expression"`
	Payload        []byte     `bson:"payload,omitempty"`
	Result         []byte     `bson:"result,omitempty"`
	LastError      string     `bson:"last_error"`
	ScheduledFor   *time.Time `bson:"scheduled_for,omitempty"`
	NextRunAt      *time.Time `bson:"next_run_at,omitempty"`
	LastRunAt      *time.Time `bson:"last_run_at,omitempty"`
	StartedAt      *time.Time `bson:"started_at,omitempty"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty"`
	RunCount       int        `bson:"run_count"`
	MaxRuns        int        `bson:"max_runs"`
	RetryCount     int        `bson:"retry_count"`
	MaxRetries     int        `bson:"max_retries"`
	Priority       int        `bson:"priority"`
	Tags           []string   `bson:"tags"`
	RunImmediately bool       `bson:"run_immediately"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Name:           j.Name,
		Kind:           string(j.Kind),
		Status:         string(j.Status),
		CronExpression: j.CronExpression,
		Payload:        j.Payload,
		Result:         j.Result,
		LastError:      j.LastError,
		ScheduledFor:   j.ScheduledFor,
		NextRunAt:      j.NextRunAt,
		LastRunAt:      j.LastRunAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		RunCount:       j.RunCount,
		MaxRuns:        j.MaxRuns,
		RetryCount:     j.RetryCount,
		MaxRetries:     j.MaxRetries,
		Priority:       j.Priority,
		Tags:           j.Tags,
		RunImmediately: j.RunImmediately,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("chrono/mongo: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: chrono.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Name:           m.Name,
		Kind:           job.Kind(m.Kind),
		Status:         job.Status(m.Status),
		CronExpression: m.CronExpression,
		Payload:        m.Payload,
		Result:         m.Result,
		LastError:      m.LastError,
		ScheduledFor:   m.ScheduledFor,
		NextRunAt:      m.NextRunAt,
		LastRunAt:      m.LastRunAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		RunCount:       m.RunCount,
		MaxRuns:        m.MaxRuns,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		Priority:       m.Priority,
		Tags:           m.Tags,
		RunImmediately: m.RunImmediately,
	}, nil
}
