package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

// SpawnFunc persists a new run instance spawned from a cron template and
// emits its created event. The engine provides the implementation; this
// indirection breaks the import cycle.
type SpawnFunc func(ctx context.Context, instance *job.Job) error

// Manager owns one live timer per active cron template. On each fire it
// spawns an immediate-kind run instance, requests an out-of-cycle dispatch
// pass, advances the template's next fire time, and re-arms the timer.
type Manager struct {
	store  job.Store
	eval   *Evaluator
	spawn  SpawnFunc
	kick   func()
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewManager creates a trigger manager. kick requests an out-of-cycle
// dispatch pass and may be nil.
func NewManager(store job.Store, eval *Evaluator, spawn SpawnFunc, kick func(), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if kick == nil {
		kick = func() {}
	}
	return &Manager{
		store:  store,
		eval:   eval,
		spawn:  spawn,
		kick:   kick,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Init loads all persisted pending cron templates and registers each.
func (m *Manager) Init(ctx context.Context) error {
	templates, _, err := m.store.ListJobs(ctx, job.Filter{
		Kind:     job.KindCron,
		Statuses: []job.Status{job.StatusPending},
	}, job.ListOpts{})
	if err != nil {
		return fmt.Errorf("load cron templates: %w", err)
	}

	for _, t := range templates {
		if regErr := m.Register(t); regErr != nil {
			m.logger.Warn("skipping cron template with invalid expression",
				slog.String("job_id", t.ID.String()),
				slog.String("job_name", t.Name),
				slog.String("error", regErr.Error()),
			)
		}
	}

	m.logger.Info("cron triggers initialized", slog.Int("templates", len(templates)))
	return nil
}

// Register arms a timer for the given cron template. If a timer already
// exists for this job it is stopped and replaced, so re-registration is
// idempotent. Fails with chrono.ErrInvalidCronExpression if the template's
// expression is absent or invalid.
func (m *Manager) Register(t *job.Job) error {
	if t.Kind != job.KindCron || t.CronExpression == "" {
		return fmt.Errorf("%w: job %s has no cron expression", chrono.ErrInvalidCronExpression, t.ID)
	}
	if err := m.eval.Validate(t.CronExpression); err != nil {
		return err
	}

	now := time.Now().UTC()
	next := now
	if t.NextRunAt != nil {
		next = *t.NextRunAt
	} else {
		n, err := m.eval.NextAfter(t.CronExpression, now)
		if err != nil {
			return err
		}
		next = n
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	key := t.ID.String()
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}

	jobID := t.ID
	m.timers[key] = time.AfterFunc(time.Until(next), func() {
		m.fire(jobID)
	})
	return nil
}

// Unregister stops and removes the timer for the given template. Used on
// cancel and delete of cron templates. Unknown ids are a no-op.
func (m *Manager) Unregister(jobID id.JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// Stop halts all timers. The manager accepts no further registrations.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

// fire runs once per timer expiry. It reloads the template so cancels and
// deletes that happened after arming are honored.
func (m *Manager) fire(jobID id.JobID) {
	ctx := context.Background()
	now := time.Now().UTC()

	t, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Warn("cron template gone, dropping trigger",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		m.Unregister(jobID)
		return
	}
	if t.Status != job.StatusPending {
		m.Unregister(jobID)
		return
	}

	// A template's RunCount counts firings. Once the cap is reached the
	// template completes and stops rescheduling.
	if t.MaxRuns > 0 && t.RunCount >= t.MaxRuns {
		m.retire(ctx, t, now)
		return
	}

	instance := t.SpawnInstance(now)
	if spawnErr := m.spawn(ctx, instance); spawnErr != nil {
		m.logger.Error("cron spawn error",
			slog.String("job_id", t.ID.String()),
			slog.String("job_name", t.Name),
			slog.String("error", spawnErr.Error()),
		)
		// Leave the template untouched and retry on the next occurrence.
		m.rearm(t, now)
		return
	}

	m.kick()

	next, nextErr := m.eval.NextAfter(t.CronExpression, now)
	if nextErr != nil {
		m.logger.Error("cron next fire error",
			slog.String("job_id", t.ID.String()),
			slog.String("expression", t.CronExpression),
			slog.String("error", nextErr.Error()),
		)
		return
	}

	t.LastRunAt = &now
	t.RunCount++
	t.NextRunAt = &next
	t.UpdatedAt = now
	if updateErr := m.store.UpdateJob(ctx, t); updateErr != nil {
		m.logger.Error("cron template update error",
			slog.String("job_id", t.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	m.logger.Info("cron fired",
		slog.String("job_id", t.ID.String()),
		slog.String("job_name", t.Name),
		slog.String("instance_id", instance.ID.String()),
		slog.Time("next_run_at", next),
	)

	m.rearm(t, now)
}

// retire marks a template completed once MaxRuns is reached.
func (m *Manager) retire(ctx context.Context, t *job.Job, now time.Time) {
	t.Status = job.StatusCompleted
	t.NextRunAt = nil
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := m.store.UpdateJob(ctx, t); err != nil {
		m.logger.Error("cron template retire error",
			slog.String("job_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	m.Unregister(t.ID)

	m.logger.Info("cron template reached max runs",
		slog.String("job_id", t.ID.String()),
		slog.String("job_name", t.Name),
		slog.Int("run_count", t.RunCount),
	)
}

// rearm schedules the next firing for a template that remains active.
func (m *Manager) rearm(t *job.Job, now time.Time) {
	next, err := m.eval.NextAfter(t.CronExpression, now)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	key := t.ID.String()
	if old, ok := m.timers[key]; ok {
		old.Stop()
	}
	jobID := t.ID
	m.timers[key] = time.AfterFunc(time.Until(next), func() {
		m.fire(jobID)
	})
}
