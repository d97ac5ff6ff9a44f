package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

const jobColumns = `
	id, name, kind, status, cron_expression, payload, result, last_error,
	scheduled_for, next_run_at, last_run_at, started_at, completed_at,
	run_count, max_runs, retry_count, max_retries, priority, tags,
	run_immediately, created_at, updated_at`

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chrono_jobs (
			id, name, kind, status, cron_expression, payload, result, last_error,
			scheduled_for, next_run_at, last_run_at, started_at, completed_at,
			run_count, max_runs, retry_count, max_retries, priority, tags,
			run_immediately, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22
		)`,
		j.ID.String(), j.Name, string(j.Kind), string(j.Status),
		j.CronExpression, j.Payload, j.Result, j.LastError,
		j.ScheduledFor, j.NextRunAt, j.LastRunAt, j.StartedAt, j.CompletedAt,
		j.RunCount, j.MaxRuns, j.RetryCount, j.MaxRetries, j.Priority,
		tagsOrEmpty(j.Tags), j.RunImmediately, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return chrono.ErrJobAlreadyExists
		}
		return fmt.Errorf("chrono/postgres: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM chrono_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, chrono.ErrJobNotFound
		}
		return nil, fmt.Errorf("chrono/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimDue atomically claims up to limit due jobs using SELECT FOR UPDATE
// SKIP LOCKED, so schedulers sharing the database never claim the same job
// twice. Cron templates are excluded; the trigger manager drives those.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE chrono_jobs
			SET status = 'running', started_at = NOW(),
			    run_immediately = FALSE, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM chrono_jobs
				WHERE status = 'pending'
				  AND kind <> 'cron'
				  AND (run_immediately OR next_run_at <= NOW())
				ORDER BY priority DESC, next_run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING`+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY priority DESC, next_run_at ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("chrono/postgres: claim due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateJob persists changes to an existing job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, updateJobSQL+` WHERE id = $1`, updateJobArgs(j)...)
	if err != nil {
		return fmt.Errorf("chrono/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// UpdateJobIf persists j only if the stored status equals expect. The status
// check and the write happen in one statement, so the compare-and-swap is
// atomic under concurrent writers.
func (s *Store) UpdateJobIf(ctx context.Context, j *job.Job, expect job.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		updateJobSQL+` WHERE id = $1 AND status = $21`,
		append(updateJobArgs(j), string(expect))...,
	)
	if err != nil {
		return false, fmt.Errorf("chrono/postgres: conditional update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a failed precondition from a missing row.
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chrono_jobs WHERE id = $1)`,
			j.ID.String(),
		).Scan(&exists); checkErr != nil {
			return false, fmt.Errorf("chrono/postgres: conditional update job: %w", checkErr)
		}
		if !exists {
			return false, chrono.ErrJobNotFound
		}
		return false, nil
	}
	return true, nil
}

const updateJobSQL = `
	UPDATE chrono_jobs SET
		name = $2, kind = $3, status = $4, cron_expression = $5,
		payload = $6, result = $7, last_error = $8,
		scheduled_for = $9, next_run_at = $10, last_run_at = $11,
		started_at = $12, completed_at = $13,
		run_count = $14, max_runs = $15, retry_count = $16, max_retries = $17,
		priority = $18, tags = $19, run_immediately = $20,
		updated_at = NOW()`

func updateJobArgs(j *job.Job) []any {
	return []any{
		j.ID.String(), j.Name, string(j.Kind), string(j.Status),
		j.CronExpression, j.Payload, j.Result, j.LastError,
		j.ScheduledFor, j.NextRunAt, j.LastRunAt, j.StartedAt, j.CompletedAt,
		j.RunCount, j.MaxRuns, j.RetryCount, j.MaxRetries,
		j.Priority, tagsOrEmpty(j.Tags), j.RunImmediately,
	}
}

// ListJobs returns jobs matching the filter with the total match count.
func (s *Store) ListJobs(ctx context.Context, f job.Filter, opts job.ListOpts) ([]*job.Job, int64, error) {
	where, args := buildFilter(f)

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chrono_jobs`+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("chrono/postgres: count jobs: %w", err)
	}

	query := `SELECT` + jobColumns + ` FROM chrono_jobs` + where +
		` ORDER BY ` + sortColumn(opts.SortBy) + sortDirection(opts.Desc)

	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("chrono/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chrono_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("chrono/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DeleteJobs removes all jobs matching the filter.
func (s *Store) DeleteJobs(ctx context.Context, f job.Filter) (int64, error) {
	where, args := buildFilter(f)
	tag, err := s.pool.Exec(ctx, `DELETE FROM chrono_jobs`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("chrono/postgres: delete jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DistinctNames returns the distinct handler names among matching jobs.
func (s *Store) DistinctNames(ctx context.Context, f job.Filter) ([]string, error) {
	where, args := buildFilter(f)
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT name FROM chrono_jobs`+where+` ORDER BY name`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("chrono/postgres: distinct names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("chrono/postgres: scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chrono/postgres: iterate names: %w", err)
	}
	return names, nil
}

// buildFilter renders a Filter to a WHERE clause and its arguments.
func buildFilter(f job.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if f.Name != "" {
		conds = append(conds, "name = "+arg(f.Name))
	}
	if f.Kind != "" {
		conds = append(conds, "kind = "+arg(string(f.Kind)))
	}
	if len(f.Tags) > 0 {
		conds = append(conds, "tags @> "+arg(f.Tags))
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "created_at > "+arg(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "created_at < "+arg(*f.CreatedBefore))
	}
	if f.OlderThan != nil {
		conds = append(conds, "updated_at < "+arg(*f.OlderThan))
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func sortColumn(by job.SortField) string {
	switch by {
	case job.SortByUpdatedAt, job.SortByNextRunAt, job.SortByPriority, job.SortByName:
		return string(by)
	default:
		return string(job.SortByCreatedAt)
	}
}

func sortDirection(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j       job.Job
		idStr   string
		kindStr string
		statStr string
	)
	err := row.Scan(
		&idStr, &j.Name, &kindStr, &statStr, &j.CronExpression,
		&j.Payload, &j.Result, &j.LastError,
		&j.ScheduledFor, &j.NextRunAt, &j.LastRunAt, &j.StartedAt, &j.CompletedAt,
		&j.RunCount, &j.MaxRuns, &j.RetryCount, &j.MaxRetries, &j.Priority,
		&j.Tags, &j.RunImmediately, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = job.Kind(kindStr)
	j.Status = job.Status(statStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("chrono/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("chrono/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chrono/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
