// Package memory provides an in-memory store for tests and single-process
// use. All operations are guarded by a single mutex; jobs are deep-copied on
// the way in and out so callers never share memory with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

// Store is an in-memory job store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*job.Job
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chrono.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed and drops all jobs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.jobs = nil
	return nil
}

func (s *Store) InsertJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chrono.ErrStoreClosed
	}
	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return chrono.ErrJobAlreadyExists
	}
	s.jobs[key] = copyJob(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, chrono.ErrStoreClosed
	}
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, chrono.ErrJobNotFound
	}
	return copyJob(j), nil
}

func (s *Store) ClaimDue(_ context.Context, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, chrono.ErrStoreClosed
	}

	now := time.Now().UTC()

	var due []*job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusPending || j.Kind == job.KindCron {
			continue
		}
		if j.RunImmediately || (j.NextRunAt != nil && !j.NextRunAt.After(now)) {
			due = append(due, j)
		}
	}

	// Priority descending, then soonest NextRunAt first.
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority != due[b].Priority {
			return due[a].Priority > due[b].Priority
		}
		return timeOrZero(due[a].NextRunAt).Before(timeOrZero(due[b].NextRunAt))
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*job.Job, 0, len(due))
	for _, j := range due {
		j.Status = job.StatusRunning
		j.StartedAt = ptrTime(now)
		j.RunImmediately = false
		j.UpdatedAt = now
		claimed = append(claimed, copyJob(j))
	}
	return claimed, nil
}

func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chrono.ErrStoreClosed
	}
	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return chrono.ErrJobNotFound
	}
	s.jobs[key] = copyJob(j)
	return nil
}

func (s *Store) UpdateJobIf(_ context.Context, j *job.Job, expect job.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, chrono.ErrStoreClosed
	}
	key := j.ID.String()
	stored, ok := s.jobs[key]
	if !ok {
		return false, chrono.ErrJobNotFound
	}
	if stored.Status != expect {
		return false, nil
	}
	s.jobs[key] = copyJob(j)
	return true, nil
}

func (s *Store) ListJobs(_ context.Context, f job.Filter, opts job.ListOpts) ([]*job.Job, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, chrono.ErrStoreClosed
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if matches(j, f) {
			matched = append(matched, j)
		}
	}
	total := int64(len(matched))

	sortJobs(matched, opts.SortBy, opts.Desc)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Job, 0, len(matched))
	for _, j := range matched {
		out = append(out, copyJob(j))
	}
	return out, total, nil
}

func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chrono.ErrStoreClosed
	}
	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return chrono.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

func (s *Store) DeleteJobs(_ context.Context, f job.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, chrono.ErrStoreClosed
	}
	var n int64
	for key, j := range s.jobs {
		if matches(j, f) {
			delete(s.jobs, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) DistinctNames(_ context.Context, f job.Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, chrono.ErrStoreClosed
	}
	seen := make(map[string]struct{})
	for _, j := range s.jobs {
		if matches(j, f) {
			seen[j.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func matches(j *job.Job, f job.Filter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if j.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Name != "" && j.Name != f.Name {
		return false
	}
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	for _, tag := range f.Tags {
		if !hasTag(j.Tags, tag) {
			return false
		}
	}
	if f.CreatedAfter != nil && !j.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !j.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.OlderThan != nil && !j.UpdatedAt.Before(*f.OlderThan) {
		return false
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func sortJobs(jobs []*job.Job, by job.SortField, desc bool) {
	less := func(a, b *job.Job) bool {
		switch by {
		case job.SortByUpdatedAt:
			return a.UpdatedAt.Before(b.UpdatedAt)
		case job.SortByNextRunAt:
			return timeOrZero(a.NextRunAt).Before(timeOrZero(b.NextRunAt))
		case job.SortByPriority:
			return a.Priority < b.Priority
		case job.SortByName:
			return strings.Compare(a.Name, b.Name) < 0
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		if desc {
			return less(jobs[k], jobs[i])
		}
		return less(jobs[i], jobs[k])
	})
}

func copyJob(j *job.Job) *job.Job {
	dup := *j
	dup.Payload = append([]byte(nil), j.Payload...)
	dup.Result = append([]byte(nil), j.Result...)
	dup.Tags = append([]string(nil), j.Tags...)
	dup.ScheduledFor = copyTime(j.ScheduledFor)
	dup.NextRunAt = copyTime(j.NextRunAt)
	dup.LastRunAt = copyTime(j.LastRunAt)
	dup.StartedAt = copyTime(j.StartedAt)
	dup.CompletedAt = copyTime(j.CompletedAt)
	return &dup
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func ptrTime(t time.Time) *time.Time { return &t }

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
