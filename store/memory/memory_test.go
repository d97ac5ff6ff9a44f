package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
	"github.com/pageforge/chrono/store/memory"
)

func newJob(name string, status job.Status, nextRunAt time.Time) *job.Job {
	now := time.Now().UTC()
	n := nextRunAt
	return &job.Job{
		Entity:     chrono.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Name:       name,
		Kind:       job.KindImmediate,
		Status:     status,
		NextRunAt:  &n,
		MaxRetries: 3,
	}
}

func mustInsert(t *testing.T, st *memory.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := st.InsertJob(context.Background(), j); err != nil {
			t.Fatalf("insert %s: %v", j.Name, err)
		}
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	j := newJob("email.send", job.StatusPending, time.Now().UTC())
	mustInsert(t, st, j)

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != "email.send" {
		t.Errorf("name = %q, want email.send", got.Name)
	}

	// The store must hand out copies, not aliases.
	got.Name = "mutated"
	again, _ := st.GetJob(ctx, j.ID)
	if again.Name != "email.send" {
		t.Error("store leaked internal state to caller")
	}
}

func TestStore_InsertDuplicateFails(t *testing.T) {
	st := memory.New()
	j := newJob("email.send", job.StatusPending, time.Now().UTC())
	mustInsert(t, st, j)

	if err := st.InsertJob(context.Background(), j); !errors.Is(err, chrono.ErrJobAlreadyExists) {
		t.Errorf("duplicate insert = %v, want ErrJobAlreadyExists", err)
	}
}

func TestStore_GetMissingJob(t *testing.T) {
	st := memory.New()
	if _, err := st.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Errorf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestClaimDue_ClaimsOnlyDuePendingJobs(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newJob("due", job.StatusPending, now.Add(-time.Second))
	future := newJob("future", job.StatusPending, now.Add(time.Hour))
	running := newJob("running", job.StatusRunning, now.Add(-time.Second))
	mustInsert(t, st, due, future, running)

	claimed, err := st.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].Name != "due" {
		t.Errorf("claimed %q, want due", claimed[0].Name)
	}
	if claimed[0].Status != job.StatusRunning {
		t.Errorf("claimed status = %q, want running", claimed[0].Status)
	}
	if claimed[0].StartedAt == nil {
		t.Error("claimed job should have StartedAt set")
	}

	// A second pass finds nothing: the claim moved the job to running.
	claimed, _ = st.ClaimDue(ctx, 10)
	if len(claimed) != 0 {
		t.Errorf("second ClaimDue returned %d jobs, want 0", len(claimed))
	}
}

func TestClaimDue_ExcludesCronTemplates(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	tmpl := newJob("report", job.StatusPending, now.Add(-time.Second))
	tmpl.Kind = job.KindCron
	tmpl.CronExpression = "* * * * *"
	mustInsert(t, st, tmpl)

	claimed, err := st.ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d cron templates, want 0", len(claimed))
	}
}

func TestClaimDue_RunImmediatelyBypassesNextRunAt(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	j := newJob("urgent", job.StatusPending, now.Add(time.Hour))
	j.RunImmediately = true
	mustInsert(t, st, j)

	claimed, err := st.ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].RunImmediately {
		t.Error("claim must clear RunImmediately")
	}
}

func TestClaimDue_OrdersByPriorityThenDueTime(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	low := newJob("low", job.StatusPending, now.Add(-3*time.Second))
	high := newJob("high", job.StatusPending, now.Add(-time.Second))
	high.Priority = 10
	mid := newJob("mid", job.StatusPending, now.Add(-2*time.Second))
	mid.Priority = 5
	mustInsert(t, st, low, high, mid)

	claimed, err := st.ClaimDue(context.Background(), 2)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d jobs, want 2 (limit)", len(claimed))
	}
	if claimed[0].Name != "high" || claimed[1].Name != "mid" {
		t.Errorf("claim order = %s, %s; want high, mid", claimed[0].Name, claimed[1].Name)
	}
}

func TestUpdateJobIf_SwapsOnlyOnMatchingStatus(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	j := newJob("email.send", job.StatusRunning, time.Now().UTC())
	mustInsert(t, st, j)

	j.Status = job.StatusCompleted
	swapped, err := st.UpdateJobIf(ctx, j, job.StatusRunning)
	if err != nil {
		t.Fatalf("UpdateJobIf: %v", err)
	}
	if !swapped {
		t.Fatal("swap failed, want success")
	}

	// Now stored status is completed; expecting running must fail cleanly.
	j.Status = job.StatusFailed
	swapped, err = st.UpdateJobIf(ctx, j, job.StatusRunning)
	if err != nil {
		t.Fatalf("UpdateJobIf: %v", err)
	}
	if swapped {
		t.Error("swap succeeded against mismatched status")
	}

	got, _ := st.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed (failed swap must not write)", got.Status)
	}
}

func TestUpdateJobIf_MissingJob(t *testing.T) {
	st := memory.New()
	j := newJob("ghost", job.StatusPending, time.Now().UTC())

	if _, err := st.UpdateJobIf(context.Background(), j, job.StatusPending); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Errorf("UpdateJobIf(missing) = %v, want ErrJobNotFound", err)
	}
}

func TestListJobs_FilterAndPagination(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		j := newJob("email.send", job.StatusCompleted, now)
		j.CreatedAt = now.Add(time.Duration(i) * time.Second)
		j.Tags = []string{"mail"}
		mustInsert(t, st, j)
	}
	other := newJob("report.generate", job.StatusFailed, now)
	mustInsert(t, st, other)

	jobs, total, err := st.ListJobs(ctx, job.Filter{Name: "email.send"}, job.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Errorf("page size = %d, want 2", len(jobs))
	}

	jobs, _, err = st.ListJobs(ctx, job.Filter{Statuses: []job.Status{job.StatusFailed}}, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "report.generate" {
		t.Errorf("status filter returned %d jobs, want the failed one", len(jobs))
	}

	jobs, _, err = st.ListJobs(ctx, job.Filter{Tags: []string{"mail"}}, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 5 {
		t.Errorf("tag filter returned %d jobs, want 5", len(jobs))
	}
}

func TestListJobs_SortByUpdatedAtDesc(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	oldJob := newJob("a", job.StatusCompleted, now)
	oldJob.UpdatedAt = now.Add(-time.Hour)
	newer := newJob("b", job.StatusCompleted, now)
	newer.UpdatedAt = now
	mustInsert(t, st, oldJob, newer)

	jobs, _, err := st.ListJobs(context.Background(), job.Filter{}, job.ListOpts{
		SortBy: job.SortByUpdatedAt,
		Desc:   true,
	})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if jobs[0].Name != "b" {
		t.Errorf("first job = %q, want b (most recently updated)", jobs[0].Name)
	}
}

func TestDeleteJobs_ByFilterWithCutoff(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newJob("old", job.StatusCompleted, now)
	stale.UpdatedAt = now.Add(-48 * time.Hour)
	fresh := newJob("new", job.StatusCompleted, now)
	pending := newJob("pending", job.StatusPending, now)
	pending.UpdatedAt = now.Add(-48 * time.Hour)
	mustInsert(t, st, stale, fresh, pending)

	cutoff := now.Add(-24 * time.Hour)
	n, err := st.DeleteJobs(ctx, job.Filter{
		Statuses:  []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled},
		OlderThan: &cutoff,
	})
	if err != nil {
		t.Fatalf("DeleteJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d jobs, want 1", n)
	}
	if _, err := st.GetJob(ctx, stale.ID); !errors.Is(err, chrono.ErrJobNotFound) {
		t.Error("stale job should be gone")
	}
	if _, err := st.GetJob(ctx, pending.ID); err != nil {
		t.Error("pending job must survive cleanup")
	}
}

func TestDistinctNames(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()

	mustInsert(t, st,
		newJob("email.send", job.StatusCompleted, now),
		newJob("email.send", job.StatusCompleted, now),
		newJob("report.generate", job.StatusCompleted, now),
	)

	names, err := st.DistinctNames(context.Background(), job.Filter{})
	if err != nil {
		t.Fatalf("DistinctNames: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 distinct", names)
	}
	if names[0] != "email.send" || names[1] != "report.generate" {
		t.Errorf("names = %v, want sorted [email.send report.generate]", names)
	}
}

func TestStore_ClosedRejectsOperations(t *testing.T) {
	st := memory.New()
	_ = st.Close()

	if err := st.Ping(context.Background()); !errors.Is(err, chrono.ErrStoreClosed) {
		t.Errorf("Ping after close = %v, want ErrStoreClosed", err)
	}
	if err := st.InsertJob(context.Background(), newJob("x", job.StatusPending, time.Now())); !errors.Is(err, chrono.ErrStoreClosed) {
		t.Errorf("InsertJob after close = %v, want ErrStoreClosed", err)
	}
}

func TestClaimDue_ConcurrentClaimsNeverDouble(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 20; i++ {
		mustInsert(t, st, newJob("bulk", job.StatusPending, now.Add(-time.Second)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := st.ClaimDue(ctx, 3)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, j := range claimed {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("claimed %d distinct jobs, want 20", len(seen))
	}
	for jid, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times, want exactly once", jid, n)
		}
	}
}
