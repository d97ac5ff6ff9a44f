package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/backoff"
	"github.com/pageforge/chrono/cron"
	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
	"github.com/pageforge/chrono/middleware"
	"github.com/pageforge/chrono/store/memory"
	"github.com/pageforge/chrono/worker"
)

type fixture struct {
	store    *memory.Store
	registry *job.Registry
	bus      *event.Bus
	executor *worker.Executor
}

func newFixture(t *testing.T, mws ...middleware.Middleware) *fixture {
	t.Helper()
	st := memory.New()
	reg := job.NewRegistry()
	bus := event.NewBus()
	exec := worker.NewExecutor(reg, st, bus, cron.NewEvaluator(),
		backoff.NewConstant(time.Minute), slog.Default(), mws...)
	return &fixture{store: st, registry: reg, bus: bus, executor: exec}
}

// runningJob inserts a job already claimed into running, the state Execute
// expects.
func (f *fixture) runningJob(t *testing.T, name string, retryCount, maxRetries int) *job.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &job.Job{
		Entity:     chrono.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Name:       name,
		Kind:       job.KindImmediate,
		Status:     job.StatusRunning,
		StartedAt:  &now,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
	if err := f.store.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return j
}

func expectEvent(t *testing.T, sub *event.Subscription, want event.Type) event.Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		if evt.Type != want {
			t.Fatalf("event = %q, want %q", evt.Type, want)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q event", want)
		return event.Event{}
	}
}

func TestExecute_SuccessCompletesJob(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(event.TypeCompleted)
	defer sub.Unsubscribe()

	f.registry.RegisterFunc("email.send", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})

	j := f.runningJob(t, "email.send", 0, 3)
	f.executor.Execute(context.Background(), j)

	got, err := f.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if string(got.Result) != `{"ok":true}` {
		t.Errorf("result = %q, want handler output", got.Result)
	}
	if got.RunCount != 1 {
		t.Errorf("run count = %d, want 1", got.RunCount)
	}
	if got.CompletedAt == nil || got.LastRunAt == nil {
		t.Error("CompletedAt and LastRunAt should be set")
	}
	if got.NextRunAt != nil {
		t.Error("one-shot job should have nil NextRunAt after completion")
	}

	expectEvent(t, sub, event.TypeCompleted)
}

func TestExecute_FailureSchedulesRetryWithBackoff(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(event.TypeRetried)
	defer sub.Unsubscribe()

	f.registry.RegisterFunc("email.send", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, errors.New("smtp down")
	})

	before := time.Now().UTC()
	j := f.runningJob(t, "email.send", 0, 3)
	f.executor.Execute(context.Background(), j)

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status = %q, want pending (retry)", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.RetryCount)
	}
	if got.LastError != "smtp down" {
		t.Errorf("last error = %q, want smtp down", got.LastError)
	}
	if got.NextRunAt == nil {
		t.Fatal("retry should set NextRunAt")
	}
	// Constant 1m backoff in the fixture.
	if delta := got.NextRunAt.Sub(before); delta < 59*time.Second || delta > 61*time.Second {
		t.Errorf("retry delay = %v, want ~1m", delta)
	}

	expectEvent(t, sub, event.TypeRetried)
}

func TestExecute_ExhaustedRetriesFailsTerminally(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(event.TypeFailed)
	defer sub.Unsubscribe()

	f.registry.RegisterFunc("email.send", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, errors.New("smtp down")
	})

	// Third failure of a 3-retry job is terminal.
	j := f.runningJob(t, "email.send", 2, 3)
	f.executor.Execute(context.Background(), j)

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
	if got.NextRunAt != nil {
		t.Error("failed job should have nil NextRunAt")
	}

	evt := expectEvent(t, sub, event.TypeFailed)
	if evt.Err == nil {
		t.Error("failed event should carry the handler error")
	}
}

func TestExecute_MissingHandlerConsumesRetry(t *testing.T) {
	f := newFixture(t)

	j := f.runningJob(t, "no.such.handler", 2, 3)
	f.executor.Execute(context.Background(), j)

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.HasPrefix(got.LastError, "NoHandler: ") {
		t.Errorf("last error = %q, want NoHandler prefix", got.LastError)
	}
}

func TestExecute_CancelDuringRunWinsOverCompletion(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(event.TypeCompleted)
	defer sub.Unsubscribe()

	cancelled := make(chan struct{})
	f.registry.RegisterFunc("slow", func(_ context.Context, inner *job.Job) ([]byte, error) {
		// Cancel the job mid-flight, as the lifecycle API would.
		stored, err := f.store.GetJob(context.Background(), inner.ID)
		if err != nil {
			t.Errorf("GetJob: %v", err)
			return nil, err
		}
		stored.Status = job.StatusCancelled
		if _, err := f.store.UpdateJobIf(context.Background(), stored, job.StatusRunning); err != nil {
			t.Errorf("cancel: %v", err)
		}
		close(cancelled)
		return []byte("done"), nil
	})

	j := f.runningJob(t, "slow", 0, 3)
	f.executor.Execute(context.Background(), j)
	<-cancelled

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled (completion write must lose the race)", got.Status)
	}

	select {
	case evt := <-sub.C():
		t.Errorf("unexpected %q event after losing the swap", evt.Type)
	default:
	}
}

func TestExecute_PanicIsRecoveredAsFailure(t *testing.T) {
	f := newFixture(t, middleware.Recover(slog.Default()))

	f.registry.RegisterFunc("panicky", func(_ context.Context, _ *job.Job) ([]byte, error) {
		panic("boom")
	})

	j := f.runningJob(t, "panicky", 2, 3)
	f.executor.Execute(context.Background(), j)

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.LastError, "panic") {
		t.Errorf("last error = %q, want panic mention", got.LastError)
	}
}

func TestExecute_CronInstanceKeepsTemplateSemantics(t *testing.T) {
	f := newFixture(t)

	f.registry.RegisterFunc("report", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, nil
	})

	now := time.Now().UTC()
	j := &job.Job{
		Entity:         chrono.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		Name:           "report",
		Kind:           job.KindCron,
		Status:         job.StatusRunning,
		CronExpression: "0 0 * * *",
		StartedAt:      &now,
		MaxRetries:     3,
	}
	if err := f.store.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("insert: %v", err)
	}

	f.executor.Execute(context.Background(), j)

	got, _ := f.store.GetJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(now) {
		t.Error("cron-kind job should get a future NextRunAt on completion")
	}
}
