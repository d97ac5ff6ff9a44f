package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
	"github.com/pageforge/chrono/middleware"
)

func testJob() *job.Job {
	return &job.Job{
		ID:   id.NewJobID(),
		Name: "email.send",
		Kind: job.KindImmediate,
	}
}

func TestChain_AppliesOutsideIn(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(ctx context.Context, j *job.Job, next middleware.Handler) ([]byte, error) {
			order = append(order, name+":before")
			result, err := next(ctx)
			order = append(order, name+":after")
			return result, err
		}
	}

	chained := middleware.Chain(tag("outer"), tag("inner"))
	result, err := chained(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(result) != "ok" {
		t.Errorf("result = %q, want ok", result)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestChain_EmptyIsPassThrough(t *testing.T) {
	chained := middleware.Chain()
	result, err := chained(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		return []byte("direct"), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(result) != "direct" {
		t.Errorf("result = %q, want direct", result)
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	result, err := mw(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic, got nil")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want panic value in message", err)
	}
	if result != nil {
		t.Errorf("result = %v, want nil after panic", result)
	}
}

func TestRecover_PassesThroughNormalResults(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	result, err := mw(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		return []byte("fine"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "fine" {
		t.Errorf("result = %q, want fine", result)
	}
}

func TestLogging_PropagatesError(t *testing.T) {
	mw := middleware.Logging(slog.Default())

	wantErr := errors.New("smtp down")
	_, err := mw(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestTracing_PassesThrough(t *testing.T) {
	// No TracerProvider configured: the noop tracer must not alter results.
	mw := middleware.Tracing()

	result, err := mw(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		return []byte("traced"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "traced" {
		t.Errorf("result = %q, want traced", result)
	}
}

func TestMetrics_PassesThrough(t *testing.T) {
	mw := middleware.Metrics()

	wantErr := errors.New("fail")
	_, err := mw(context.Background(), testJob(), func(_ context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
