package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/pageforge/chrono/event"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

func testJob() *job.Job {
	return &job.Job{
		ID:     id.NewJobID(),
		Name:   "email.send",
		Kind:   job.KindImmediate,
		Status: job.StatusPending,
	}
}

func receive(t *testing.T, sub *event.Subscription) event.Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	b := event.NewBus()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	j := testJob()
	b.Publish(event.TypeCreated, j, nil)

	for _, sub := range []*event.Subscription{sub1, sub2} {
		evt := receive(t, sub)
		if evt.Type != event.TypeCreated {
			t.Errorf("event type = %q, want created", evt.Type)
		}
		if evt.Job.ID.String() != j.ID.String() {
			t.Errorf("event job = %v, want %v", evt.Job.ID, j.ID)
		}
		if evt.At.IsZero() {
			t.Error("event timestamp not set")
		}
	}
}

func TestBus_FiltersByType(t *testing.T) {
	b := event.NewBus()
	sub := b.Subscribe(event.TypeFailed)
	defer sub.Unsubscribe()

	j := testJob()
	b.Publish(event.TypeCreated, j, nil)
	b.Publish(event.TypeStarted, j, nil)
	b.Publish(event.TypeFailed, j, errors.New("boom"))

	evt := receive(t, sub)
	if evt.Type != event.TypeFailed {
		t.Errorf("event type = %q, want failed", evt.Type)
	}
	if evt.Err == nil || evt.Err.Error() != "boom" {
		t.Errorf("event err = %v, want boom", evt.Err)
	}

	select {
	case extra := <-sub.C():
		t.Errorf("unexpected extra event: %v", extra.Type)
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := event.NewBus(event.WithBuffer(1))
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	j := testJob()

	// Nobody drains the channel; publishes beyond the buffer are dropped.
	done := make(chan struct{})
	go func() {
		for range 10 {
			b.Publish(event.TypeStarted, j, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	if b.Dropped() != 9 {
		t.Errorf("Dropped() = %d, want 9", b.Dropped())
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := event.NewBus()
	sub := b.Subscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(event.TypeCompleted, testJob(), nil)
}
