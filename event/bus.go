// Package event broadcasts job lifecycle notifications to any number of
// subscribers.
//
// Delivery is asynchronous, best-effort, and non-blocking: each
// subscription owns a buffered channel, Publish never blocks the emitting
// dispatch pass, and events for a subscriber whose channel is full are
// dropped and counted. Subscribers that must not miss events should drain
// their channel promptly or size the buffer accordingly.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pageforge/chrono/job"
)

// DefaultBuffer is the subscription channel capacity used when none is
// configured.
const DefaultBuffer = 64

// Subscription is a registered listener on the bus. Receive events from C
// and call Unsubscribe when done; Unsubscribe closes C.
type Subscription struct {
	bus   *Bus
	id    int
	types map[Type]struct{}
	ch    chan Event
}

// C returns the channel events are delivered on.
func (s *Subscription) C() <-chan Event { return s.ch }

// Unsubscribe removes the subscription from the bus and closes C.
// Safe to call once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

// Bus is a typed publish/subscribe channel for lifecycle events.
// It is safe for concurrent use.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int

	dropped atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used for drop reporting.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger: slog.Default(),
		buffer: DefaultBuffer,
		subs:   make(map[int]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for the given event types. With no types,
// the subscription receives every event.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus: b,
		id:  b.nextID,
		ch:  make(chan Event, b.buffer),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.subs[b.nextID] = sub
	b.nextID++
	return sub
}

// Publish delivers an event to all matching subscribers without blocking.
// Events to a full subscriber channel are dropped.
func (b *Bus) Publish(t Type, j *job.Job, err error) {
	evt := Event{Type: t, Job: j, Err: err, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.types != nil {
			if _, ok := sub.types[t]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("event dropped, subscriber channel full",
				slog.String("event", string(t)),
				slog.String("job_id", j.ID.String()),
			)
		}
	}
}

// Dropped returns how many events have been dropped since the bus was
// created.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) remove(subID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[subID]; ok {
		delete(b.subs, subID)
		close(sub.ch)
	}
}
