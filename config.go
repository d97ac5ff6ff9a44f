package chrono

import "time"

// Config holds configuration for the Scheduler.
type Config struct {
	// Concurrency is the maximum number of jobs claimed and executed per
	// dispatch pass.
	Concurrency int

	// PollInterval is how often the dispatch loop wakes up on its own.
	PollInterval time.Duration

	// DrainInterval is the delay between consecutive passes while a
	// backlog remains. It is the floor that keeps backlog draining from
	// turning into a busy loop.
	DrainInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// EventBuffer is the per-subscriber channel capacity of the event bus.
	EventBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		PollInterval:    5 * time.Second,
		DrainInterval:   250 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		EventBuffer:     64,
	}
}
