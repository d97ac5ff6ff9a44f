// Package store defines the full persistence contract implemented by the
// backend drivers in the subpackages memory, postgres, and mongo.
package store

import (
	"context"

	"github.com/pageforge/chrono/job"
)

// Store is the complete persistence interface: the job store contract plus
// backend lifecycle. Every driver in the subpackages satisfies it.
type Store interface {
	job.Store

	// Migrate creates or upgrades the backing schema. Idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases the backend connection. The store must not be used
	// after Close returns.
	Close() error
}
