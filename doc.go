// Package chrono provides a persistent, library-first job scheduler for
// Go. It accepts cron-recurring, one-shot, and delayed jobs, persists them
// through a pluggable store, polls for due work under a concurrency cap,
// dispatches to registered handlers, and manages retry backoff,
// cancellation, and retention cleanup.
//
// chrono is a library, not a service. Import it, configure a store, and
// register handlers as ordinary Go functions.
//
// # Quick Start
//
//	s, err := chrono.New(
//	    chrono.WithStore(pgStore),
//	    chrono.WithConcurrency(5),
//	)
//
// Then build an engine on top with the engine package, which exposes the
// job lifecycle API (create, list, cancel, retry, delete, cleanup).
//
// # Architecture
//
// The job package defines the Job entity, handler registry, and store
// contract; the cron package evaluates cron expressions and owns one live
// timer per recurring template; the worker package runs the dispatch loop;
// the event package broadcasts lifecycle notifications. A single backend
// (store/postgres, store/mongo, or store/memory) implements the store
// contract.
//
// All job IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package chrono
