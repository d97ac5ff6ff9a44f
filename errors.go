package chrono

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("chrono: no store configured")
	ErrStoreClosed = errors.New("chrono: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("chrono: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("chrono: job already exists")

	// State errors.
	ErrInvalidState = errors.New("chrono: invalid state transition")

	// Cron errors.
	ErrInvalidCronExpression = errors.New("chrono: invalid cron expression")
)

// ValidationError reports a missing or invalid field on a create request.
// Validation failures are rejected before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chrono: invalid %s: %s", e.Field, e.Reason)
}

// NoHandlerError is recorded as a job's failure when dispatch finds no
// registered handler for the job's name. It consumes a retry attempt and
// never crashes the dispatch loop.
type NoHandlerError struct {
	Name string
}

func (e *NoHandlerError) Error() string {
	return "NoHandler: " + e.Name
}
