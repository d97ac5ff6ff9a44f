package cron

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/pageforge/chrono"
)

// parser supports standard 5-field cron and descriptors like "@every 30s".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Evaluator parses cron expressions and computes fire times. It has no
// side effects and caches parsed schedules, so a single instance can be
// shared by the trigger manager and the lifecycle API.
type Evaluator struct {
	mu     sync.RWMutex
	parsed map[string]cronlib.Schedule
}

// NewEvaluator creates an Evaluator with an empty schedule cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{parsed: make(map[string]cronlib.Schedule)}
}

// Validate reports whether expr is a well-formed cron expression.
// Returns chrono.ErrInvalidCronExpression wrapped with the parse detail.
func (e *Evaluator) Validate(expr string) error {
	_, err := e.schedule(expr)
	return err
}

// NextAfter returns the first fire time of expr strictly after from.
// Fails with chrono.ErrInvalidCronExpression if the syntax is malformed.
func (e *Evaluator) NextAfter(expr string, from time.Time) (time.Time, error) {
	sched, err := e.schedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// schedule returns the cached parsed schedule for expr, parsing on miss.
func (e *Evaluator) schedule(expr string) (cronlib.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", chrono.ErrInvalidCronExpression)
	}

	e.mu.RLock()
	sched, ok := e.parsed[expr]
	e.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", chrono.ErrInvalidCronExpression, expr, err)
	}

	e.mu.Lock()
	e.parsed[expr] = sched
	e.mu.Unlock()
	return sched, nil
}
