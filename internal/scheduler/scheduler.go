// Package scheduler runs a bounded set of periodic jobs — backup,
// validation, metrics, health check, email digest — once per orchestrator
// cycle when each job is due.
package scheduler

import (
	"context"
	"time"

	"github.com/agora-run/agora/internal/telemetry"
)

// Scheduler is a periodic job gated by a predicate. Implementations decide
// their own notion of "due" in ShouldRun; Run performs the job's effect.
type Scheduler interface {
	Name() string
	ShouldRun(ctx context.Context, now time.Time) (bool, error)
	Run(ctx context.Context) error
}

// EventKind identifies a scheduler lifecycle event emitted by the
// coordinator for observability.
type EventKind string

const (
	EventRan      EventKind = "scheduler.ran"
	EventSkipped  EventKind = "scheduler.skipped"
	EventFailed   EventKind = "scheduler.failed"
	EventShouldRun EventKind = "scheduler.should_run_error"
)

// Event is emitted to observers after each scheduler is considered.
type Event struct {
	Kind      EventKind
	Scheduler string
	Err       error
	At        time.Time
}

// Coordinator holds an ordered list of schedulers and runs the due ones
// sequentially, in registration order, at the end of each orchestrator
// cycle. One scheduler's failure never blocks the others.
type Coordinator struct {
	log        telemetry.Logger
	schedulers []Scheduler
	observers  []func(Event)
}

// NewCoordinator builds a Coordinator with no registered schedulers.
func NewCoordinator(log telemetry.Logger) *Coordinator {
	return &Coordinator{log: log.With("scheduler")}
}

// Register appends a scheduler to the end of the registration order.
func (c *Coordinator) Register(s Scheduler) {
	c.schedulers = append(c.schedulers, s)
}

// Observe registers a callback invoked for every scheduler lifecycle event.
func (c *Coordinator) Observe(fn func(Event)) {
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) emit(ev Event) {
	for _, fn := range c.observers {
		fn(ev)
	}
}

// RunDue iterates the registered schedulers in registration order and runs
// every one whose ShouldRun reports true. A ShouldRun or Run error is
// caught, logged at debug level, and surfaced as an event; it never
// interrupts the remaining schedulers or propagates to the caller.
func (c *Coordinator) RunDue(ctx context.Context, now time.Time) {
	for _, s := range c.schedulers {
		due, err := s.ShouldRun(ctx, now)
		if err != nil {
			c.log.Debug("scheduler shouldRun failed", "scheduler", s.Name(), "err", err)
			c.emit(Event{Kind: EventShouldRun, Scheduler: s.Name(), Err: err, At: now})
			continue
		}
		if !due {
			c.emit(Event{Kind: EventSkipped, Scheduler: s.Name(), At: now})
			continue
		}
		if err := s.Run(ctx); err != nil {
			c.log.Debug("scheduler run failed", "scheduler", s.Name(), "err", err)
			c.emit(Event{Kind: EventFailed, Scheduler: s.Name(), Err: err, At: now})
			continue
		}
		c.emit(Event{Kind: EventRan, Scheduler: s.Name(), At: now})
	}
}
