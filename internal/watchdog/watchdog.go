// Package watchdog detects orchestrator stalls by comparing elapsed time
// since the last recorded activity against a stall threshold, injecting a
// reminder and, if the stall persists, requesting a restart.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/agora-run/agora/internal/clockwork"
	"github.com/agora-run/agora/internal/telemetry"
)

const (
	DefaultCheckInterval     = 5 * time.Minute
	DefaultStallThreshold    = 20 * time.Minute
	DefaultForceRestartAfter = 10 * time.Minute
)

// Watchdog polls on its own cooperative timer, independent of the
// orchestrator's cycle loop, per spec.md's scheduling model.
type Watchdog struct {
	log               telemetry.Logger
	clock             clockwork.Clock
	timer             *clockwork.Timer
	checkInterval     time.Duration
	stallThreshold    time.Duration
	forceRestartAfter time.Duration // 0 disables the force-restart escalation

	mu               sync.Mutex
	lastActivity     time.Time
	firstReminderAt  time.Time
	restartRequested bool
}

// New builds a Watchdog. forceRestartAfter <= 0 disables the
// force-restart escalation entirely (reminders still fire).
func New(log telemetry.Logger, clock clockwork.Clock, checkInterval, stallThreshold, forceRestartAfter time.Duration) *Watchdog {
	return &Watchdog{
		log:               log.With("watchdog"),
		clock:             clock,
		timer:             clockwork.NewTimer(),
		checkInterval:     checkInterval,
		stallThreshold:    stallThreshold,
		forceRestartAfter: forceRestartAfter,
		lastActivity:      clock.Now(),
	}
}

// RecordActivity clears any pending stall state. Every orchestrator entry
// point representing activity (cycle boundary, wake, inject, user
// message) must call this.
func (w *Watchdog) RecordActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivity = w.clock.Now()
	w.firstReminderAt = time.Time{}
	w.restartRequested = false
}

// Wake interrupts an in-progress check-interval wait, used for prompt
// shutdown.
func (w *Watchdog) Wake() {
	w.timer.Wake()
}

// check evaluates the stall condition at now and returns whether a
// reminder should be injected and whether a restart should be requested.
// A restart is requested at most once per stall episode (cleared by the
// next RecordActivity).
func (w *Watchdog) check(now time.Time) (reminder bool, forceRestart bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.lastActivity) < w.stallThreshold {
		return false, false
	}
	if w.firstReminderAt.IsZero() {
		w.firstReminderAt = now
	}
	reminder = true
	if w.forceRestartAfter > 0 && !w.restartRequested && now.Sub(w.firstReminderAt) >= w.forceRestartAfter {
		w.restartRequested = true
		forceRestart = true
	}
	return reminder, forceRestart
}

// Run drives the watchdog's own timer loop until ctx is cancelled,
// calling onReminder with a reminder string on stall and onForceRestart
// once if the stall persists past forceRestartAfter.
func (w *Watchdog) Run(ctx context.Context, onReminder func(string), onForceRestart func()) {
	for {
		w.timer.Sleep(ctx, w.checkInterval)
		if ctx.Err() != nil {
			return
		}

		reminder, forceRestart := w.check(w.clock.Now())
		if reminder {
			w.log.Debug("stall detected, injecting reminder")
			onReminder("It's been a while since the last completed cycle — is there a task to dispatch?")
		}
		if forceRestart {
			w.log.Debug("stall persisted past force-restart threshold")
			onForceRestart()
		}
	}
}
