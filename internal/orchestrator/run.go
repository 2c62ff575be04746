package orchestrator

import (
	"context"
	"time"
)

// pauseSleepPoll is the duration Run waits between checks while PAUSED or
// SLEEPING. It is woken immediately by Start/Resume/Wake via timer.Wake,
// so this bound only matters if a wake signal is somehow missed.
const pauseSleepPoll = time.Hour

// Run drives the orchestrator until ctx is cancelled or stop() is
// called. It is meant to be invoked once, from the process's
// composition root. Suspension happens only at the interruptible timer
// waits described in spec.md §5 — the loop body itself is straight-line.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.rootCtx = ctx

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.mu.Lock()
		state := o.state
		rateLimitUntil := o.rateLimitUntil
		o.mu.Unlock()

		switch state {
		case StateStopped:
			return nil

		case StatePaused, StateSleeping:
			o.timer.Sleep(ctx, pauseSleepPoll)
			continue

		case StateRunning:
			o.mu.Lock()
			conversing := o.conversationActive
			o.mu.Unlock()
			if conversing {
				// A conversation session owns the floor (I7); the main
				// drive loop parks until it wakes us on close.
				o.timer.Sleep(ctx, pauseSleepPoll)
				continue
			}
			if !rateLimitUntil.IsZero() {
				o.waitOutRateLimit(ctx, rateLimitUntil)
				continue
			}
			o.runOneIteration(ctx)
			if o.cfg.CycleDelay > 0 {
				o.timer.Sleep(ctx, o.cfg.CycleDelay)
			}
		}
	}
}

// waitOutRateLimit delays until the hibernation target, waking early on
// an explicit Start()/Wake() or context cancellation. On a natural
// (non-early) wake past the target, it clears the marker.
func (o *Orchestrator) waitOutRateLimit(ctx context.Context, until time.Time) {
	d := until.Sub(o.clock.Now())
	if d > 0 {
		o.timer.Sleep(ctx, d)
	}
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	stillLimited := !o.rateLimitUntil.IsZero() && !o.clock.Now().Before(o.rateLimitUntil)
	if stillLimited {
		o.rateLimitUntil = time.Time{}
	}
	o.mu.Unlock()

	if stillLimited {
		if o.rateLimitMgr != nil {
			if err := o.rateLimitMgr.Clear(); err != nil {
				o.log.Debug("failed to clear rate-limit marker", "err", err)
			}
		}
		o.emit(EventWake, "rate limit cleared")
	}
}

// RestoreRateLimit re-arms a pending hibernation from a prior process,
// per spec.md §8 scenario 2. Called once at startup before Run.
func (o *Orchestrator) RestoreRateLimit() error {
	if o.rateLimitMgr == nil {
		return nil
	}
	resetAt, ok, err := o.rateLimitMgr.Restore()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	o.mu.Lock()
	o.rateLimitUntil = resetAt
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) runOneIteration(ctx context.Context) {
	switch o.mode {
	case TickMode:
		o.runTick(ctx)
	default:
		result := o.runCycle(ctx)
		if !result.NoOp {
			o.afterCycle(ctx)
		}
	}
}
