package orchestrator

import (
	"context"
	"strings"
	"time"
)

const defaultConversationIdleTimeout = 20 * time.Second

// buildTickPrompt combines any pending messages into the single prompt a
// tick-mode iteration hands the reasoning session. Prompt content itself
// is otherwise owner-defined — out of scope per spec.md §1.
func buildTickPrompt(pending []string) string {
	if len(pending) == 0 {
		return "continue"
	}
	return strings.Join(pending, "\n")
}

// runTick is the TickMode iteration body: build a prompt, run one
// reasoning session to completion, draining any newly arrived pending
// messages into it via mid-flight inject as it runs.
func (o *Orchestrator) runTick(ctx context.Context) {
	o.mu.Lock()
	if o.processing || o.conversationActive {
		o.mu.Unlock()
		return
	}
	o.processing = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.processing = false
		o.activeInput = nil
		o.mu.Unlock()
	}()

	o.mu.Lock()
	o.metrics.TotalCycles++
	pendingTexts := o.drainPendingLocked()
	o.mu.Unlock()
	o.recordActivity()

	if o.sessionLauncher == nil {
		o.log.Debug("tick mode requires a session launcher; none configured")
		return
	}

	resultCh, logsCh, input, err := o.sessionLauncher.Launch(ctx, buildTickPrompt(pendingTexts))
	if err != nil {
		o.log.Debug("tick session launch failed", "err", err)
		return
	}
	o.mu.Lock()
	o.activeInput = input
	o.mu.Unlock()
	defer input.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-logsCh:
			if !ok {
				logsCh = nil
				continue
			}
			_ = chunk
			o.drainPendingIntoLiveSession(ctx, input)
		case res, ok := <-resultCh:
			if !ok {
				return
			}
			o.emit(EventCycleComplete, res.Summary)
			o.recordActivity()
			o.scanForRateLimit(res.Summary, "")
			return
		}
	}
}

func (o *Orchestrator) drainPendingIntoLiveSession(ctx context.Context, input interface {
	Send(context.Context, string) error
}) {
	o.mu.Lock()
	texts := o.drainPendingLocked()
	o.mu.Unlock()
	for _, t := range texts {
		if err := input.Send(ctx, t); err != nil {
			o.log.Debug("failed to forward pending message to live session", "err", err)
		}
	}
}

// runConversationSession implements §4.1.3's gate: a single conversation
// session bounded by an idle-timeout and an optional absolute-duration
// cap, exclusively serializing against cycle/tick work (I7).
func (o *Orchestrator) runConversationSession(initial string) {
	ctx := o.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if o.sessionLauncher == nil {
		o.log.Debug("conversation session requires a session launcher; none configured")
		o.mu.Lock()
		o.conversationActive = false
		o.mu.Unlock()
		return
	}

	resultCh, logsCh, input, err := o.sessionLauncher.Launch(ctx, initial)
	if err != nil {
		o.log.Debug("conversation session launch failed", "err", err)
		o.mu.Lock()
		o.conversationActive = false
		o.mu.Unlock()
		return
	}
	o.mu.Lock()
	o.activeInput = input
	o.mu.Unlock()

	idleTimeout := o.cfg.ConversationIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultConversationIdleTimeout
	}
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	var maxDeadline <-chan time.Time
	if o.cfg.ConversationMaxDuration > 0 {
		maxTimer := time.NewTimer(o.cfg.ConversationMaxDuration)
		defer maxTimer.Stop()
		maxDeadline = maxTimer.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-maxDeadline:
			break loop
		case <-idleTimer.C:
			break loop
		case chunk, ok := <-logsCh:
			if !ok {
				logsCh = nil
				continue
			}
			_ = chunk
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(idleTimeout)
			o.drainPendingIntoLiveSession(ctx, input)
		case res, ok := <-resultCh:
			_ = res
			if !ok {
				break loop
			}
			break loop
		}
	}

	input.Close()

	o.mu.Lock()
	o.activeInput = nil
	o.conversationActive = false
	tickRequested := o.tickRequested
	o.tickRequested = false
	o.mu.Unlock()

	if tickRequested {
		o.runOneIteration(ctx)
	}
	// Either way, the main drive loop may be parked waiting for the gate
	// to clear; wake it so it resumes its normal cadence.
	o.timer.Wake()
}
