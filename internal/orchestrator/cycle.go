package orchestrator

import (
	"context"

	"github.com/agora-run/agora/internal/drivequality"
	"github.com/agora-run/agora/internal/idle"
	"github.com/agora-run/agora/internal/roles"
)

// runCycle implements the 11-step cycle engine algorithm from spec.md
// §4.1. It is the CycleMode iteration body.
func (o *Orchestrator) runCycle(ctx context.Context) CycleResult {
	// Step 1: already processing → no-op.
	o.mu.Lock()
	if o.processing {
		o.mu.Unlock()
		return CycleResult{NoOp: true}
	}
	// Step 2: conversation gate active → mark tickRequested, no-op.
	if o.conversationActive {
		o.tickRequested = true
		o.mu.Unlock()
		return CycleResult{NoOp: true}
	}
	o.processing = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
	}()

	// Step 3.
	o.mu.Lock()
	o.metrics.TotalCycles++
	cycleNumber := o.metrics.TotalCycles
	o.mu.Unlock()
	o.recordActivity()

	o.mu.Lock()
	pendingTexts := o.drainPendingLocked()
	o.mu.Unlock()

	// Step 4.
	dispatch, ok, err := o.ego.NextDispatch(ctx, pendingTexts)
	if err != nil {
		o.log.Debug("ego.NextDispatch failed", "err", err)
		return CycleResult{CycleNumber: cycleNumber, Action: ActionIdle, Success: false, Summary: err.Error()}
	}

	var result CycleResult
	if !ok {
		o.mu.Lock()
		o.metrics.IdleCycles++
		o.metrics.ConsecutiveIdleCycles++
		o.mu.Unlock()
		o.emit(EventIdle, "no dispatch available")
		result = CycleResult{CycleNumber: cycleNumber, Action: ActionIdle, Success: true}
	} else {
		result = o.runDispatch(ctx, cycleNumber, dispatch, pendingTexts)
	}

	// Step 9.
	o.emit(EventCycleComplete, result.Summary)
	o.recordActivity()

	// Step 10.
	o.mu.Lock()
	auditDue := o.auditRequested || (o.cfg.SuperegoAuditInterval > 0 && cycleNumber%o.cfg.SuperegoAuditInterval == 0)
	o.auditRequested = false
	o.mu.Unlock()
	if auditDue {
		o.runAudit(ctx)
	}

	// Step 11.
	if o.schedulerCoord != nil {
		o.schedulerCoord.RunDue(ctx, o.clock.Now())
	}

	o.scanForRateLimit(result.Summary, result.TaskID)

	return result
}

// runDispatch covers steps 5-8: running the task through Subconscious,
// the drive-quality rating, proposal review, and reconsideration.
func (o *Orchestrator) runDispatch(ctx context.Context, cycleNumber int, dispatch roles.Dispatch, pendingTexts []string) CycleResult {
	taskResult, err := o.subconscious.RunTask(ctx, dispatch, pendingTexts)
	if err != nil {
		o.mu.Lock()
		o.metrics.FailedCycles++
		o.metrics.ConsecutiveIdleCycles = 0
		o.mu.Unlock()
		return CycleResult{CycleNumber: cycleNumber, Action: ActionDispatch, TaskID: dispatch.TaskID, Success: false, Summary: err.Error()}
	}

	switch taskResult.Status {
	case roles.TaskSuccess:
		o.mu.Lock()
		o.metrics.SuccessfulCycles++
		o.metrics.ConsecutiveIdleCycles = 0
		o.mu.Unlock()
		for _, u := range taskResult.ProgressUpdates {
			o.log.Debug("progress update", "task", dispatch.TaskID, "update", u)
		}
	case roles.TaskPartial:
		o.mu.Lock()
		o.metrics.ConsecutiveIdleCycles = 0
		o.mu.Unlock()
	case roles.TaskFailure:
		o.mu.Lock()
		o.metrics.FailedCycles++
		o.metrics.ConsecutiveIdleCycles = 0
		o.mu.Unlock()
	}

	// Step 6: drive-quality rating.
	if o.driveTracker != nil && drivequality.IsIDGenerated(dispatch.Description) {
		if err := o.driveTracker.Record(dispatch.TaskID, dispatch.Description, taskResult); err != nil {
			o.log.Debug("drive-quality record failed", "err", err)
		}
	}

	// Step 7.
	if len(taskResult.Proposals) > 0 {
		o.applyProposals(ctx, taskResult.Proposals)
	}

	// Step 8.
	if taskResult.Status == roles.TaskSuccess || taskResult.Status == roles.TaskPartial {
		o.reconsider(ctx, taskResult)
	}

	return CycleResult{
		CycleNumber: cycleNumber,
		Action:      ActionDispatch,
		TaskID:      dispatch.TaskID,
		Success:     taskResult.Status != roles.TaskFailure,
		Summary:     taskResult.Summary,
	}
}

// afterCycle implements the post-cycle idle-threshold check: invoke the
// Idle Handler once consecutiveIdleCycles reaches the configured maximum,
// then decide whether the loop keeps running, sleeps, or stops.
func (o *Orchestrator) afterCycle(ctx context.Context) {
	o.mu.Lock()
	idleCount := o.metrics.ConsecutiveIdleCycles
	threshold := o.cfg.MaxConsecutiveIdleCycles
	o.mu.Unlock()

	if threshold <= 0 || idleCount < threshold {
		return
	}
	if o.idleHandler == nil {
		return
	}

	result, err := o.idleHandler.Run(ctx)
	if err != nil {
		o.log.Debug("idle handler failed", "err", err)
		return
	}

	if result.Outcome == idle.PlanCreated {
		o.mu.Lock()
		o.metrics.ConsecutiveIdleCycles = 0
		o.mu.Unlock()
		return
	}

	if o.cfg.IdleSleepEnabled {
		o.setState(StateSleeping)
	} else {
		o.setState(StateStopped)
	}
}
