package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agora-run/agora/internal/clockwork"
	"github.com/agora-run/agora/internal/drivequality"
	"github.com/agora-run/agora/internal/idle"
	"github.com/agora-run/agora/internal/ratelimit"
	"github.com/agora-run/agora/internal/roles"
	"github.com/agora-run/agora/internal/scheduler"
	"github.com/agora-run/agora/internal/telemetry"
	"github.com/agora-run/agora/internal/watchdog"
)

// Mode selects which of the two interchangeable drive loops an iteration
// runs: dispatch-one-task-per-iteration, or run-one-reasoning-session-
// to-completion.
type Mode string

const (
	CycleMode Mode = "cycle"
	TickMode  Mode = "tick"
)

// Orchestrator is the single-owner state machine described in spec.md
// §4.1. All mutable state lives behind mu; the public contract methods
// (Start/Pause/Resume/Stop/Wake/RequestAudit/RequestRestart/
// InjectMessage/HandleUserMessage) are safe to call from any goroutine.
type Orchestrator struct {
	log   telemetry.Logger
	clock clockwork.Clock
	timer *clockwork.Timer
	cfg   LoopConfig
	mode  Mode

	ego             roles.Ego
	subconscious    roles.Subconscious
	superego        roles.Superego
	idleHandler     *idle.Handler
	schedulerCoord  *scheduler.Coordinator
	wd              *watchdog.Watchdog
	rateLimitMgr    *ratelimit.StateManager
	driveTracker    *drivequality.Tracker
	sessionLauncher roles.SessionLauncher // required for TickMode and conversation sessions

	observers []func(Event)

	mu                 sync.Mutex
	state              LoopState
	metrics            LoopMetrics
	rateLimitUntil     time.Time
	processing         bool
	auditRequested     bool
	pending            []PendingMessage
	conversationActive bool
	tickRequested      bool
	activeInput        roles.InputSink
	restartRequested   bool

	rootCtx context.Context
}

// New builds an Orchestrator. sessionLauncher may be nil when mode is
// CycleMode and no conversation-session support is needed.
func New(
	log telemetry.Logger,
	clock clockwork.Clock,
	cfg LoopConfig,
	mode Mode,
	ego roles.Ego,
	subconscious roles.Subconscious,
	superego roles.Superego,
	idleHandler *idle.Handler,
	schedulerCoord *scheduler.Coordinator,
	wd *watchdog.Watchdog,
	rateLimitMgr *ratelimit.StateManager,
	driveTracker *drivequality.Tracker,
	sessionLauncher roles.SessionLauncher,
) *Orchestrator {
	return &Orchestrator{
		log:             log.With("orchestrator"),
		clock:           clock,
		timer:           clockwork.NewTimer(),
		cfg:             cfg,
		mode:            mode,
		ego:             ego,
		subconscious:    subconscious,
		superego:        superego,
		idleHandler:     idleHandler,
		schedulerCoord:  schedulerCoord,
		wd:              wd,
		rateLimitMgr:    rateLimitMgr,
		driveTracker:    driveTracker,
		sessionLauncher: sessionLauncher,
		state:           StateStopped,
	}
}

// State returns the current loop state.
func (o *Orchestrator) State() LoopState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Metrics returns a snapshot of the running counters.
func (o *Orchestrator) Metrics() LoopMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics
}

// RestartRequested reports whether requestRestart() was called; the
// caller (cmd/agora) checks this after Run returns to decide whether to
// exit with the supervised-restart sentinel code.
func (o *Orchestrator) RestartRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.restartRequested
}

func (o *Orchestrator) setState(s LoopState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.emit(EventStateChange, string(s))
}

// Start: STOPPED→RUNNING, or SLEEPING→RUNNING (wake), or RUNNING while
// rate-limited (clears the rate-limit and wakes the timer). Illegal from
// PAUSED.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	switch o.state {
	case StateStopped, StateSleeping:
		o.state = StateRunning
	case StateRunning:
		if !o.rateLimitUntil.IsZero() {
			o.rateLimitUntil = time.Time{}
			if o.rateLimitMgr != nil {
				_ = o.rateLimitMgr.Clear()
			}
		}
	case StatePaused:
		o.mu.Unlock()
		return ErrIllegalFromPaused
	}
	o.mu.Unlock()
	o.emit(EventStateChange, string(StateRunning))
	o.timer.Wake()
	return nil
}

// Pause: RUNNING→PAUSED. Illegal otherwise.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return ErrPauseRequiresRunning
	}
	o.state = StatePaused
	o.mu.Unlock()
	o.emit(EventStateChange, string(StatePaused))
	return nil
}

// Resume: PAUSED→RUNNING. Illegal otherwise.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if o.state != StatePaused {
		o.mu.Unlock()
		return ErrResumeRequiresPaused
	}
	o.state = StateRunning
	o.mu.Unlock()
	o.emit(EventStateChange, string(StateRunning))
	o.timer.Wake()
	return nil
}

// Stop transitions to STOPPED from any state and wakes the drive loop so
// Run can observe the new state and return promptly.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.emit(EventStateChange, string(StateStopped))
	o.timer.Wake()
	if o.wd != nil {
		o.wd.Wake()
	}
}

// Wake: SLEEPING→RUNNING, resuming the drive loop. Safe from any
// goroutine.
func (o *Orchestrator) Wake() {
	o.mu.Lock()
	if o.state != StateSleeping {
		o.mu.Unlock()
		return
	}
	o.state = StateRunning
	o.mu.Unlock()
	o.emit(EventStateChange, string(StateRunning))
	o.timer.Wake()
}

// RequestAudit sets a one-shot flag; the next cycle runs an audit
// regardless of the configured interval.
func (o *Orchestrator) RequestAudit() {
	o.mu.Lock()
	o.auditRequested = true
	o.mu.Unlock()
}

// RequestRestart transitions to STOPPED and marks RestartRequested so the
// caller exits with the supervised-restart sentinel code.
func (o *Orchestrator) RequestRestart() {
	o.mu.Lock()
	o.restartRequested = true
	o.mu.Unlock()
	o.Stop()
}

// InjectMessage forwards text to an in-flight session's mid-flight input
// channel if one is active, else appends it to the pending FIFO and wakes
// the timer so the next cycle fires immediately. Returns whether the
// message was delivered live.
func (o *Orchestrator) InjectMessage(text string) bool {
	o.mu.Lock()
	input := o.activeInput
	o.mu.Unlock()

	if input != nil {
		ctx := o.rootCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := input.Send(ctx, text); err == nil {
			o.emit(EventInjection, "delivered live")
			return true
		}
	}

	o.mu.Lock()
	o.pending = append(o.pending, PendingMessage{Text: text, ArrivedAt: o.clock.Now()})
	o.mu.Unlock()
	o.emit(EventInjection, "queued pending")
	o.timer.Wake()
	return false
}

// HandleUserMessage is the interactive variant: wakes from sleep if
// needed; if a cycle/tick is mid-flight, injects; else opens a
// conversation session that runs exclusively until idle-timeout or
// success (the I7 gate).
func (o *Orchestrator) HandleUserMessage(text string) {
	o.Wake()

	o.mu.Lock()
	if o.processing || o.conversationActive {
		input := o.activeInput
		o.mu.Unlock()
		if input != nil {
			ctx := o.rootCtx
			if ctx == nil {
				ctx = context.Background()
			}
			if err := input.Send(ctx, text); err == nil {
				return
			}
		}
		o.mu.Lock()
		o.pending = append(o.pending, PendingMessage{Text: text, ArrivedAt: o.clock.Now()})
		o.mu.Unlock()
		return
	}
	o.conversationActive = true
	o.mu.Unlock()

	go o.runConversationSession(text)
}

func (o *Orchestrator) drainPendingLocked() []string {
	texts := make([]string, len(o.pending))
	for i, p := range o.pending {
		texts[i] = p.Text
	}
	o.pending = nil
	return texts
}

// recordActivity stamps the watchdog's last-activity timestamp. Every
// orchestrator entry point representing activity calls this.
func (o *Orchestrator) recordActivity() {
	if o.wd != nil {
		o.wd.RecordActivity()
	}
}

// scanForRateLimit inspects a cycle summary for a rate-limit reset signal
// and, if found, persists hibernation context and arms rateLimitUntil.
func (o *Orchestrator) scanForRateLimit(summary, taskID string) {
	if summary == "" || o.rateLimitMgr == nil {
		return
	}
	resetAt, ok := ratelimit.ParseResetSignal(summary, o.clock.Now())
	if !ok {
		return
	}
	if err := o.rateLimitMgr.Hibernate(resetAt, taskID); err != nil {
		o.log.Debug("failed to persist rate-limit hibernation", "err", err)
	}
	o.mu.Lock()
	o.rateLimitUntil = resetAt
	o.mu.Unlock()
	o.emit(EventHibernate, resetAt.Format(time.RFC3339))
}

// reconsider implements §4.1.1, possibly setting the one-shot audit flag.
func (o *Orchestrator) reconsider(ctx context.Context, result roles.TaskResult) {
	var eval roles.EvaluationResult

	useHeuristic := !o.cfg.EvaluateOutcomeEnabled
	if useHeuristic {
		score := result.QualityScore * 10
		if score >= o.cfg.EvaluateOutcomeQualityThreshold {
			eval = roles.EvaluationResult{
				QualityScore:         score,
				OutcomeMatchesIntent: result.Status != roles.TaskFailure,
				NeedsReassessment:    score == 0,
			}
		} else {
			useHeuristic = false
		}
	}
	if !useHeuristic {
		var err error
		eval, err = o.superego.Evaluate(ctx, result)
		if err != nil {
			o.log.Debug("reconsideration evaluate failed", "err", err)
			return
		}
	}

	if eval.QualityScore < 50 || eval.NeedsReassessment {
		o.mu.Lock()
		o.auditRequested = true
		o.mu.Unlock()
	}
	o.emit(EventReconsideration, fmt.Sprintf("quality=%d matches=%v reassess=%v", eval.QualityScore, eval.OutcomeMatchesIntent, eval.NeedsReassessment))
}

// runAudit fires an async, fire-and-forget governance audit. Failures are
// logged, never fatal, per spec.md §7.
func (o *Orchestrator) runAudit(ctx context.Context) {
	o.mu.Lock()
	o.metrics.SuperegoAudits++
	o.mu.Unlock()
	go func() {
		if err := o.superego.Audit(ctx); err != nil {
			o.log.Debug("superego audit failed", "err", err)
		}
		o.emit(EventAudit, "completed")
	}()
}

// applyProposals presents each proposal to Superego and logs its verdict.
// "Applying" an accepted proposal is domain-specific and owner-defined;
// the orchestrator's role is only to route the review, not to interpret
// the proposal's content.
func (o *Orchestrator) applyProposals(ctx context.Context, proposals []roles.Proposal) {
	for _, p := range proposals {
		approved, err := o.superego.ReviewProposal(ctx, p)
		if err != nil {
			o.log.Debug("proposal review failed", "proposal", p.ID, "err", err)
			continue
		}
		o.log.Debug("proposal reviewed", "proposal", p.ID, "approved", approved)
	}
}
