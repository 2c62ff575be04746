// Package orchestrator implements the cognitive loop orchestrator: the
// single-owner state machine that drives an agent through perpetual
// cycles of task dispatch, evaluation, goal regeneration, periodic
// governance audits, sleep/wake transitions, rate-limit hibernation, and
// concurrent message injection from peers and human operators.
package orchestrator

import "time"

// LoopState is the orchestrator's state machine value. Exactly one value
// holds at a time; legal transitions are enforced by the public contract
// methods in orchestrator.go.
type LoopState string

const (
	StateStopped  LoopState = "STOPPED"
	StateRunning  LoopState = "RUNNING"
	StatePaused   LoopState = "PAUSED"
	StateSleeping LoopState = "SLEEPING"
)

// LoopMetrics are the running counters spec.md §3 names. ConsecutiveIdle
// resets to zero on any non-idle cycle or a successful plan creation.
type LoopMetrics struct {
	TotalCycles           int
	SuccessfulCycles      int
	FailedCycles          int
	IdleCycles            int
	ConsecutiveIdleCycles int
	SuperegoAudits        int
}

// LoopConfig is immutable once the Orchestrator is constructed.
type LoopConfig struct {
	CycleDelay                      time.Duration
	SuperegoAuditInterval           int // cycles
	MaxConsecutiveIdleCycles        int
	IdleSleepEnabled                bool
	EvaluateOutcomeEnabled          bool
	EvaluateOutcomeQualityThreshold int // 0-100

	// ConversationIdleTimeout and ConversationMaxDuration bound a
	// conversation session's lifetime (§4.1.3, §8).
	ConversationIdleTimeout time.Duration
	ConversationMaxDuration time.Duration

	// StopGraceDeadline holds the configured stop grace period. Stop does
	// not read it: Stop sets STOPPED and wakes the loop at once, without
	// waiting for an in-flight cycle or session to finish.
	StopGraceDeadline time.Duration
}

// CycleAction distinguishes a cycle that dispatched a task from one that
// found nothing to do.
type CycleAction string

const (
	ActionDispatch CycleAction = "dispatch"
	ActionIdle     CycleAction = "idle"
)

// CycleResult is produced once per cycle.
type CycleResult struct {
	CycleNumber int
	Action      CycleAction
	TaskID      string
	Success     bool
	Summary     string
	NoOp        bool // true when the cycle engine declined to run at all
}

// PendingMessage is a user/peer message queued for the next cycle or
// session because no session was active to receive it live.
type PendingMessage struct {
	Text      string
	ArrivedAt time.Time
}
