// Package roles declares the interfaces through which the orchestrator
// consumes everything spec.md §1 places out of scope: the reasoning
// session itself and the four cognitive roles (Ego, Subconscious, Superego,
// Id) it drives. Nothing in this package reasons, plans, or generates
// content — it only shapes what an external implementation must expose.
package roles

import "context"

// Dispatch is what Ego returns when it has a task ready for this cycle.
type Dispatch struct {
	TaskID      string
	Description string
}

// TaskResult is what Subconscious returns after attempting a dispatched
// task.
type TaskResult struct {
	Status            TaskStatus
	Summary           string
	ProgressUpdates   []string
	SkillUpdates      []string
	MemoryUpdates     []string
	Proposals         []Proposal
	QualityScore      int // 0-10, only meaningful when reconsideration is heuristic
}

// TaskStatus enumerates Subconscious's verdict on a dispatched task.
type TaskStatus int

const (
	TaskSuccess TaskStatus = iota
	TaskFailure
	TaskPartial
)

// Proposal is a change Subconscious or the Idle Handler wants Superego to
// approve before it takes effect.
type Proposal struct {
	ID         string
	Title      string
	Detail     string
	Confidence float64 // 0..1, used by the Idle Handler's low_confidence_pause variant
}

// EvaluationResult is Superego's verdict on a reconsideration pass.
type EvaluationResult struct {
	QualityScore         int // 0-100
	OutcomeMatchesIntent bool
	NeedsReassessment    bool
}

// Ego decides what to work on next.
type Ego interface {
	// NextDispatch returns the next task to run, or ok=false if idle.
	NextDispatch(ctx context.Context, pending []string) (d Dispatch, ok bool, err error)
}

// Subconscious executes a dispatched task.
type Subconscious interface {
	RunTask(ctx context.Context, d Dispatch, pending []string) (TaskResult, error)
}

// Superego audits the agent's recent behavior and approves/rejects
// proposals.
type Superego interface {
	Audit(ctx context.Context) error
	Evaluate(ctx context.Context, result TaskResult) (EvaluationResult, error)
	ReviewProposal(ctx context.Context, p Proposal) (approved bool, err error)
}

// IdleAssessment is Id's verdict on whether the agent is truly idle.
type IdleAssessment struct {
	Idle   bool
	Reason string
}

// Id generates new goals when the orchestrator has been idle too long.
type Id interface {
	AssessIdle(ctx context.Context) (IdleAssessment, error)
	ProposeGoals(ctx context.Context) ([]Proposal, error)
}

// StreamChunk is one piece of a tick-mode session's running log, grounded
// on the teacher's llm.StreamChunk shape.
type StreamChunk struct {
	Content string
	Done    bool
}

// SessionResult is what a completed tick-mode session produces.
type SessionResult struct {
	Summary string
	Success bool
}

// InputSink lets the orchestrator inject messages into a session that is
// still running, per spec.md §9's "(request) → (result, logs-stream,
// input-sink)" strategy. Implementations must tolerate Send after the
// session has finished (a no-op) and Close being called more than once.
type InputSink interface {
	Send(ctx context.Context, message string) error
	Close() error
}

// SessionLauncher runs one tick-mode reasoning session to completion. The
// returned InputSink is owned by the orchestrator for the session's
// lifetime and is closed by the orchestrator once the session finishes;
// the launcher does not close it.
type SessionLauncher interface {
	Launch(ctx context.Context, prompt string) (result <-chan SessionResult, logs <-chan StreamChunk, input InputSink, err error)
}
