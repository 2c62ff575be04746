package orchestrator

import "errors"

// Errors returned by the public state-machine contract when called from
// an illegal state. These never occur mid-cycle; the cycle engine itself
// never returns an error (recoverable failures surface as a CycleResult
// with Success=false, per spec.md §7).
var (
	ErrIllegalFromPaused  = errors.New("orchestrator: start() is illegal from PAUSED")
	ErrPauseRequiresRunning  = errors.New("orchestrator: pause() requires RUNNING")
	ErrResumeRequiresPaused  = errors.New("orchestrator: resume() requires PAUSED")
)
