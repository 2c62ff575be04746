package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agora-run/agora/internal/clockwork"
	"github.com/agora-run/agora/internal/idle"
	"github.com/agora-run/agora/internal/roles"
	"github.com/agora-run/agora/internal/scheduler"
	"github.com/agora-run/agora/internal/telemetry"
)

// --- fakes ---

type fakeEgo struct {
	dispatches []roles.Dispatch
	calls      int
}

func (f *fakeEgo) NextDispatch(ctx context.Context, pending []string) (roles.Dispatch, bool, error) {
	if f.calls >= len(f.dispatches) {
		f.calls++
		return roles.Dispatch{}, false, nil
	}
	d := f.dispatches[f.calls]
	f.calls++
	return d, true, nil
}

type fakeSubconscious struct {
	result roles.TaskResult
	err    error
}

func (f *fakeSubconscious) RunTask(ctx context.Context, d roles.Dispatch, pending []string) (roles.TaskResult, error) {
	return f.result, f.err
}

type fakeSuperego struct {
	evalResult roles.EvaluationResult
	evalErr    error
	approve    bool
}

func (f *fakeSuperego) Audit(ctx context.Context) error { return nil }
func (f *fakeSuperego) Evaluate(ctx context.Context, result roles.TaskResult) (roles.EvaluationResult, error) {
	return f.evalResult, f.evalErr
}
func (f *fakeSuperego) ReviewProposal(ctx context.Context, p roles.Proposal) (bool, error) {
	return f.approve, nil
}

type fakeID struct {
	assessment roles.IdleAssessment
	candidates []roles.Proposal
}

func (f *fakeID) AssessIdle(ctx context.Context) (roles.IdleAssessment, error) { return f.assessment, nil }
func (f *fakeID) ProposeGoals(ctx context.Context) ([]roles.Proposal, error)   { return f.candidates, nil }

type fakePlanWriter struct {
	written []string
}

func (f *fakePlanWriter) WriteGoals(ctx context.Context, titles []string) error {
	f.written = titles
	return nil
}

type fakeInputSink struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (f *fakeInputSink) Send(ctx context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeInputSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSessionLauncher struct {
	resultCh chan roles.SessionResult
	logsCh   chan roles.StreamChunk
	input    *fakeInputSink
	err      error
}

func (f *fakeSessionLauncher) Launch(ctx context.Context, prompt string) (<-chan roles.SessionResult, <-chan roles.StreamChunk, roles.InputSink, error) {
	if f.err != nil {
		return nil, nil, nil, f.err
	}
	return f.resultCh, f.logsCh, f.input, nil
}

func testLogger() telemetry.Logger {
	return telemetry.NewStderrLogger(telemetry.LevelError)
}

func defaultTestConfig() LoopConfig {
	return LoopConfig{
		SuperegoAuditInterval:           10,
		MaxConsecutiveIdleCycles:        2,
		IdleSleepEnabled:                true,
		EvaluateOutcomeEnabled:          false,
		EvaluateOutcomeQualityThreshold: 60,
		ConversationIdleTimeout:         30 * time.Millisecond,
	}
}

// --- state machine tests ---

func TestPauseRequiresRunning(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	if err := o.Pause(); err != ErrPauseRequiresRunning {
		t.Fatalf("expected ErrPauseRequiresRunning, got %v", err)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	if err := o.Resume(); err != ErrResumeRequiresPaused {
		t.Fatalf("expected ErrResumeRequiresPaused, got %v", err)
	}
}

func TestStartIllegalFromPaused(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := o.Start(); err != ErrIllegalFromPaused {
		t.Fatalf("expected ErrIllegalFromPaused, got %v", err)
	}
}

func TestStartStopResumeHappyPath(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("expected RUNNING, got %v", o.State())
	}
	if err := o.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if o.State() != StatePaused {
		t.Fatalf("expected PAUSED, got %v", o.State())
	}
	if err := o.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("expected RUNNING after resume, got %v", o.State())
	}
	o.Stop()
	if o.State() != StateStopped {
		t.Fatalf("expected STOPPED, got %v", o.State())
	}
}

func TestWakeIsNoOpWhenNotSleeping(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	o.Wake()
	if o.State() != StateStopped {
		t.Fatalf("expected Wake to be a no-op from STOPPED, got %v", o.State())
	}
}

// --- cycle engine tests ---

func TestRunCycleDispatchSuccessResetsIdleCounter(t *testing.T) {
	ego := &fakeEgo{dispatches: []roles.Dispatch{{TaskID: "t1", Description: "do a thing"}}}
	sub := &fakeSubconscious{result: roles.TaskResult{Status: roles.TaskSuccess, Summary: "done"}}
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, ego, sub, &fakeSuperego{}, nil, scheduler.NewCoordinator(testLogger()), nil, nil, nil, nil)

	result := o.runCycle(context.Background())
	if result.Action != ActionDispatch || !result.Success {
		t.Fatalf("expected a successful dispatch, got %+v", result)
	}
	if o.Metrics().SuccessfulCycles != 1 {
		t.Fatalf("expected SuccessfulCycles=1, got %d", o.Metrics().SuccessfulCycles)
	}
	if o.Metrics().ConsecutiveIdleCycles != 0 {
		t.Fatalf("expected ConsecutiveIdleCycles=0 after success, got %d", o.Metrics().ConsecutiveIdleCycles)
	}
}

func TestRunCycleIdleIncrementsConsecutiveCounter(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, scheduler.NewCoordinator(testLogger()), nil, nil, nil, nil)

	result := o.runCycle(context.Background())
	if result.Action != ActionIdle {
		t.Fatalf("expected an idle cycle, got %+v", result)
	}
	if o.Metrics().ConsecutiveIdleCycles != 1 {
		t.Fatalf("expected ConsecutiveIdleCycles=1, got %d", o.Metrics().ConsecutiveIdleCycles)
	}

	o.runCycle(context.Background())
	if o.Metrics().ConsecutiveIdleCycles != 2 {
		t.Fatalf("expected ConsecutiveIdleCycles=2 after a second idle cycle, got %d", o.Metrics().ConsecutiveIdleCycles)
	}
}

func TestAfterCycleEntersSleepingWhenIdleHandlerFindsNoGoals(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxConsecutiveIdleCycles = 1
	cfg.IdleSleepEnabled = true

	id := &fakeID{assessment: roles.IdleAssessment{Idle: true}} // no candidates -> NoGoals
	handler := idle.NewHandler(testLogger(), id, &fakeSuperego{}, &fakePlanWriter{}, 0)
	o := New(testLogger(), clockwork.RealClock{}, cfg, CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, handler, scheduler.NewCoordinator(testLogger()), nil, nil, nil, nil)
	o.state = StateRunning

	ctx := context.Background()
	o.runCycle(ctx)
	o.afterCycle(ctx)

	if o.State() != StateSleeping {
		t.Fatalf("expected SLEEPING once the idle threshold is hit with no_goals, got %v", o.State())
	}
}

func TestAfterCycleEntersStoppedWhenIdleSleepDisabled(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxConsecutiveIdleCycles = 1
	cfg.IdleSleepEnabled = false

	id := &fakeID{assessment: roles.IdleAssessment{Idle: true}}
	handler := idle.NewHandler(testLogger(), id, &fakeSuperego{}, &fakePlanWriter{}, 0)
	o := New(testLogger(), clockwork.RealClock{}, cfg, CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, handler, scheduler.NewCoordinator(testLogger()), nil, nil, nil, nil)
	o.state = StateRunning

	ctx := context.Background()
	o.runCycle(ctx)
	o.afterCycle(ctx)

	if o.State() != StateStopped {
		t.Fatalf("expected STOPPED when idle-sleep is disabled and no plan is created, got %v", o.State())
	}
}

func TestAfterCycleResetsCounterWhenPlanCreated(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxConsecutiveIdleCycles = 1

	id := &fakeID{
		assessment: roles.IdleAssessment{Idle: true},
		candidates: []roles.Proposal{{ID: "p1", Title: "new goal"}},
	}
	handler := idle.NewHandler(testLogger(), id, &fakeSuperego{approve: true}, &fakePlanWriter{}, 0)
	o := New(testLogger(), clockwork.RealClock{}, cfg, CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, handler, scheduler.NewCoordinator(testLogger()), nil, nil, nil, nil)
	o.state = StateRunning

	ctx := context.Background()
	o.runCycle(ctx)
	o.afterCycle(ctx)

	if o.Metrics().ConsecutiveIdleCycles != 0 {
		t.Fatalf("expected ConsecutiveIdleCycles reset to 0 after plan_created, got %d", o.Metrics().ConsecutiveIdleCycles)
	}
	if o.State() != StateRunning {
		t.Fatalf("expected to remain RUNNING after plan_created, got %v", o.State())
	}
}

// --- injection / conversation gate tests ---

func TestInjectMessageQueuesWhenNoActiveSession(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)

	delivered := o.InjectMessage("hello")
	if delivered {
		t.Fatalf("expected InjectMessage to report not delivered live with no active session")
	}
	o.mu.Lock()
	n := len(o.pending)
	o.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 queued pending message, got %d", n)
	}
}

func TestInjectMessageDeliversLiveWhenSessionActive(t *testing.T) {
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, nil)
	sink := &fakeInputSink{}
	o.mu.Lock()
	o.activeInput = sink
	o.mu.Unlock()

	delivered := o.InjectMessage("hello")
	if !delivered {
		t.Fatalf("expected InjectMessage to report delivered live with an active session")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.sent) != 1 || sink.sent[0] != "hello" {
		t.Fatalf("expected the message forwarded to the active input sink, got %v", sink.sent)
	}
}

func TestHandleUserMessageOpensAndClosesConversationSession(t *testing.T) {
	launcher := &fakeSessionLauncher{
		resultCh: make(chan roles.SessionResult, 1),
		logsCh:   make(chan roles.StreamChunk, 1),
		input:    &fakeInputSink{},
	}
	o := New(testLogger(), clockwork.RealClock{}, defaultTestConfig(), CycleMode, &fakeEgo{}, &fakeSubconscious{}, &fakeSuperego{}, nil, nil, nil, nil, nil, launcher)

	o.HandleUserMessage("hi there")

	o.mu.Lock()
	active := o.conversationActive
	o.mu.Unlock()
	if !active {
		t.Fatalf("expected the conversation gate to be active immediately after HandleUserMessage")
	}

	launcher.resultCh <- roles.SessionResult{Summary: "handled", Success: true}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		stillActive := o.conversationActive
		o.mu.Unlock()
		if !stillActive {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	o.mu.Lock()
	stillActive := o.conversationActive
	o.mu.Unlock()
	if stillActive {
		t.Fatalf("expected the conversation gate to clear once the session result arrives")
	}
	launcher.input.mu.Lock()
	defer launcher.input.mu.Unlock()
	if !launcher.input.closed {
		t.Fatalf("expected the session's input sink to be closed on conversation end")
	}
}
