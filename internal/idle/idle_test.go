package idle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agora-run/agora/internal/roles"
	"github.com/agora-run/agora/internal/telemetry"
)

type fakeID struct {
	assessment roles.IdleAssessment
	assessErr  error
	candidates []roles.Proposal
	proposeErr error
}

func (f *fakeID) AssessIdle(ctx context.Context) (roles.IdleAssessment, error) {
	return f.assessment, f.assessErr
}
func (f *fakeID) ProposeGoals(ctx context.Context) ([]roles.Proposal, error) {
	return f.candidates, f.proposeErr
}

type fakeSuperego struct {
	approve map[string]bool
}

func (f *fakeSuperego) Audit(ctx context.Context) error { return nil }
func (f *fakeSuperego) Evaluate(ctx context.Context, result roles.TaskResult) (roles.EvaluationResult, error) {
	return roles.EvaluationResult{}, nil
}
func (f *fakeSuperego) ReviewProposal(ctx context.Context, p roles.Proposal) (bool, error) {
	return f.approve[p.ID], nil
}

func newTestHandler(t *testing.T, id roles.Id, superego roles.Superego, confidence float64) (*Handler, string) {
	t.Helper()
	planPath := filepath.Join(t.TempDir(), "plan.md")
	h := NewHandler(telemetry.NewStderrLogger(telemetry.LevelError), id, superego, NewMarkdownPlanWriter(planPath), confidence)
	return h, planPath
}

func TestRunReturnsNotIdleWhenIdAssessesActive(t *testing.T) {
	h, _ := newTestHandler(t, &fakeID{assessment: roles.IdleAssessment{Idle: false, Reason: "still working"}}, &fakeSuperego{}, 0)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != NotIdle {
		t.Fatalf("expected NotIdle, got %v", result.Outcome)
	}
	if result.Reason != "still working" {
		t.Fatalf("expected reason to carry through, got %q", result.Reason)
	}
}

func TestRunReturnsNoGoalsWhenProposalsEmpty(t *testing.T) {
	h, _ := newTestHandler(t, &fakeID{assessment: roles.IdleAssessment{Idle: true}}, &fakeSuperego{}, 0)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != NoGoals {
		t.Fatalf("expected NoGoals, got %v", result.Outcome)
	}
}

func TestRunCreatesPlanWhenSomeCandidatesApproved(t *testing.T) {
	id := &fakeID{
		assessment: roles.IdleAssessment{Idle: true},
		candidates: []roles.Proposal{
			{ID: "p1", Title: "write docs", Confidence: 0.9},
			{ID: "p2", Title: "refactor parser", Confidence: 0.9},
		},
	}
	superego := &fakeSuperego{approve: map[string]bool{"p1": true, "p2": false}}
	h, planPath := newTestHandler(t, id, superego, 0)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != PlanCreated || result.ApprovedCount != 1 {
		t.Fatalf("expected PlanCreated with count 1, got %v count=%d", result.Outcome, result.ApprovedCount)
	}

	plan, err := os.ReadFile(planPath)
	if err != nil {
		t.Fatalf("reading plan: %v", err)
	}
	if !strings.Contains(string(plan), "write docs") {
		t.Fatalf("expected plan to include the approved goal")
	}
	if strings.Contains(string(plan), "refactor parser") {
		t.Fatalf("expected plan to exclude the rejected goal")
	}
}

func TestRunReturnsAllRejectedWhenSuperegoApprovesNone(t *testing.T) {
	id := &fakeID{
		assessment: roles.IdleAssessment{Idle: true},
		candidates: []roles.Proposal{{ID: "p1", Title: "risky change"}},
	}
	superego := &fakeSuperego{approve: map[string]bool{}}
	h, _ := newTestHandler(t, id, superego, 0)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != AllRejected {
		t.Fatalf("expected AllRejected, got %v", result.Outcome)
	}
}

func TestRunShortCircuitsToLowConfidencePause(t *testing.T) {
	id := &fakeID{
		assessment: roles.IdleAssessment{Idle: true},
		candidates: []roles.Proposal{{ID: "p1", Title: "uncertain idea", Confidence: 0.2}},
	}
	h, _ := newTestHandler(t, id, &fakeSuperego{approve: map[string]bool{"p1": true}}, 0.5)

	result, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != LowConfidencePause {
		t.Fatalf("expected LowConfidencePause, got %v", result.Outcome)
	}
}

func TestRunPropagatesIdAssessError(t *testing.T) {
	h, _ := newTestHandler(t, &fakeID{assessErr: errors.New("id unavailable")}, &fakeSuperego{}, 0)

	if _, err := h.Run(context.Background()); err == nil {
		t.Fatalf("expected error to propagate from AssessIdle")
	}
}
