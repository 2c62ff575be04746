// Package wiring is the composition root: it builds the orchestrator, the
// relay, and the default cognitive-role implementations from a
// config.Config, mirroring the way the teacher's internal/cmd/agentloop.go
// assembles an llm.Client + agentloop.Executor + agentloop.AgentLoop from
// flags and an agents.json file. spec.md places the cognitive roles
// themselves (Ego/Superego/Id) out of scope; the types here are the
// minimal default backend cmd/agora runs against out of the box, built on
// the teacher's own internal/llm and internal/agentloop packages rather
// than left unimplemented.
package wiring

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agora-run/agora/internal/llm"
	"github.com/agora-run/agora/internal/roles"
)

// EgoOnce dispatches a single pre-configured task exactly once, then
// reports idle on every subsequent call. Grounded on the teacher's
// cmd/agentloop.go --task flag / AssignWork one-shot semantics; a real
// multi-task Ego would instead consult a plan file or a queue.
type EgoOnce struct {
	mu          sync.Mutex
	taskID      string
	description string
	dispatched  bool
}

// NewEgoOnce builds an EgoOnce. An empty description makes every call
// idle (useful for exercising the idle/goal-regeneration path alone).
func NewEgoOnce(taskID, description string) *EgoOnce {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	return &EgoOnce{taskID: taskID, description: description}
}

func (e *EgoOnce) NextDispatch(ctx context.Context, pending []string) (roles.Dispatch, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatched || e.description == "" {
		return roles.Dispatch{}, false, nil
	}
	e.dispatched = true
	return roles.Dispatch{TaskID: e.taskID, Description: e.description}, true, nil
}

// PassthroughSuperego is a minimal governance stub: it approves every
// proposal and scores success/failure neutrally. A real deployment
// replaces this with an actual policy/review backend; nothing in
// spec.md's scope requires this module to implement one.
type PassthroughSuperego struct{}

func (PassthroughSuperego) Audit(ctx context.Context) error { return nil }

func (PassthroughSuperego) Evaluate(ctx context.Context, result roles.TaskResult) (roles.EvaluationResult, error) {
	score := 100
	if result.Status == roles.TaskFailure {
		score = 0
	}
	return roles.EvaluationResult{
		QualityScore:         score,
		OutcomeMatchesIntent: result.Status != roles.TaskFailure,
	}, nil
}

func (PassthroughSuperego) ReviewProposal(ctx context.Context, p roles.Proposal) (bool, error) {
	return true, nil
}

// LLMId asks the model for a single next goal once the orchestrator's
// idle threshold is reached, grounded on the teacher's gt_prime polling
// loop pattern in internal/cmd/agentloop.go's runPrimeTicker (prompt the
// model for the next unit of work, assign it) adapted onto roles.Id's
// assess/propose shape.
type LLMId struct {
	client llm.Client
}

// NewLLMId builds an LLMId against client.
func NewLLMId(client llm.Client) *LLMId {
	return &LLMId{client: client}
}

func (i *LLMId) AssessIdle(ctx context.Context) (roles.IdleAssessment, error) {
	return roles.IdleAssessment{Idle: true}, nil
}

func (i *LLMId) ProposeGoals(ctx context.Context) ([]roles.Proposal, error) {
	resp, err := i.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Propose exactly one concise next goal title. Reply with the title alone, nothing else."},
		},
		MaxTokens: 64,
	})
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return nil, nil
	}
	return []roles.Proposal{{ID: uuid.NewString(), Title: title, Confidence: 1}}, nil
}
