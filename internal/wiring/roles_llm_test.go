package wiring

import (
	"context"
	"testing"

	"github.com/agora-run/agora/internal/llm"
	"github.com/agora-run/agora/internal/roles"
)

// fakeChatClient is a minimal llm.Client stub that answers Chat with a
// fixed reply, grounded on the teacher's table-driven test style
// (vanilla testing, no assertion library).
type fakeChatClient struct {
	reply string
	err   error
}

func (c *fakeChatClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{Content: c.reply}, nil
}

func (c *fakeChatClient) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Type: llm.TextChunk, Text: c.reply, Done: true}
	close(ch)
	return ch, c.err
}

func (c *fakeChatClient) ModelInfo() *llm.ModelInfo      { return &llm.ModelInfo{} }
func (c *fakeChatClient) Ping(ctx context.Context) error { return nil }
func (c *fakeChatClient) Close() error                   { return nil }

func TestEgoOnceDispatchesExactlyOnce(t *testing.T) {
	ego := NewEgoOnce("task-1", "write the report")

	d, ok, err := ego.NextDispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextDispatch: %v", err)
	}
	if !ok {
		t.Fatal("expected a dispatch on first call")
	}
	if d.TaskID != "task-1" || d.Description != "write the report" {
		t.Errorf("unexpected dispatch: %+v", d)
	}

	_, ok, err = ego.NextDispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextDispatch (second call): %v", err)
	}
	if ok {
		t.Error("expected no dispatch after the task has already been handed out")
	}
}

func TestEgoOnceGeneratesTaskIDWhenEmpty(t *testing.T) {
	ego := NewEgoOnce("", "do something")
	d, ok, err := ego.NextDispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextDispatch: %v", err)
	}
	if !ok {
		t.Fatal("expected a dispatch")
	}
	if d.TaskID == "" {
		t.Error("expected a generated task id, got empty string")
	}
}

func TestEgoOnceIdleWhenNoDescription(t *testing.T) {
	ego := NewEgoOnce("task-1", "")
	_, ok, err := ego.NextDispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextDispatch: %v", err)
	}
	if ok {
		t.Error("expected no dispatch when no task description was configured")
	}
}

func TestPassthroughSuperegoApprovesEverything(t *testing.T) {
	var s PassthroughSuperego

	if err := s.Audit(context.Background()); err != nil {
		t.Errorf("Audit: %v", err)
	}

	approved, err := s.ReviewProposal(context.Background(), roles.Proposal{Title: "anything"})
	if err != nil {
		t.Fatalf("ReviewProposal: %v", err)
	}
	if !approved {
		t.Error("expected PassthroughSuperego to approve every proposal")
	}
}

func TestPassthroughSuperegoEvaluatesByStatus(t *testing.T) {
	var s PassthroughSuperego

	cases := []struct {
		status       roles.TaskStatus
		wantMatches  bool
		wantMinScore int
	}{
		{roles.TaskSuccess, true, 100},
		{roles.TaskPartial, true, 100},
		{roles.TaskFailure, false, 0},
	}

	for _, c := range cases {
		eval, err := s.Evaluate(context.Background(), roles.TaskResult{Status: c.status})
		if err != nil {
			t.Fatalf("Evaluate(%v): %v", c.status, err)
		}
		if eval.OutcomeMatchesIntent != c.wantMatches {
			t.Errorf("status %v: OutcomeMatchesIntent = %v, want %v", c.status, eval.OutcomeMatchesIntent, c.wantMatches)
		}
		if eval.QualityScore != c.wantMinScore {
			t.Errorf("status %v: QualityScore = %d, want %d", c.status, eval.QualityScore, c.wantMinScore)
		}
	}
}

func TestLLMIdProposesGoalFromChatReply(t *testing.T) {
	client := &fakeChatClient{reply: "  refactor the scheduler  "}
	id := NewLLMId(client)

	assessment, err := id.AssessIdle(context.Background())
	if err != nil {
		t.Fatalf("AssessIdle: %v", err)
	}
	if !assessment.Idle {
		t.Error("expected LLMId to always report idle=true")
	}

	proposals, err := id.ProposeGoals(context.Background())
	if err != nil {
		t.Fatalf("ProposeGoals: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected exactly one proposal, got %d", len(proposals))
	}
	if proposals[0].Title != "refactor the scheduler" {
		t.Errorf("expected trimmed title, got %q", proposals[0].Title)
	}
	if proposals[0].ID == "" {
		t.Error("expected a generated proposal id")
	}
}

func TestLLMIdProposesNoGoalOnEmptyReply(t *testing.T) {
	client := &fakeChatClient{reply: "   "}
	id := NewLLMId(client)

	proposals, err := id.ProposeGoals(context.Background())
	if err != nil {
		t.Fatalf("ProposeGoals: %v", err)
	}
	if proposals != nil {
		t.Errorf("expected no proposals for a blank reply, got %v", proposals)
	}
}
