package wiring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agora-run/agora/internal/agentloop"
	"github.com/agora-run/agora/internal/llm"
	"github.com/agora-run/agora/internal/roles"
)

// AgentLoopSubconscious runs a dispatched task through the teacher's
// think-act-observe engine (internal/agentloop.AgentLoop), giving the
// Subconscious role real tool-calling (file/git/shell) instead of a
// single unary Chat reply. One AgentLoop/Executor pair is built per
// RunTask call, sandboxed to workDir, and torn down once the task
// finishes or the agentloop's own max-iteration/idle bounds stop it.
type AgentLoopSubconscious struct {
	client       llm.Client
	workDir      string
	systemPrompt string
	maxTokens    int
}

// NewAgentLoopSubconscious builds an AgentLoopSubconscious whose tool
// calls are sandboxed to workDir.
func NewAgentLoopSubconscious(client llm.Client, workDir, systemPrompt string, maxTokens int) *AgentLoopSubconscious {
	return &AgentLoopSubconscious{client: client, workDir: workDir, systemPrompt: systemPrompt, maxTokens: maxTokens}
}

func (s *AgentLoopSubconscious) RunTask(ctx context.Context, d roles.Dispatch, pending []string) (roles.TaskResult, error) {
	task := d.Description
	if len(pending) > 0 {
		task = task + "\n\n" + strings.Join(pending, "\n")
	}

	executor := agentloop.NewExecutor(s.workDir, d.TaskID, "subconscious")

	type outcome struct {
		iterations  int
		totalTokens int
		err         error
	}
	done := make(chan outcome, 1)

	cfg := &agentloop.AgentLoopConfig{
		SystemPrompt:     s.systemPrompt,
		MaxTokensPerTask: s.maxTokens,
		Role:             "subconscious",
		TaskID:           d.TaskID,
		OnTaskComplete: func(task string, iterations int, totalTokens int, err error) {
			done <- outcome{iterations: iterations, totalTokens: totalTokens, err: err}
		},
	}

	loop := agentloop.NewAgentLoop(s.client, executor, cfg)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- loop.Start(loopCtx) }()

	if !waitForLoopRunning(loopCtx, loop, 5*time.Second) {
		cancel()
		return roles.TaskResult{Status: roles.TaskFailure, Summary: "subconscious loop did not start"}, nil
	}
	if err := loop.AssignWork(task); err != nil {
		cancel()
		return roles.TaskResult{Status: roles.TaskFailure, Summary: fmt.Sprintf("assigning task: %v", err)}, nil
	}

	select {
	case out := <-done:
		cancel()
		_ = loop.Stop()
		if out.err != nil {
			return roles.TaskResult{Status: roles.TaskFailure, Summary: out.err.Error()}, nil
		}
		return roles.TaskResult{
			Status:       roles.TaskSuccess,
			Summary:      fmt.Sprintf("completed in %d iterations (~%d tokens)", out.iterations, out.totalTokens),
			QualityScore: 8,
		}, nil
	case err := <-startErrCh:
		cancel()
		if err != nil {
			return roles.TaskResult{Status: roles.TaskFailure, Summary: fmt.Sprintf("loop exited early: %v", err)}, nil
		}
		return roles.TaskResult{Status: roles.TaskFailure, Summary: "loop stopped before reporting task completion"}, nil
	case <-ctx.Done():
		cancel()
		return roles.TaskResult{}, ctx.Err()
	}
}

// waitForLoopRunning polls loop.IsRunning, grounded on the teacher's
// cmd/agentloop.go helper of the same name.
func waitForLoopRunning(ctx context.Context, loop *agentloop.AgentLoop, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return loop.IsRunning()
		case <-ticker.C:
			if loop.IsRunning() {
				return true
			}
		}
	}
}
