package agentloop

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agora-run/agora/internal/llm"
)

const (
	// DefaultMaxIterations is the maximum think-act-observe cycles per task.
	DefaultMaxIterations = 50
	// DefaultMaxTokensPerTask limits total token usage per task.
	DefaultMaxTokensPerTask = 200000
	// DefaultIdleTimeout is how long to wait for work before reporting idle.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultToolTimeout is the max time for a single tool execution.
	DefaultToolTimeout = 120 * time.Second
)

// LoopState represents the current state of the agent loop.
type LoopState string

const (
	// StateIdle means the loop is waiting for work.
	StateIdle LoopState = "idle"
	// StateWorking means the loop is processing a task.
	StateWorking LoopState = "working"
	// StateStopped means the loop has been stopped.
	StateStopped LoopState = "stopped"
	// StateError means the loop encountered a fatal error.
	StateError LoopState = "error"
)

// AgentLoopConfig controls loop behavior.
type AgentLoopConfig struct {
	// SystemPrompt is the system message prepended to every conversation.
	SystemPrompt string

	// MaxIterations limits the think-act-observe cycles per task.
	// Prevents infinite loops. Default: 50.
	MaxIterations int

	// MaxTokensPerTask limits total token usage per task.
	// Prevents runaway costs. Default: 200000.
	MaxTokensPerTask int

	// IdleTimeout is how long to wait for work before the loop reports
	// idle. Default: 5 minutes.
	IdleTimeout time.Duration

	// ToolTimeout is the maximum time for a single tool execution.
	// Default: 120 seconds.
	ToolTimeout time.Duration

	// Role labels the loop's log lines and the AGORA_ROLE env var passed
	// to shell_exec/runCommand child processes (e.g. "subconscious").
	Role string

	// TaskID is the dispatched task id this loop instance is bound to,
	// surfaced to child processes as AGORA_TASK_ID.
	TaskID string

	// OnHeartbeat is called periodically during task execution, letting a
	// caller record watchdog activity or emit a progress event.
	OnHeartbeat func(state LoopState, iteration int, totalTokens int)

	// OnTaskComplete is called when a task finishes.
	OnTaskComplete func(task string, iterations int, totalTokens int, err error)
}

// LoopStatus contains the current status of the agent loop.
type LoopStatus struct {
	State       LoopState `json:"state"`
	CurrentTask string    `json:"current_task,omitempty"`
	Iteration   int       `json:"iteration"`
	TotalTokens int       `json:"total_tokens"`
	StartedAt   time.Time `json:"started_at"`
	LastActive  time.Time `json:"last_active"`
	Error       string    `json:"error,omitempty"`
}

// AgentLoop drives the think-act-observe cycle for a single dispatched
// task: call the model, execute any tool calls it requests, feed the
// results back, repeat until the model stops calling tools or a bound is
// hit. internal/wiring.AgentLoopSubconscious builds one AgentLoop per
// roles.Subconscious.RunTask call and tears it down once the task
// finishes.
type AgentLoop struct {
	client   llm.Client
	executor *Executor
	tools    []llm.ToolDef
	config   *AgentLoopConfig
	context  *ContextManager

	mu          sync.Mutex
	state       LoopState
	currentTask string
	iteration   int
	totalTokens int
	startedAt   time.Time
	lastActive  time.Time
	lastError   error

	workCh     chan string
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewAgentLoop creates an agent loop bound to client and executor.
func NewAgentLoop(client llm.Client, executor *Executor, cfg *AgentLoopConfig) *AgentLoop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokensPerTask <= 0 {
		cfg.MaxTokensPerTask = DefaultMaxTokensPerTask
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}

	contextWindow := 0
	if mi := client.ModelInfo(); mi != nil {
		contextWindow = mi.ContextWindow
	}

	return &AgentLoop{
		client:   client,
		executor: executor,
		tools:    SubconsciousTools(),
		config:   cfg,
		context:  NewContextManager(contextWindow),
		state:    StateStopped,
		workCh:   make(chan string, 1),
		done:     make(chan struct{}),
	}
}

// Start begins the agent loop. It runs until stopped or ctx is cancelled:
// wait for work (via AssignWork), run the think-act-observe cycle, return
// to idle when the task completes.
func (l *AgentLoop) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancelFunc = cancel

	l.mu.Lock()
	l.state = StateIdle
	l.startedAt = time.Now()
	l.lastActive = time.Now()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.mu.Unlock()
		close(l.done)
	}()

	log.Printf("[agentloop] started (role=%s, task=%s)", l.config.Role, l.config.TaskID)

	idleTimer := time.NewTimer(l.config.IdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[agentloop] context cancelled, stopping")
			return ctx.Err()

		case <-idleTimer.C:
			log.Printf("[agentloop] idle timeout reached (%v)", l.config.IdleTimeout)
			idleTimer.Reset(l.config.IdleTimeout)

		case task := <-l.workCh:
			idleTimer.Stop()
			l.mu.Lock()
			l.state = StateWorking
			l.currentTask = task
			l.iteration = 0
			l.totalTokens = 0
			l.lastActive = time.Now()
			l.mu.Unlock()

			err := l.runTask(ctx, task)

			l.mu.Lock()
			l.state = StateIdle
			l.currentTask = ""
			l.lastActive = time.Now()
			if err != nil {
				l.lastError = err
				log.Printf("[agentloop] task failed: %v", err)
			}
			l.mu.Unlock()

			if l.config.OnTaskComplete != nil {
				l.config.OnTaskComplete(task, l.iteration, l.totalTokens, err)
			}

			idleTimer.Reset(l.config.IdleTimeout)
		}
	}
}

// AssignWork sends a new task to the running agent loop.
func (l *AgentLoop) AssignWork(task string) error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	if state == StateStopped {
		return fmt.Errorf("agent loop is stopped")
	}
	if state == StateWorking {
		return fmt.Errorf("agent is already working on a task")
	}

	select {
	case l.workCh <- task:
		return nil
	default:
		return fmt.Errorf("work channel full, agent may be busy")
	}
}

// Stop gracefully stops the agent loop.
func (l *AgentLoop) Stop() error {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()

	if state == StateStopped {
		return nil
	}

	if l.cancelFunc != nil {
		l.cancelFunc()
	}

	select {
	case <-l.done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("agent loop did not stop within 30 seconds")
	}
}

// Status returns the current loop status.
func (l *AgentLoop) Status() *LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := &LoopStatus{
		State:       l.state,
		CurrentTask: l.currentTask,
		Iteration:   l.iteration,
		TotalTokens: l.totalTokens,
		StartedAt:   l.startedAt,
		LastActive:  l.lastActive,
	}
	if l.lastError != nil {
		status.Error = l.lastError.Error()
	}
	return status
}

// IsRunning returns true if the agent loop is running (idle or working).
func (l *AgentLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateIdle || l.state == StateWorking
}

// runTask executes a single task using the think-act-observe cycle.
func (l *AgentLoop) runTask(ctx context.Context, task string) error {
	var messages []llm.Message

	if l.config.SystemPrompt != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: l.config.SystemPrompt,
		})
	}

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: task,
	})

	for i := 0; i < l.config.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.mu.Lock()
		l.iteration = i + 1
		l.lastActive = time.Now()
		l.mu.Unlock()

		if l.context.NeedsTruncation(messages) {
			log.Printf("[agentloop] context window pressure at iteration %d, truncating", i+1)
			messages = l.context.Truncate(messages)
		}

		resp, err := l.client.Chat(ctx, &llm.ChatRequest{
			Messages: messages,
			Tools:    l.tools,
		})
		if err != nil {
			return fmt.Errorf("model call failed at iteration %d: %w", i+1, err)
		}

		if resp.Usage != nil {
			l.mu.Lock()
			l.totalTokens += resp.Usage.TotalTokens
			l.mu.Unlock()

			if l.totalTokens > l.config.MaxTokensPerTask {
				return fmt.Errorf("token budget exceeded: %d > %d", l.totalTokens, l.config.MaxTokensPerTask)
			}
		}

		assistantMsg := llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			log.Printf("[agentloop] task complete after %d iterations (~%d tokens)", i+1, l.totalTokens)
			return nil
		}

		for _, tc := range resp.ToolCalls {
			toolCtx, toolCancel := context.WithTimeout(ctx, l.config.ToolTimeout)

			result, err := l.executor.Execute(toolCtx, tc)
			toolCancel()

			if err != nil {
				result = fmt.Sprintf("Error executing %s: %v", tc.Name, err)
				log.Printf("[agentloop] tool error: %s: %v", tc.Name, err)
			}

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}

		if l.config.OnHeartbeat != nil && (i+1)%5 == 0 {
			l.config.OnHeartbeat(StateWorking, i+1, l.totalTokens)
		}
	}

	return fmt.Errorf("max iterations (%d) reached without completion", l.config.MaxIterations)
}
