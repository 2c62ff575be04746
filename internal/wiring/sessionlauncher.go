package wiring

import (
	"context"
	"strings"
	"sync"

	"github.com/agora-run/agora/internal/llm"
	"github.com/agora-run/agora/internal/roles"
)

// LLMSessionLauncher adapts an llm.Client's streaming Chat surface into
// spec.md §9's "(request) -> (result, logs-stream, input-sink)" session
// contract, grounded on the teacher's llm.Client.Stream plus
// llm.WithRetry's jittered-backoff decorator.
type LLMSessionLauncher struct {
	client       llm.Client
	systemPrompt string
}

// NewLLMSessionLauncher builds a launcher against client.
func NewLLMSessionLauncher(client llm.Client, systemPrompt string) *LLMSessionLauncher {
	return &LLMSessionLauncher{client: client, systemPrompt: systemPrompt}
}

func (l *LLMSessionLauncher) Launch(ctx context.Context, prompt string) (<-chan roles.SessionResult, <-chan roles.StreamChunk, roles.InputSink, error) {
	resultCh := make(chan roles.SessionResult, 1)
	logsCh := make(chan roles.StreamChunk, 16)
	sink := newQueueInputSink()

	go l.run(ctx, prompt, resultCh, logsCh, sink)
	return resultCh, logsCh, sink, nil
}

// run drives turns against the model until no more input is queued. Each
// turn streams the reply so the caller's logsCh sees incremental content
// (used to reset the orchestrator's conversation idle timer); pending
// messages injected mid-turn are picked up between turns, not mid-stream,
// since llm.Client has no native bidirectional streaming.
func (l *LLMSessionLauncher) run(ctx context.Context, prompt string, resultCh chan<- roles.SessionResult, logsCh chan<- roles.StreamChunk, sink *queueInputSink) {
	defer close(resultCh)
	defer close(logsCh)

	var messages []llm.Message
	if l.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: l.systemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	var transcript strings.Builder
	for {
		chunks, err := l.client.Stream(ctx, &llm.ChatRequest{Messages: messages})
		if err != nil {
			resultCh <- roles.SessionResult{Summary: err.Error(), Success: false}
			return
		}

		var reply strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				resultCh <- roles.SessionResult{Summary: chunk.Err.Error(), Success: false}
				return
			}
			if chunk.Type == llm.TextChunk && chunk.Text != "" {
				reply.WriteString(chunk.Text)
				select {
				case logsCh <- roles.StreamChunk{Content: chunk.Text, Done: chunk.Done}:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}

		if transcript.Len() > 0 {
			transcript.WriteString("\n")
		}
		transcript.WriteString(reply.String())
		messages = append(messages, llm.Message{Role: "assistant", Content: reply.String()})

		next, ok := sink.tryNext()
		if !ok {
			break
		}
		messages = append(messages, llm.Message{Role: "user", Content: next})
	}

	resultCh <- roles.SessionResult{Summary: transcript.String(), Success: true}
}

// queueInputSink is a FIFO roles.InputSink: Send enqueues, Close marks the
// sink dead (subsequent Send calls are silently dropped, matching
// roles.InputSink's "tolerate Send after the session has finished"
// contract).
type queueInputSink struct {
	mu     sync.Mutex
	queue  []string
	closed bool
}

func newQueueInputSink() *queueInputSink {
	return &queueInputSink{}
}

func (s *queueInputSink) Send(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.queue = append(s.queue, message)
	return nil
}

func (s *queueInputSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tryNext pops the next queued message, if any. Returns ok=false once
// closed or empty, ending the session's turn loop.
func (s *queueInputSink) tryNext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return "", false
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next, true
}
