// Package llmtest provides a scripted oracle for exercising the agent without
// a model provider.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"AgneticGOD/internal/llm"
)

// ErrExhausted is returned once every scripted step has been consumed and no
// fallback is set.
var ErrExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted oracle response.
type Step struct {
	Decision *llm.Decision
	Err      error
	// Block, when set, makes Decide wait until the channel is closed or the
	// context ends.
	Block <-chan struct{}
}

// Reply is a final text answer.
func Reply(text string) Step {
	return Step{Decision: &llm.Decision{Content: text}}
}

// Call asks for tool calls, optionally with accompanying text.
func Call(text string, calls ...llm.ToolCall) Step {
	return Step{Decision: &llm.Decision{Content: text, Calls: calls}}
}

// Fail returns err from the oracle.
func Fail(err error) Step {
	return Step{Err: err}
}

// Invoke builds a tool call with a userAddress argument.
func Invoke(id, operation, userAddress string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: operation, Arguments: map[string]any{"userAddress": userAddress}}
}

// Script replays steps in order and records every request it receives.
type Script struct {
	mu       sync.Mutex
	steps    []Step
	fallback *Step
	requests []llm.Request
}

var _ llm.Oracle = (*Script)(nil)

// NewScript creates a script oracle.
func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

// Forever repeats step once the script runs out.
func (s *Script) Forever(step Step) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &step
	return s
}

// Decide implements llm.Oracle.
func (s *Script) Decide(ctx context.Context, req llm.Request) (*llm.Decision, error) {
	s.mu.Lock()
	copied := req
	copied.Messages = append([]llm.Message(nil), req.Messages...)
	s.requests = append(s.requests, copied)

	var step Step
	switch {
	case len(s.steps) > 0:
		step = s.steps[0]
		s.steps = s.steps[1:]
	case s.fallback != nil:
		step = *s.fallback
	default:
		s.mu.Unlock()
		return nil, ErrExhausted
	}
	s.mu.Unlock()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	d := *step.Decision
	d.Calls = append([]llm.ToolCall(nil), step.Decision.Calls...)
	return &d, nil
}

// Requests returns copies of every request seen so far.
func (s *Script) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

// Remaining reports how many scripted steps are left.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
