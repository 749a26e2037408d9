// ABOUTME: Deterministic llm.Client for tests
// ABOUTME: Replays scripted responses in order and records every request it saw

package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/coven-chat/internal/llm"
)

// Response configures one model turn in a scripted sequence.
type Response struct {
	Text      string
	ToolCalls []llm.ToolCall
	Usage     llm.Usage
	Err       error

	// Block makes Generate stream Text, then wait for context cancellation.
	Block bool
}

// ScriptedClient is a deterministic llm.Client.
type ScriptedClient struct {
	model string

	mu        sync.Mutex
	index     int
	responses []Response
	requests  []llm.Request
}

// NewScriptedClient creates a client that replays responses in order.
func NewScriptedClient(model string, responses ...Response) *ScriptedClient {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedClient{model: model, responses: cloned}
}

var _ llm.Client = (*ScriptedClient)(nil)

func (c *ScriptedClient) Model() string { return c.model }

func (c *ScriptedClient) Generate(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, llm.Request{
		System:   req.System,
		Messages: llm.CloneMessages(req.Messages),
		Tools:    append([]llm.ToolDefinition(nil), req.Tools...),
	})
	if c.index >= len(c.responses) {
		step := c.index + 1
		c.mu.Unlock()
		return nil, fmt.Errorf("script exhausted at step %d", step)
	}
	current := c.responses[c.index]
	c.index++
	c.mu.Unlock()

	if current.Block {
		if onDelta != nil && current.Text != "" {
			onDelta(current.Text)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if current.Err != nil {
		return nil, current.Err
	}
	if onDelta != nil && current.Text != "" {
		onDelta(current.Text)
	}

	finish := "stop"
	if len(current.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.Response{
		Text:         current.Text,
		ToolCalls:    append([]llm.ToolCall(nil), current.ToolCalls...),
		Usage:        current.Usage,
		FinishReason: finish,
	}, nil
}

// Calls returns how many times Generate was invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of every request seen so far.
func (c *ScriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}
