// ABOUTME: Provider-neutral model client interface and message types
// ABOUTME: Every provider backend and the generation loop speak these types

package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message in a model conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn in a model conversation.
//
// An assistant message carries Content and/or ToolCalls. A tool message
// carries the result of exactly one call in Content, keyed by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name on tool messages
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a single model invocation.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// Usage reports token consumption for one or more invocations.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another invocation's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response is the complete result of one invocation.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// Client is a live, credentialed model handle.
type Client interface {
	// Model returns the provider-side model identifier.
	Model() string

	// Generate runs one invocation. onDelta, if non-nil, receives text as it
	// streams; the returned Response always carries the full text.
	Generate(ctx context.Context, req Request, onDelta func(string)) (*Response, error)
}

// CloneMessages returns a deep-enough copy for handing history to a backend.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

// ParseArguments decodes a JSON argument string. Empty input is an empty object.
func ParseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
