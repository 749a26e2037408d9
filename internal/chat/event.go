// ABOUTME: Events emitted by a generation run
// ABOUTME: A run streams deltas, tool activity and step markers, then exactly one finish

package chat

import "github.com/2389/coven-chat/internal/llm"

// EventKind identifies an Event's payload.
type EventKind string

const (
	EventTextDelta  EventKind = "text_delta"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventStep       EventKind = "step"
	EventError      EventKind = "error"
	EventFinish     EventKind = "finish"
)

// FinishReason explains why a run ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishMaxSteps  FinishReason = "max_steps"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// Finish closes a run.
type Finish struct {
	// Messages are the turns this run produced, in order. They are not
	// sanitized; a cancelled run may leave tool calls without results.
	Messages []llm.Message
	Reason   FinishReason
	Steps    int
	Usage    llm.Usage
}

// Event is one item on a run's stream. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind       EventKind
	Text       string
	ToolCall   *llm.ToolCall
	ToolResult *ToolResult
	Step       int
	Error      string
	Finish     *Finish
}
