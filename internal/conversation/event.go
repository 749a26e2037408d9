// ABOUTME: Events streamed to chat callers
// ABOUTME: Mirrors the generation loop's events plus ids assigned by persistence

package conversation

import (
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/llm"
)

// EventKind names an event on a ChatStream. The values are the SSE event names.
type EventKind string

const (
	EventUserMessageID EventKind = "user_message_id"
	EventText          EventKind = "text"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventAnnotation    EventKind = "annotation"
	EventError         EventKind = "error"
	EventDone          EventKind = "done"
)

// Annotation ties a streamed assistant turn to its persisted id.
type Annotation struct {
	MessageIDFromServer string `json:"message_id_from_server"`
	Index               int    `json:"index"`
}

// Done ends a stream.
type Done struct {
	ChatID string            `json:"chat_id"`
	Reason chat.FinishReason `json:"reason"`
	Steps  int               `json:"steps"`
	Usage  llm.Usage         `json:"usage"`
}

// Event is one item on a ChatStream.
type Event struct {
	Kind       EventKind
	MessageID  string
	Text       string
	ToolCall   *llm.ToolCall
	ToolResult *chat.ToolResult
	Annotation *Annotation
	Error      string
	Done       *Done
}

// Payload returns the JSON body for the event's kind.
func (e Event) Payload() any {
	switch e.Kind {
	case EventUserMessageID:
		return map[string]string{"id": e.MessageID}
	case EventText:
		return map[string]string{"text": e.Text}
	case EventToolCall:
		return e.ToolCall
	case EventToolResult:
		return e.ToolResult
	case EventAnnotation:
		return e.Annotation
	case EventError:
		return map[string]string{"message": e.Error}
	case EventDone:
		return e.Done
	}
	return nil
}
