// ABOUTME: Buffers a chat event stream into a single response object
// ABOUTME: Used by non-streaming API callers

package transcript

import (
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/llm"
)

// Transcript is everything a chat stream carried, collected.
type Transcript struct {
	ChatID        string            `json:"chat_id"`
	UserMessageID string            `json:"user_message_id"`
	Text          string            `json:"text"`
	ToolCalls     []llm.ToolCall    `json:"tool_calls"`
	ToolResults   []chat.ToolResult `json:"tool_results"`
	MessageIDs    []string          `json:"message_ids"`
	Errors        []string          `json:"errors,omitempty"`
	Reason        chat.FinishReason `json:"finish_reason"`
	Steps         int               `json:"steps"`
	Usage         llm.Usage         `json:"usage"`
}

// Collect reads events until the stream closes.
func Collect(events <-chan conversation.Event) *Transcript {
	t := &Transcript{
		ToolCalls:   []llm.ToolCall{},
		ToolResults: []chat.ToolResult{},
		MessageIDs:  []string{},
	}
	for ev := range events {
		switch ev.Kind {
		case conversation.EventUserMessageID:
			t.UserMessageID = ev.MessageID
		case conversation.EventText:
			t.Text += ev.Text
		case conversation.EventToolCall:
			if ev.ToolCall != nil {
				t.ToolCalls = append(t.ToolCalls, *ev.ToolCall)
			}
		case conversation.EventToolResult:
			if ev.ToolResult != nil {
				t.ToolResults = append(t.ToolResults, *ev.ToolResult)
			}
		case conversation.EventAnnotation:
			if ev.Annotation != nil {
				t.MessageIDs = append(t.MessageIDs, ev.Annotation.MessageIDFromServer)
			}
		case conversation.EventError:
			t.Errors = append(t.Errors, ev.Error)
		case conversation.EventDone:
			if ev.Done != nil {
				t.ChatID = ev.Done.ChatID
				t.Reason = ev.Done.Reason
				t.Steps = ev.Done.Steps
				t.Usage = ev.Done.Usage
			}
		}
	}
	return t
}
