// ABOUTME: Encodes model turns to the stored JSON part array and back
// ABOUTME: Parts are text, tool_call and tool_result

package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/coven-chat/internal/llm"
	"github.com/2389/coven-chat/internal/store"
)

// Part types
const (
	PartText       = "text"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
)

// Part is one element of a stored turn's content.
type Part struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
}

// Turn is a persisted message as returned by History.
type Turn struct {
	ID string `json:"id"`
	llm.Message
	CreatedAt time.Time `json:"created_at"`
}

func encodeParts(m llm.Message) []Part {
	var parts []Part
	switch m.Role {
	case llm.RoleTool:
		parts = append(parts, Part{
			Type:       PartToolResult,
			ToolCallID: m.ToolCallID,
			ToolName:   m.Name,
			Result:     m.Content,
			IsError:    m.IsError,
		})
	default:
		if m.Content != "" {
			parts = append(parts, Part{Type: PartText, Text: m.Content})
		}
		for _, c := range m.ToolCalls {
			parts = append(parts, Part{
				Type:       PartToolCall,
				ToolCallID: c.ID,
				ToolName:   c.Name,
				Args:       c.Arguments,
			})
		}
	}
	return parts
}

// toStored converts a turn for SaveMessages.
func toStored(id, chatID string, m llm.Message, at time.Time) (*store.Message, error) {
	content, err := json.Marshal(encodeParts(m))
	if err != nil {
		return nil, fmt.Errorf("encoding %s turn: %w", m.Role, err)
	}
	return &store.Message{
		ID:        id,
		ChatID:    chatID,
		Role:      string(m.Role),
		Content:   content,
		CreatedAt: at,
	}, nil
}

// fromStored rebuilds a turn from its stored parts.
func fromStored(sm *store.Message) (Turn, error) {
	var parts []Part
	if len(sm.Content) > 0 {
		if err := json.Unmarshal(sm.Content, &parts); err != nil {
			return Turn{}, fmt.Errorf("decoding message %s: %w", sm.ID, err)
		}
	}

	m := llm.Message{Role: llm.Role(sm.Role)}
	for _, p := range parts {
		switch p.Type {
		case PartText:
			m.Content += p.Text
		case PartToolCall:
			args := p.Args
			if args == nil {
				args = map[string]any{}
			}
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: args})
		case PartToolResult:
			m.ToolCallID = p.ToolCallID
			m.Name = p.ToolName
			m.Content = p.Result
			m.IsError = p.IsError
		default:
			return Turn{}, fmt.Errorf("decoding message %s: unknown part type %q", sm.ID, p.Type)
		}
	}
	return Turn{ID: sm.ID, Message: m, CreatedAt: sm.CreatedAt}, nil
}
