// ABOUTME: Removes unmatched tool calls and results from a message sequence
// ABOUTME: Keeps persisted history valid input for every provider

package chat

import "github.com/2389/coven-chat/internal/llm"

// Sanitize returns messages with every tool call paired to a result.
// Calls without a result are removed, assistant turns left with neither text
// nor calls are dropped, and results whose call is absent are dropped.
// The input is not modified.
func Sanitize(messages []llm.Message) []llm.Message {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == llm.RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
		}
	}

	kept := make(map[string]bool)
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleAssistant:
			var calls []llm.ToolCall
			for _, c := range m.ToolCalls {
				if answered[c.ID] {
					calls = append(calls, c)
					kept[c.ID] = true
				}
			}
			if m.Content == "" && len(calls) == 0 {
				continue
			}
			m.ToolCalls = calls
			out = append(out, m)
		case llm.RoleTool:
			if !kept[m.ToolCallID] {
				continue
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out
}
