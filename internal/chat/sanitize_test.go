// ABOUTME: Tests for tool call/result pairing cleanup
// ABOUTME: Verifies orphans are removed in both directions without touching the input

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-chat/internal/llm"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   []llm.Message
		want []llm.Message
	}{
		{
			name: "paired calls kept",
			in: []llm.Message{
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a", Name: "x"}}},
				{Role: llm.RoleTool, ToolCallID: "a", Content: "r"},
				{Role: llm.RoleAssistant, Content: "done"},
			},
			want: []llm.Message{
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a", Name: "x"}}},
				{Role: llm.RoleTool, ToolCallID: "a", Content: "r"},
				{Role: llm.RoleAssistant, Content: "done"},
			},
		},
		{
			name: "unanswered call removed, text kept",
			in: []llm.Message{
				{Role: llm.RoleAssistant, Content: "let me look", ToolCalls: []llm.ToolCall{{ID: "a"}, {ID: "b"}}},
				{Role: llm.RoleTool, ToolCallID: "a", Content: "r"},
			},
			want: []llm.Message{
				{Role: llm.RoleAssistant, Content: "let me look", ToolCalls: []llm.ToolCall{{ID: "a"}}},
				{Role: llm.RoleTool, ToolCallID: "a", Content: "r"},
			},
		},
		{
			name: "empty assistant dropped",
			in: []llm.Message{
				{Role: llm.RoleUser, Content: "q"},
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "a"}}},
			},
			want: []llm.Message{
				{Role: llm.RoleUser, Content: "q"},
			},
		},
		{
			name: "orphan result dropped",
			in: []llm.Message{
				{Role: llm.RoleTool, ToolCallID: "ghost", Content: "r"},
				{Role: llm.RoleAssistant, Content: "hi"},
			},
			want: []llm.Message{
				{Role: llm.RoleAssistant, Content: "hi"},
			},
		},
		{
			name: "empty input",
			in:   nil,
			want: []llm.Message{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	in := []llm.Message{
		{Role: llm.RoleAssistant, Content: "x", ToolCalls: []llm.ToolCall{{ID: "a"}}},
	}
	_ = Sanitize(in)
	assert.Len(t, in[0].ToolCalls, 1)
}
