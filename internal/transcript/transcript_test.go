// ABOUTME: Tests for transcript collection and rendering
// ABOUTME: Checks buffered event folding and Markdown/HTML output shape

package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/llm"
)

func TestCollect(t *testing.T) {
	events := make(chan conversation.Event, 16)
	call := llm.ToolCall{ID: "c1", Name: "github_search", Arguments: map[string]any{"q": "go"}}
	events <- conversation.Event{Kind: conversation.EventUserMessageID, MessageID: "u1"}
	events <- conversation.Event{Kind: conversation.EventText, Text: "Hel"}
	events <- conversation.Event{Kind: conversation.EventToolCall, ToolCall: &call}
	events <- conversation.Event{Kind: conversation.EventToolResult, ToolResult: &chat.ToolResult{ID: "c1", Name: "github_search", Result: "{}"}}
	events <- conversation.Event{Kind: conversation.EventText, Text: "lo"}
	events <- conversation.Event{Kind: conversation.EventAnnotation, Annotation: &conversation.Annotation{MessageIDFromServer: "a1", Index: 0}}
	events <- conversation.Event{Kind: conversation.EventAnnotation, Annotation: &conversation.Annotation{MessageIDFromServer: "a2", Index: 2}}
	events <- conversation.Event{Kind: conversation.EventDone, Done: &conversation.Done{
		ChatID: "chat-1", Reason: chat.FinishStop, Steps: 2, Usage: llm.Usage{InputTokens: 10, OutputTokens: 4},
	}}
	close(events)

	tr := Collect(events)

	assert.Equal(t, "chat-1", tr.ChatID)
	assert.Equal(t, "u1", tr.UserMessageID)
	assert.Equal(t, "Hello", tr.Text)
	assert.Equal(t, []llm.ToolCall{call}, tr.ToolCalls)
	require.Len(t, tr.ToolResults, 1)
	assert.Equal(t, []string{"a1", "a2"}, tr.MessageIDs)
	assert.Equal(t, chat.FinishStop, tr.Reason)
	assert.Equal(t, 2, tr.Steps)
	assert.Empty(t, tr.Errors)
}

func TestCollect_EmptyStream(t *testing.T) {
	events := make(chan conversation.Event)
	close(events)

	tr := Collect(events)
	assert.NotNil(t, tr.ToolCalls)
	assert.NotNil(t, tr.MessageIDs)
	assert.Equal(t, chat.FinishReason(""), tr.Reason)
}

func sampleTurns() []conversation.Turn {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []conversation.Turn{
		{ID: "1", CreatedAt: at, Message: llm.Message{Role: llm.RoleUser, Content: "Find <b>repos</b>"}},
		{ID: "2", CreatedAt: at, Message: llm.Message{Role: llm.RoleAssistant, Content: "Searching.",
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "github_search", Arguments: map[string]any{"q": "go"}}}}},
		{ID: "3", CreatedAt: at, Message: llm.Message{Role: llm.RoleTool, ToolCallID: "c1", Name: "github_search",
			Content: "has ``` fence", IsError: true}},
		{ID: "4", CreatedAt: at, Message: llm.Message{Role: llm.RoleAssistant, Content: "| a | b |\n|---|---|\n| 1 | 2 |"}},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown("Repo hunt", sampleTurns())

	assert.True(t, strings.HasPrefix(md, "# Repo hunt\n"))
	assert.Contains(t, md, "## User")
	assert.Contains(t, md, "_2026-03-01T12:00:00Z_")
	assert.Contains(t, md, "**Tool call** `github_search` (c1)")
	assert.Contains(t, md, "\"q\": \"go\"")
	assert.Contains(t, md, "**Tool error** `github_search` (c1)")
	// The result contains a triple backtick, so the fence grows
	assert.Contains(t, md, "````\nhas ``` fence\n````")
}

func TestHTML(t *testing.T) {
	page, err := HTML("Repo <hunt>", sampleTurns())
	require.NoError(t, err)

	assert.Contains(t, page, "<title>Repo &lt;hunt&gt;</title>")
	assert.Contains(t, page, "<h2>Assistant</h2>")
	assert.Contains(t, page, "<table>")
	assert.NotContains(t, page, "<b>repos</b>")
}
