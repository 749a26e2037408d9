// ABOUTME: Renders stored chat turns as Markdown or HTML
// ABOUTME: HTML goes through goldmark with GitHub-flavoured extensions

package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/llm"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders a chat as a Markdown document.
func Markdown(title string, turns []conversation.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)

	for _, turn := range turns {
		b.WriteString("\n")
		switch turn.Role {
		case llm.RoleUser:
			fmt.Fprintf(&b, "## User\n\n_%s_\n\n", turn.CreatedAt.UTC().Format(time.RFC3339))
			b.WriteString(turn.Content)
			b.WriteString("\n")
		case llm.RoleAssistant:
			fmt.Fprintf(&b, "## Assistant\n\n_%s_\n\n", turn.CreatedAt.UTC().Format(time.RFC3339))
			if turn.Content != "" {
				b.WriteString(turn.Content)
				b.WriteString("\n")
			}
			for _, c := range turn.ToolCalls {
				fmt.Fprintf(&b, "\n**Tool call** `%s` (%s)\n\n", c.Name, c.ID)
				writeFenced(&b, "json", prettyJSON(c.Arguments))
			}
		case llm.RoleTool:
			label := "Tool result"
			if turn.IsError {
				label = "Tool error"
			}
			fmt.Fprintf(&b, "**%s** `%s` (%s)\n\n", label, turn.Name, turn.ToolCallID)
			writeFenced(&b, "", turn.Content)
		}
	}
	return b.String()
}

// HTML renders a chat as a standalone HTML page.
func HTML(title string, turns []conversation.Turn) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(Markdown(title, turns)), &body); err != nil {
		return "", fmt.Errorf("converting transcript: %w", err)
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n", html.EscapeString(title))
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.String(), nil
}

// writeFenced picks a fence longer than any backtick run in content.
func writeFenced(b *strings.Builder, lang, content string) {
	fence := "```"
	for strings.Contains(content, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s%s\n%s\n%s\n", fence, lang, strings.TrimRight(content, "\n"), fence)
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
