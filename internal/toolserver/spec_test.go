// ABOUTME: Tests for tool configuration parsing and child environment construction
// ABOUTME: Covers both configuration shapes and first-wins merging across catalog tools

package toolserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

func TestParseConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]ServerSpec
		wantErr bool
	}{
		{
			name: "single spec uses tool name",
			raw:  `{"command":"npx","args":["-y","server-fs"],"env":{"ROOT":"/tmp"}}`,
			want: map[string]ServerSpec{
				"files": {Command: "npx", Args: []string{"-y", "server-fs"}, Env: map[string]string{"ROOT": "/tmp"}},
			},
		},
		{
			name: "fan out",
			raw:  `{"mcpServers":{"github":{"command":"gh-mcp"},"jira":{"command":"jira-mcp","args":["--ro"]}}}`,
			want: map[string]ServerSpec{
				"github": {Command: "gh-mcp"},
				"jira":   {Command: "jira-mcp", Args: []string{"--ro"}},
			},
		},
		{name: "empty object", raw: `{}`, wantErr: true},
		{name: "fan out entry without command", raw: `{"mcpServers":{"x":{}}}`, wantErr: true},
		{name: "not json", raw: `{nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfiguration(json.RawMessage(tt.raw), "files")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpecsForTools_FirstWins(t *testing.T) {
	tools := []*store.Tool{
		{ID: "t1", Name: "github", Configuration: json.RawMessage(`{"command":"first"}`)},
		{ID: "t2", Name: "broken", Configuration: json.RawMessage(`{}`)},
		{ID: "t3", Name: "bundle", Configuration: json.RawMessage(`{"mcpServers":{"github":{"command":"second"},"slack":{"command":"slack-mcp"}}}`)},
	}

	specs := SpecsForTools(tools, testLogger())

	assert.Equal(t, map[string]ServerSpec{
		"github": {Command: "first"},
		"slack":  {Command: "slack-mcp"},
	}, specs)
}

func TestChildEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("SECRET_TOKEN", "do-not-leak")

	env := childEnv(map[string]string{"API_KEY": "abc", "PATH": "/opt/bin"})

	assert.Contains(t, env, "API_KEY=abc")
	assert.Contains(t, env, "PATH=/opt/bin")
	assert.NotContains(t, env, "PATH=/usr/bin")
	for _, kv := range env {
		assert.NotContains(t, kv, "SECRET_TOKEN")
	}
	assert.IsIncreasing(t, env)
}
