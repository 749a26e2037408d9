// ABOUTME: Tool server launch specs and catalog configuration parsing
// ABOUTME: Accepts a single server spec or an mcpServers fan-out per catalog tool

package toolserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"

	"github.com/2389/coven-chat/internal/store"
)

// ErrInvalidConfiguration is returned when a tool configuration names no server.
var ErrInvalidConfiguration = errors.New("invalid tool configuration")

// ServerSpec describes how to launch one stdio tool server.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// toolConfiguration is the union of the two accepted shapes.
type toolConfiguration struct {
	ServerSpec
	MCPServers map[string]ServerSpec `json:"mcpServers"`
}

// ParseConfiguration decodes a catalog tool's configuration.
// A single spec is registered under fallbackName; an mcpServers object
// registers each entry under its own key.
func ParseConfiguration(raw json.RawMessage, fallbackName string) (map[string]ServerSpec, error) {
	var cfg toolConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	specs := make(map[string]ServerSpec)
	switch {
	case len(cfg.MCPServers) > 0:
		for name, spec := range cfg.MCPServers {
			if name == "" || spec.Command == "" {
				return nil, fmt.Errorf("%w: server %q has no command", ErrInvalidConfiguration, name)
			}
			specs[name] = spec
		}
	case cfg.Command != "":
		if fallbackName == "" {
			return nil, fmt.Errorf("%w: server has no name", ErrInvalidConfiguration)
		}
		specs[fallbackName] = cfg.ServerSpec
	default:
		return nil, fmt.Errorf("%w: no command or mcpServers", ErrInvalidConfiguration)
	}
	return specs, nil
}

// SpecsForTools merges the server specs of several catalog tools.
// Tools that fail to parse are skipped; on a server name clash the first tool wins.
func SpecsForTools(tools []*store.Tool, logger *slog.Logger) map[string]ServerSpec {
	if logger == nil {
		logger = slog.Default()
	}

	merged := make(map[string]ServerSpec)
	owner := make(map[string]string)
	for _, t := range tools {
		specs, err := ParseConfiguration(t.Configuration, t.Name)
		if err != nil {
			logger.Warn("skipping tool with bad configuration", "tool_id", t.ID, "tool", t.Name, "error", err)
			continue
		}

		names := make([]string, 0, len(specs))
		for name := range specs {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if prev, ok := owner[name]; ok {
				logger.Warn("duplicate tool server name, keeping first",
					"server", name, "kept_tool_id", prev, "dropped_tool_id", t.ID)
				continue
			}
			merged[name] = specs[name]
			owner[name] = t.ID
		}
	}
	return merged
}

// inheritedEnv lists the parent variables a child server may see.
var inheritedEnv = func() []string {
	if runtime.GOOS == "windows" {
		return []string{
			"APPDATA", "HOMEDRIVE", "HOMEPATH", "LOCALAPPDATA", "PATH",
			"PROCESSOR_ARCHITECTURE", "SYSTEMDRIVE", "SYSTEMROOT", "TEMP",
			"USERNAME", "USERPROFILE",
		}
	}
	return []string{"HOME", "LANG", "LOGNAME", "PATH", "SHELL", "TERM", "TMPDIR", "USER"}
}()

// childEnv builds a child process environment: a safe subset of ours
// overlaid with the spec's variables.
func childEnv(extra map[string]string) []string {
	vars := make(map[string]string, len(inheritedEnv)+len(extra))
	for _, k := range inheritedEnv {
		if v, ok := os.LookupEnv(k); ok {
			vars[k] = v
		}
	}
	for k, v := range extra {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
