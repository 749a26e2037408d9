// ABOUTME: Per-request tool table built from concurrently connected tool servers
// ABOUTME: Qualifies tool names, isolates failing servers and owns session cleanup

package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/llm"
)

var (
	// ErrConnectionFailed wraps a server that could not be connected or listed.
	ErrConnectionFailed = errors.New("tool server connection failed")
	// ErrUnknownTool is returned when executing a name that is not in the table.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolPanicked resolves the future of a call whose session panicked.
	ErrToolPanicked = errors.New("tool call panicked")
)

const (
	defaultConnectTimeout        = 30 * time.Second
	defaultMaxConcurrentConnects = 8
)

// CallHook observes a tool invocation. It runs before the call is made and
// receives a future for the result.
type CallHook func(server, tool string, args map[string]any, result *Future)

// Options configures BuildToolTable.
type Options struct {
	Connector             Connector
	ConnectTimeout        time.Duration
	CallTimeout           time.Duration
	MaxConcurrentConnects int
	OnCallTool            CallHook
	Logger                *slog.Logger
}

// CleanupFunc releases every session a table opened. Safe to call more than once.
type CleanupFunc func()

// Tool is one invocable entry of a Table.
type Tool struct {
	Name        string
	Server      string
	RawName     string
	Description string
	InputSchema json.RawMessage

	session Session
	table   *Table
}

// Execute calls the tool on its server and returns the raw result as JSON.
// A result flagged isError is still returned as a string with a nil error.
// A panicking session is reported as ErrToolPanicked.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (result string, err error) {
	fut := newFuture()
	t.table.notify(t, args, fut)

	defer func() {
		if r := recover(); r != nil {
			t.table.logger.Error("tool call panicked", "tool", t.Name, "panic", r)
			result, err = "", fmt.Errorf("%w: %s on %s: %v", ErrToolPanicked, t.RawName, t.Server, r)
		}
		fut.resolve(result, err)
	}()

	return t.call(ctx, args)
}

func (t *Tool) call(ctx context.Context, args map[string]any) (string, error) {
	if t.table.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.table.callTimeout)
		defer cancel()
	}

	res, err := t.session.CallTool(ctx, t.RawName, args)
	if err != nil {
		return "", fmt.Errorf("calling %s on %s: %w", t.RawName, t.Server, err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encoding result of %s: %w", t.Name, err)
	}
	return string(data), nil
}

// Table holds the tools of one chat request.
type Table struct {
	tools       map[string]*Tool
	servers     []string
	sessions    map[string]Session
	callTimeout time.Duration
	onCall      CallHook
	logger      *slog.Logger
	closeOnce   sync.Once
}

// Lookup finds a tool by qualified name.
func (t *Table) Lookup(name string) (*Tool, bool) {
	tool, ok := t.tools[name]
	return tool, ok
}

// Tools returns every entry sorted by qualified name.
func (t *Table) Tools() []*Tool {
	out := make([]*Tool, 0, len(t.tools))
	for _, tool := range t.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (t *Table) Len() int {
	return len(t.tools)
}

// Servers returns the names of the servers that connected, sorted.
func (t *Table) Servers() []string {
	return append([]string(nil), t.servers...)
}

// Definitions describes the tools for a model request.
func (t *Table) Definitions() []llm.ToolDefinition {
	tools := t.Tools()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return defs
}

// Execute runs the named tool.
func (t *Table) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := t.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool.Execute(ctx, args)
}

// Close closes every session concurrently. Only the first call does anything.
func (t *Table) Close() {
	t.closeOnce.Do(func() {
		var g errgroup.Group
		for name, sess := range t.sessions {
			g.Go(func() error {
				if err := sess.Close(); err != nil {
					t.logger.Warn("closing tool server session", "server", name, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
		t.logger.Debug("tool servers closed", "count", len(t.sessions))
	})
}

func (t *Table) notify(tool *Tool, args map[string]any, fut *Future) {
	if t.onCall == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tool call hook panicked", "tool", tool.Name, "panic", r)
		}
	}()
	t.onCall(tool.Server, tool.Name, args, fut)
}

// QualifiedName returns the table name of a server's tool.
func QualifiedName(server, tool string) string {
	if tool == server {
		return tool
	}
	return server + "_" + tool
}

type connected struct {
	session Session
	tools   []RemoteTool
}

// BuildToolTable connects to every server concurrently and registers their
// tools. Servers that fail to connect or list are logged and left out; the
// returned table is always usable.
func BuildToolTable(ctx context.Context, specs map[string]ServerSpec, opts Options) (*Table, CleanupFunc) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "toolserver")

	connector := opts.Connector
	if connector == nil {
		connector = &CommandConnector{}
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	limit := opts.MaxConcurrentConnects
	if limit <= 0 {
		limit = defaultMaxConcurrentConnects
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*connected, len(names))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, name := range names {
		g.Go(func() error {
			c, err := connectServer(ctx, connector, name, specs[name], connectTimeout)
			if err != nil {
				logger.Warn("tool server unavailable", "server", name, "command", specs[name].Command, "error", err)
				return nil
			}
			results[i] = c
			return nil
		})
	}
	_ = g.Wait()

	table := &Table{
		tools:       make(map[string]*Tool),
		sessions:    make(map[string]Session),
		callTimeout: opts.CallTimeout,
		onCall:      opts.OnCallTool,
		logger:      logger,
	}
	for i, name := range names {
		c := results[i]
		if c == nil {
			continue
		}
		table.servers = append(table.servers, name)
		table.sessions[name] = c.session

		for _, rt := range c.tools {
			qualified := QualifiedName(name, rt.Name)
			if prev, ok := table.tools[qualified]; ok {
				logger.Warn("duplicate tool name, keeping first",
					"tool", qualified, "kept_server", prev.Server, "dropped_server", name)
				continue
			}
			table.tools[qualified] = &Tool{
				Name:        qualified,
				Server:      name,
				RawName:     rt.Name,
				Description: rt.Description,
				InputSchema: rt.InputSchema,
				session:     c.session,
				table:       table,
			}
		}
	}

	logger.Info("tool table built", "servers", len(table.servers), "requested", len(names), "tools", len(table.tools))
	return table, table.Close
}

func connectServer(ctx context.Context, connector Connector, name string, spec ServerSpec, timeout time.Duration) (*connected, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := connector.Connect(cctx, name, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	tools, err := sess.ListTools(cctx)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: listing tools: %v", ErrConnectionFailed, err)
	}
	return &connected{session: sess, tools: tools}, nil
}
