// ABOUTME: Transport abstraction for reaching tool servers
// ABOUTME: CommandConnector launches stdio MCP servers; Session adapts an MCP client session

package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName and ClientVersion identify us to tool servers during the MCP handshake.
var (
	ClientName    = "coven-chat"
	ClientVersion = "dev"
)

// RemoteTool is a tool as advertised by its server.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Session is a live connection to one tool server.
type Session interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Connector opens sessions to tool servers.
type Connector interface {
	Connect(ctx context.Context, name string, spec ServerSpec) (Session, error)
}

// CommandConnector launches each server as a child process speaking MCP over stdio.
type CommandConnector struct {
	// Stderr receives the child's stderr. Nil discards it.
	Stderr io.Writer
}

// Connect starts the server process and completes the MCP handshake.
// ctx bounds the handshake only; the process lives until Close.
func (c *CommandConnector) Connect(ctx context.Context, name string, spec ServerSpec) (Session, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = childEnv(spec.Env)
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("starting %s (%s): %w", name, spec.Command, err)
	}
	return NewSession(session), nil
}

// mcpSession adapts *mcp.ClientSession to Session.
type mcpSession struct {
	cs *mcp.ClientSession
}

// NewSession wraps an MCP client session.
func NewSession(cs *mcp.ClientSession) Session {
	return &mcpSession{cs: cs}
}

// ListTools pages through every tool the server advertises.
func (s *mcpSession) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var tools []RemoteTool
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema for %s: %w", t.Name, err)
			}
			tools = append(tools, RemoteTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return s.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (s *mcpSession) Close() error {
	return s.cs.Close()
}
