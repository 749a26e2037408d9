// ABOUTME: In-process connector that serves registered MCP servers over in-memory transports
// ABOUTME: Lets tool servers run without a child process, mainly for tests and embedding

package toolserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MemoryConnector connects to *mcp.Server values registered by name.
// Specs are ignored; only the server name matters.
type MemoryConnector struct {
	mu      sync.RWMutex
	servers map[string]*mcp.Server
}

// NewMemoryConnector creates an empty connector.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{servers: make(map[string]*mcp.Server)}
}

// Register makes server reachable under name.
func (m *MemoryConnector) Register(name string, server *mcp.Server) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[name] = server
}

func (m *MemoryConnector) Connect(ctx context.Context, name string, _ ServerSpec) (Session, error) {
	m.mu.RLock()
	server, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no in-memory server named %q", name)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	// The server side must outlive the handshake context
	serverSession, err := server.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("starting in-memory server %s: %w", name, err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		serverSession.Close()
		return nil, fmt.Errorf("connecting to in-memory server %s: %w", name, err)
	}
	return &memorySession{Session: NewSession(clientSession), server: serverSession}, nil
}

type memorySession struct {
	Session
	server *mcp.ServerSession
}

func (s *memorySession) Close() error {
	err := s.Session.Close()
	s.server.Close()
	return err
}
