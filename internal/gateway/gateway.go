// ABOUTME: Gateway orchestrator that wires the chat pipeline behind an HTTP server
// ABOUTME: Owns the store, access cache, rate limiter and broadcaster lifecycles

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/access"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/cache"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/provider"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/toolserver"
)

// Gateway serves the coven-chat HTTP API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	cache        *cache.Cache
	resolver     *access.Resolver
	catalog      *access.Catalog
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	limiter      *rateLimiter
	httpServer   *http.Server
	handler      http.Handler
	logger       *slog.Logger
}

// Option customizes a Gateway. Options exist so tests and embedders can
// substitute the model and tool backends.
type Option func(*options)

type options struct {
	clients   conversation.ClientFactory
	connector toolserver.Connector
	store     store.Store
}

// WithClientFactory replaces the provider factory.
func WithClientFactory(f conversation.ClientFactory) Option {
	return func(o *options) { o.clients = f }
}

// WithToolConnector replaces how tool servers are reached.
func WithToolConnector(c toolserver.Connector) Option {
	return func(o *options) { o.connector = c }
}

// WithStore uses an already opened store instead of database.path.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_CHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// ErrDevAuthNotLoopback is returned by New when header auth would be exposed
// beyond the local machine.
var ErrDevAuthNotLoopback = errors.New("auth.jwt_secret is required unless server.http_addr is a loopback address")

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	accessCache := cache.New(cfg.Cache.TTL, cfg.Cache.MaxSize)
	resolver := access.NewResolver(s, accessCache, logger)
	catalog := access.NewCatalog(s, accessCache, logger)

	clients := o.clients
	if clients == nil {
		clients = provider.NewFactory(provider.FallbackConfig{
			Model:   cfg.Fallback.Model,
			APIKey:  cfg.Fallback.APIKey,
			BaseURL: cfg.Fallback.BaseURL,
		}, logger)
	}

	connector := o.connector
	if connector == nil {
		connector = &toolserver.CommandConnector{Stderr: os.Stderr}
	}

	broadcaster := conversation.NewBroadcaster(logger)
	convService := conversation.New(s, resolver, clients, conversation.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		MaxSteps:     cfg.Chat.MaxSteps,
		Tools: toolserver.Options{
			Connector:             connector,
			ConnectTimeout:        cfg.Chat.ToolConnectTimeout,
			CallTimeout:           cfg.Chat.ToolCallTimeout,
			MaxConcurrentConnects: cfg.Chat.MaxConcurrentConnects,
		},
		Broadcaster: broadcaster,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		cache:        accessCache,
		resolver:     resolver,
		catalog:      catalog,
		conversation: convService,
		broadcaster:  broadcaster,
		logger:       logger.With("component", "gateway"),
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		gw.limiter = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// API endpoints - auth required if JWT secret is configured
	if err := gw.registerHTTPAPIRoutes(mux); err != nil {
		accessCache.Close()
		broadcaster.Close()
		if o.store == nil {
			_ = s.Close()
		}
		return nil, err
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Store returns the gateway's store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// authMiddleware picks JWT or dev header authentication from config.
func (g *Gateway) authMiddleware() (func(http.Handler) http.Handler, error) {
	if g.config.Auth.JWTSecret == "" {
		if !isLoopbackAddr(g.config.Server.HTTPAddr) {
			return nil, fmt.Errorf("%w: %s", ErrDevAuthNotLoopback, g.config.Server.HTTPAddr)
		}
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured, trusting " + auth.DevUserHeader)
		return auth.DevAuthMiddleware(g.store, g.logger), nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	g.logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(g.store, verifier, g.logger), nil
}

// isLoopbackAddr reports whether addr only listens on a loopback interface.
// An empty host listens on every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// registerHTTPAPIRoutes registers API routes on the mux behind the auth and rate limit middlewares.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	authMiddleware, err := g.authMiddleware()
	if err != nil {
		return err
	}
	adminMiddleware := auth.RequireAdminHTTP()

	user := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if g.limiter != nil {
			handler = g.limiter.middleware(handler)
		}
		return authMiddleware(handler)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return user(adminMiddleware(h).ServeHTTP)
	}

	mux.Handle("POST /api/chat", user(g.handleChat))
	mux.Handle("GET /api/chats", user(g.handleListChats))
	mux.Handle("GET /api/chats/events", user(g.handleChatEvents))
	mux.Handle("DELETE /api/chats/{id}", user(g.handleDeleteChat))
	mux.Handle("GET /api/chats/{id}/messages", user(g.handleChatMessages))
	mux.Handle("DELETE /api/chats/{id}/messages", user(g.handleDeleteMessagesAfter))
	mux.Handle("GET /api/chats/{id}/transcript", user(g.handleTranscript))
	mux.Handle("GET /api/models", user(g.handleListModels))
	mux.Handle("GET /api/tools", user(g.handleListTools))

	mux.Handle("POST /api/admin/grants/models", admin(g.handleGrantModel))
	mux.Handle("DELETE /api/admin/grants/models", admin(g.handleRevokeModel))
	mux.Handle("POST /api/admin/grants/tools", admin(g.handleGrantTool))
	mux.Handle("DELETE /api/admin/grants/tools", admin(g.handleRevokeTool))
	mux.Handle("POST /api/admin/memberships", admin(g.handleAddMembership))
	mux.Handle("DELETE /api/admin/memberships", admin(g.handleRemoveMembership))

	mux.Handle("GET /api/admin/groups", admin(g.handleListGroups))
	mux.Handle("POST /api/admin/groups", admin(g.handleCreateGroup))
	mux.Handle("DELETE /api/admin/groups/{id}", admin(g.handleDeleteGroup))
	mux.Handle("GET /api/admin/providers", admin(g.handleListProviders))
	mux.Handle("POST /api/admin/providers", admin(g.handleCreateProvider))
	mux.Handle("DELETE /api/admin/providers/{id}", admin(g.handleDeleteProvider))
	mux.Handle("POST /api/admin/models", admin(g.handleCreateModel))
	mux.Handle("DELETE /api/admin/models/{id}", admin(g.handleDeleteModel))
	mux.Handle("PUT /api/admin/models/{id}/credentials", admin(g.handleSetCredential))
	mux.Handle("PUT /api/admin/models/{id}/settings", admin(g.handleSetSetting))
	mux.Handle("POST /api/admin/tools", admin(g.handleCreateTool))
	mux.Handle("DELETE /api/admin/tools/{id}", admin(g.handleDeleteTool))
	mux.Handle("GET /api/admin/users", admin(g.handleListUsers))
	mux.Handle("PUT /api/admin/users/{id}/admin", admin(g.handleSetUserAdmin))
	mux.Handle("DELETE /api/admin/users/{id}", admin(g.handleDeleteUser))
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
// In-flight chats finish persisting on their own detached contexts.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.broadcaster.Close()
	if g.limiter != nil {
		g.limiter.Close()
	}
	g.cache.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
