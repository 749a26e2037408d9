// Package gateway serves the coven-chat HTTP API.
//
// # Overview
//
// The gateway package is the outer shell of coven-chat. It owns the store,
// the access cache, the rate limiter and the turn broadcaster, and wires
// them into the conversation service:
//
//	store ─┬─ access.Resolver ──┐
//	       ├─ access.Catalog    ├─ conversation.Service ── POST /api/chat
//	       └─ provider.Factory ─┘
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    cache        *cache.Cache
//	    resolver     *access.Resolver
//	    catalog      *access.Catalog
//	    conversation *conversation.Service
//	    broadcaster  *conversation.Broadcaster
//	    limiter      *rateLimiter
//	    httpServer   *http.Server
//	}
//
// # HTTP API
//
// Chat endpoints (api.go):
//
//   - POST /api/chat - Run one chat turn (SSE, or JSON with ?stream=false)
//   - GET /api/chats - List the caller's chats
//   - GET /api/chats/events - SSE feed of the caller's persisted turns
//   - DELETE /api/chats/{id} - Delete a chat
//   - GET /api/chats/{id}/messages - Stored turns of a chat
//   - DELETE /api/chats/{id}/messages?after=T - Drop turns at or after T
//   - GET /api/chats/{id}/transcript?format=md|html - Export a chat
//   - GET /api/models - Models the caller may use, without credentials
//   - GET /api/tools - Tools the caller may select
//
// Admin endpoints (admin.go), behind auth.RequireAdminHTTP:
//
//   - POST/DELETE /api/admin/grants/models
//   - POST/DELETE /api/admin/grants/tools
//   - POST/DELETE /api/admin/memberships
//
// Catalog endpoints (catalog.go), also admin only:
//
//   - GET/POST /api/admin/groups, DELETE /api/admin/groups/{id}
//   - GET/POST /api/admin/providers, DELETE /api/admin/providers/{id}
//   - POST /api/admin/models, DELETE /api/admin/models/{id}
//   - PUT /api/admin/models/{id}/credentials, PUT /api/admin/models/{id}/settings
//   - POST /api/admin/tools, DELETE /api/admin/tools/{id}
//   - GET /api/admin/users, PUT /api/admin/users/{id}/admin, DELETE /api/admin/users/{id}
//
// Credentials are write-only. Every write goes through access.Catalog.
//
// Health endpoints need no auth:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store ping
//
// # SSE Events
//
// POST /api/chat emits, in order:
//
//	user_message_id  {"id": "..."}
//	text             {"text": "..."}             (zero or more)
//	tool_call        {"id", "name", "arguments"}
//	tool_result      {"id", "name", "result", "is_error"}
//	annotation       {"message_id_from_server", "index"}
//	error            {"message": "..."}
//	done             {"chat_id", "reason", "steps", "usage"}
//
// The chat id is also sent in the X-Chat-ID response header.
//
// # Error Mapping
//
// Errors from before the stream starts are JSON {"error": "..."}:
//
//	conversation.ErrInvalidRequest  400
//	store.ErrInvalidCredentialKey   400
//	access.ErrNoAccess              401
//	access.ErrAuthorizationDenied   403
//	access.ErrModelNotFound         404
//	conversation.ErrChatNotFound    404
//	store.ErrNotFound               404
//	store.ErrDuplicate              409
//	anything else                   500
//
// # Authentication
//
// With auth.jwt_secret set, every /api route needs a bearer token. Without it
// the gateway trusts the X-User-ID header and logs a warning at startup. That
// mode only starts when server.http_addr is a loopback address; New returns
// ErrDevAuthNotLoopback otherwise.
//
// # Rate Limiting
//
// When ratelimit.requests_per_second is set, each user (or remote IP when no
// identity is attached) gets a token bucket. Excess requests get 429 with
// Retry-After.
package gateway
