// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the user to context

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/store"
)

// DevUserHeader carries the user id when token auth is disabled.
const DevUserHeader = "X-User-ID"

// UserStore is what the middleware needs to load identities.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func buildAuthContext(u *store.User) *AuthContext {
	return &AuthContext{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin}
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// The token's subject must name an existing user.
func HTTPAuthMiddleware(users UserStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "error", err, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				logger.Debug("token for unknown user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"user not found"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), buildAuthContext(user))))
		})
	}
}

// DevAuthMiddleware trusts the X-User-ID header. Only for local use when no
// jwt_secret is configured.
func DevAuthMiddleware(users UserStore, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(DevUserHeader)
			if userID == "" {
				http.Error(w, `{"error":"missing `+DevUserHeader+` header"}`, http.StatusUnauthorized)
				return
			}
			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				logger.Debug("dev auth for unknown user", "user_id", userID)
				http.Error(w, `{"error":"user not found"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), buildAuthContext(user))))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires an admin user.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !authCtx.IsAdmin {
				http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
