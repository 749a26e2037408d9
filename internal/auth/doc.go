// Package auth provides authentication for the coven-chat HTTP API.
//
// # JWT Tokens
//
// Clients send an HS256 JWT as a bearer token. The "sub" claim is the user
// id; HTTPAuthMiddleware loads that user and attaches an AuthContext:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(store, verifier, logger)(api))
//
// Tokens are minted offline with the `coven-chat token` command.
//
// # Dev Mode
//
// When no jwt_secret is configured, DevAuthMiddleware trusts the X-User-ID
// header instead. This is for local development only.
//
// # Admin Gate
//
// RequireAdminHTTP rejects non-admin users with 403. It must run after one of
// the authentication middlewares.
//
// # Passwords
//
// HashPassword and CheckPassword wrap bcrypt for users created with
// `coven-chat user add`. There is no password login endpoint.
package auth
