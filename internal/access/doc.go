// Package access decides which models and tools a user may use.
//
// # Resolution
//
// An admin user resolves every model config and every tool. Any other user
// resolves the distinct union of the grants held by their groups; a user in
// no groups resolves nothing. A user ID with no row resolves nothing rather
// than failing. Store errors are returned wrapped, never masked as an empty
// result.
//
// # Denial
//
// FindModel fails closed. ErrNoAccess and ErrModelNotFound both wrap
// ErrAuthorizationDenied; the HTTP edge maps the first to 401 and the second
// to 404. SelectTools never fails for a bad ID: the caller's selection is
// intersected with the resolved set and anything outside it is dropped.
//
// # Caching
//
// Results are cached per user in an injected cache.Cache. Catalog performs
// grant, membership and delete writes and purges the cache after each one, so
// a revoke is visible on the next resolution.
package access
