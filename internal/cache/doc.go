// Package cache provides a small in-process TTL cache with explicit
// invalidation. The access resolver stores per-user results here and the
// catalog write path purges it, so grant changes are visible on the next call.
//
// Every invalidation bumps a generation counter. A reader that loads from
// the store reads Generation first and stores with SetIfGeneration, so a
// result computed before a concurrent revoke is never cached after it.
package cache
