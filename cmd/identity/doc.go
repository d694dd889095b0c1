// Package identity owns accounts and their opaque API tokens.
//
// Passwords and tokens arrive already hashed (see cmd/security); the stores persist digests only.
// Two Store implementations exist: MemoryStore for development and tests, PostgresStore for
// deployments.
package identity
