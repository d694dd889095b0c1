// Package token hashes opaque credentials (account API tokens and device tokens) for storage.
//
// Plain tokens are never persisted. A Hasher produces a stable 64-char hex digest:
// HMAC-SHA256 keyed by MOTION_TOKEN_HMAC_KEY when configured, SHA-256 otherwise.
// Deployments that set MOTION_REQUIRE_TOKEN_HMAC refuse to start without a long enough key.
package token
