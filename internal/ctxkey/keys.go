// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// PrincipalKey is the context key type for the authenticated principal
// placed in the request context by the authentication stage.
type PrincipalKey struct{}

// RequestMetaKey is the context key type for request metadata (request id,
// client address) attached for audit events.
type RequestMetaKey struct{}
