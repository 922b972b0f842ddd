package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codetutor/tutorgate/internal/ctxkey"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/credential"
)

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// maxRequestIDLen bounds client-supplied request ids before they reach logs.
const maxRequestIDLen = 128

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The id is echoed in X-Request-ID and attached to audit events through
// audit.WithMeta.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > maxRequestIDLen {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), LoggerKey, enrichedLogger)
			meta := audit.MetaFromContext(ctx)
			meta.RequestID = requestID
			ctx = audit.WithMeta(ctx, meta)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// withLogger stores logger in ctx, replacing the request logger.
func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// RealIPMiddleware resolves the client address used by the anonymous rate
// limit and audit events. Proxy headers are honoured only when
// trustProxyHeaders is set.
func RealIPMiddleware(trustProxyHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealIP(r, trustProxyHeaders)
			meta := audit.MetaFromContext(r.Context())
			meta.RemoteIP = ip
			next.ServeHTTP(w, r.WithContext(audit.WithMeta(r.Context(), meta)))
		})
	}
}

// ClientIP returns the address resolved by RealIPMiddleware.
func ClientIP(ctx context.Context) string {
	return audit.MetaFromContext(ctx).RemoteIP
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		// X-Forwarded-For: client, proxy1, proxy2. Only the first entry names the client.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withPrincipal stores the authenticated caller in ctx.
func withPrincipal(ctx context.Context, p credential.Principal) context.Context {
	return context.WithValue(ctx, ctxkey.PrincipalKey{}, p)
}

// PrincipalFromContext returns the caller set by the Authenticate stage.
func PrincipalFromContext(ctx context.Context) (credential.Principal, bool) {
	p, ok := ctx.Value(ctxkey.PrincipalKey{}).(credential.Principal)
	return p, ok
}
