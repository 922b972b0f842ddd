// Package http is the inbound HTTP adapter: the request pipeline that sits in
// front of every tutor endpoint, plus the auth, OAuth and API handlers.
//
// # Middleware Chain
//
// Every request passes, outermost first:
//
//  1. MetricsMiddleware - records duration and status
//  2. RequestIDMiddleware - reads or generates X-Request-ID, enriches the logger
//  3. RealIPMiddleware - resolves the client address
//  4. ServeMux - routes by method and path
//
// Protected routes then run the Pipeline stages in order:
//
//	Authenticate -> Policy -> CSRF -> RateLimit(bucket) -> handler
//
// Each stage opens a tracing span and short-circuits with a terse JSON error:
// 401 for credential failures, 403 for policy or CSRF failures, 429 when a
// limit is hit and 503 when the limiter's store cannot answer.
//
// # Endpoints
//
//	POST /auth/register               create account, start session
//	POST /auth/login                  password login, start session
//	POST /auth/logout                 revoke session, clear cookies
//	POST /auth/refresh                new access token from the refresh cookie
//	GET  /auth/me                     current profile
//	POST /auth/password               change password, revoke every session
//	POST /auth/email                  change email, revoke every session
//	GET  /auth/oauth/{provider}/start
//	GET  /auth/oauth/{provider}/callback
//	POST /auth/oauth/exchange         trade a one-time code for a session
//	GET  /api/progress
//	POST /api/chat                    bucket "chat"
//	POST /api/hint                    bucket "hint"
//	GET  /api/usage                   today's LLM spend
//	GET  /health
//	GET  /metrics
//
// Response bodies never contain tokens. Credentials travel only in the
// access_token, refresh_token and csrf_token cookies.
package http
