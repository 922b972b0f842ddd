package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/credential"
	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	"github.com/codetutor/tutorgate/internal/domain/user"
	"github.com/codetutor/tutorgate/internal/service"
)

// Handler serves the auth, OAuth and tutor API routes.
type Handler struct {
	pipeline *Pipeline
	issuer   *credential.Issuer
	guard    *csrf.Guard
	limiter  *ratelimit.Limiter
	users    user.Lookup
	accounts *service.AccountService
	oauth    *service.OAuthService
	tutor    service.Tutor
	metrics  *Metrics
	recorder audit.Recorder
}

// --- Request/response types ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changeEmailRequest struct {
	Password string `json:"password"`
	NewEmail string `json:"new_email"`
}

type exchangeRequest struct {
	Code     string `json:"code"`
	Provider string `json:"provider"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// sessionResponse is returned whenever a session starts. It deliberately
// has no token fields.
type sessionResponse struct {
	User user.Profile `json:"user"`
}

// routes registers every route on mux.
func (h *Handler) routes(mux *http.ServeMux) {
	p := h.pipeline

	// Entry points that start a session are exempt from CSRF and charged
	// against the anonymous per-address limit instead.
	mux.Handle("POST /auth/register", p.Throttle(http.HandlerFunc(h.handleRegister)))
	mux.Handle("POST /auth/login", p.Throttle(http.HandlerFunc(h.handleLogin)))
	mux.Handle("POST /auth/oauth/exchange", p.Throttle(http.HandlerFunc(h.handleOAuthExchange)))
	mux.Handle("GET /auth/oauth/{provider}/start", p.Throttle(http.HandlerFunc(h.handleOAuthStart)))
	mux.HandleFunc("GET /auth/oauth/{provider}/callback", h.handleOAuthCallback)
	mux.HandleFunc("GET /auth/oauth/providers", h.handleOAuthProviders)

	// Refresh runs on the refresh cookie alone and checks CSRF itself.
	mux.Handle("POST /auth/refresh", p.Throttle(http.HandlerFunc(h.handleRefresh)))

	mux.Handle("POST /auth/logout", p.Protect("", http.HandlerFunc(h.handleLogout)))
	mux.Handle("GET /auth/me", p.Protect("", http.HandlerFunc(h.handleMe)))
	mux.Handle("POST /auth/password", p.Protect("", http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("POST /auth/email", p.Protect("", http.HandlerFunc(h.handleChangeEmail)))

	mux.Handle("GET /api/progress", p.Protect("", http.HandlerFunc(h.handleProgress)))
	mux.Handle("POST /api/chat", p.Protect("chat", h.tutorHandler("chat")))
	mux.Handle("POST /api/hint", p.Protect("hint", h.tutorHandler("hint")))
	mux.Handle("GET /api/usage", p.Protect("", http.HandlerFunc(h.handleUsage)))
}

// startSession logs u in and issues the session's CSRF token.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, u *user.User, method string) bool {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	principal, err := h.issuer.Login(ctx, w, u.ID, string(u.Role))
	if err != nil {
		logger.Error("failed to start session", "user_id", u.ID, "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return false
	}
	if _, err := h.guard.Issue(ctx, w, principal.SessionID); err != nil {
		// A session without a CSRF binding can never make a state change.
		logger.Error("failed to issue csrf token", "user_id", u.ID, "error", err)
		_ = h.issuer.Logout(ctx, w, principal)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return false
	}

	h.metrics.SessionsIssued.Inc()
	h.recorder.Record(audit.NewEvent(ctx, audit.EventLogin, audit.OutcomeSuccess, u.ID).With("method", method))
	logger.Info("session started", "user_id", u.ID, "method", method)
	return true
}

// --- Auth handlers ---

// handleRegister creates a password account and starts a session.
// POST /auth/register
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.accounts.Register(r.Context(), in)
	switch {
	case errors.Is(err, service.ErrValidation):
		respondError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": "))
		return
	case errors.Is(err, user.ErrEmailTaken):
		respondError(w, r, http.StatusConflict, "email already registered")
		return
	case err != nil:
		LoggerFromContext(r.Context()).Error("registration failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	if !h.startSession(w, r, u, "register") {
		return
	}
	respondJSON(w, r, http.StatusCreated, sessionResponse{User: u.Profile()})
}

// handleLogin checks a password and starts a session.
// POST /auth/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.accounts.Authenticate(r.Context(), in.Email, in.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		respondError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("login failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	if !h.startSession(w, r, u, "password") {
		return
	}
	respondJSON(w, r, http.StatusOK, sessionResponse{User: u.Profile()})
}

// handleLogout revokes the caller's session and clears all three cookies.
// POST /auth/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)
	logger := LoggerFromContext(ctx)

	if err := h.issuer.Logout(ctx, w, principal); err != nil {
		logger.Error("failed to revoke session on logout", "error", err)
	}
	if err := h.guard.Clear(ctx, w, principal.SessionID); err != nil {
		logger.Error("failed to clear csrf binding", "error", err)
	}

	h.recorder.Record(audit.NewEvent(ctx, audit.EventLogout, audit.OutcomeSuccess, principal.UserID))
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh mints a new access token from the refresh cookie. The CSRF
// token is checked against the refresh token's session before anything is
// minted.
// POST /auth/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	sess, err := h.issuer.Session(ctx, r)
	if err != nil {
		h.refreshRejected(w, r, err)
		return
	}
	if !h.pipeline.verifyCSRF(w, r, sess) {
		return
	}

	principal, err := h.issuer.Refresh(ctx, w, r)
	if err != nil {
		h.refreshRejected(w, r, err)
		return
	}

	u, err := h.users.GetByID(ctx, principal.UserID)
	if err != nil {
		logger.Error("refreshed session has no user", "user_id", principal.UserID, "error", err)
		respondError(w, r, http.StatusUnauthorized, errUnauthorized)
		return
	}

	h.recorder.Record(audit.NewEvent(ctx, audit.EventRefresh, audit.OutcomeSuccess, principal.UserID))
	respondJSON(w, r, http.StatusOK, sessionResponse{User: u.Profile()})
}

func (h *Handler) refreshRejected(w http.ResponseWriter, r *http.Request, err error) {
	reason := authFailureReason(err)
	h.metrics.AuthFailures.WithLabelValues(reason).Inc()
	if reason == "store_unavailable" {
		LoggerFromContext(r.Context()).Error("refresh failed closed", "error", err)
	}
	if errors.Is(err, credential.ErrUnauthorized) {
		message := errUnauthorized
		if errors.Is(err, credential.ErrReauthenticate) {
			message = errReauthenticate
		}
		respondError(w, r, http.StatusUnauthorized, message)
		return
	}
	LoggerFromContext(r.Context()).Error("refresh failed", "error", err)
	respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
}

// handleMe returns the caller's profile.
// GET /auth/me
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), principal.UserID)
	if err != nil {
		LoggerFromContext(r.Context()).Error("profile lookup failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	respondJSON(w, r, http.StatusOK, u.Profile())
}

// handleChangePassword replaces the password, ends every session of the
// user and starts a fresh one for the caller.
// POST /auth/password
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)

	var in changePasswordRequest
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.accounts.ChangePassword(ctx, principal.UserID, in.CurrentPassword, in.NewPassword)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, r, http.StatusForbidden, "current password is incorrect")
		return
	case errors.Is(err, service.ErrValidation):
		respondError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": "))
		return
	case err != nil:
		LoggerFromContext(ctx).Error("password change failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	h.restartSession(w, r, principal, u, "password_change")
}

// handleChangeEmail moves the account to a new, unverified email, ends every
// session of the user and starts a fresh one for the caller.
// POST /auth/email
func (h *Handler) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)

	var in changeEmailRequest
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.accounts.ChangeEmail(ctx, principal.UserID, in.Password, in.NewEmail)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, r, http.StatusForbidden, "current password is incorrect")
		return
	case errors.Is(err, service.ErrValidation):
		respondError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": "))
		return
	case errors.Is(err, user.ErrEmailTaken):
		respondError(w, r, http.StatusConflict, "email already registered")
		return
	case err != nil:
		LoggerFromContext(ctx).Error("email change failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	h.restartSession(w, r, principal, u, "email_change")
}

// restartSession drops the caller's CSRF binding after revoke_all and
// starts a new session in its place.
func (h *Handler) restartSession(w http.ResponseWriter, r *http.Request, old credential.Principal, u *user.User, method string) {
	ctx := r.Context()
	if err := h.guard.Clear(ctx, w, old.SessionID); err != nil {
		LoggerFromContext(ctx).Warn("failed to clear old csrf binding", "error", err)
	}
	if !h.startSession(w, r, u, method) {
		return
	}
	respondJSON(w, r, http.StatusOK, sessionResponse{User: u.Profile()})
}
