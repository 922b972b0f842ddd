package http

import (
	"errors"
	"net/http"

	"github.com/codetutor/tutorgate/internal/domain/oauth"
	"github.com/codetutor/tutorgate/internal/domain/user"
)

// handleOAuthProviders lists the configured provider names.
// GET /auth/oauth/providers
func (h *Handler) handleOAuthProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string][]string{"providers": h.oauth.Providers()})
}

// handleOAuthStart redirects the browser to the provider consent page.
// GET /auth/oauth/{provider}/start
func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	target, err := h.oauth.Start(r.Context(), r.PathValue("provider"))
	if errors.Is(err, oauth.ErrUnknownProvider) {
		respondError(w, r, http.StatusNotFound, "unknown provider")
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("oauth start failed", "provider", r.PathValue("provider"), "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleOAuthCallback completes the provider leg and hands the browser a
// one-time code in the URL fragment. Failures land on the frontend error page.
// GET /auth/oauth/{provider}/callback
func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := r.PathValue("provider")

	target, err := h.oauth.Callback(r.Context(), provider, q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		LoggerFromContext(r.Context()).Warn("oauth callback failed", "provider", provider, "error", err)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	http.Redirect(w, r, target, http.StatusFound)
}

// handleOAuthExchange trades a one-time code for a session.
// POST /auth/oauth/exchange
func (h *Handler) handleOAuthExchange(w http.ResponseWriter, r *http.Request) {
	var in exchangeRequest
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.oauth.Exchange(r.Context(), in.Code, in.Provider)
	switch {
	case errors.Is(err, oauth.ErrInvalidOrExpiredCode):
		h.metrics.OAuthExchanges.WithLabelValues("invalid").Inc()
		respondError(w, r, http.StatusBadRequest, oauth.ErrInvalidOrExpiredCode.Error())
		return
	case errors.Is(err, user.ErrEmailTaken):
		h.metrics.OAuthExchanges.WithLabelValues("conflict").Inc()
		respondError(w, r, http.StatusConflict, "email already registered; sign in with a password to link this provider")
		return
	case err != nil:
		h.metrics.OAuthExchanges.WithLabelValues("error").Inc()
		LoggerFromContext(r.Context()).Error("oauth exchange failed", "provider", in.Provider, "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}

	if !h.startSession(w, r, u, "oauth:"+in.Provider) {
		h.metrics.OAuthExchanges.WithLabelValues("error").Inc()
		return
	}
	h.metrics.OAuthExchanges.WithLabelValues("success").Inc()
	respondJSON(w, r, http.StatusOK, sessionResponse{User: u.Profile()})
}
