package http

import (
	"errors"
	"net/http"

	"github.com/codetutor/tutorgate/internal/service"
)

type progressResponse struct {
	UserID        string `json:"user_id"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
}

// handleProgress returns the caller's progress summary.
// GET /api/progress
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), principal.UserID)
	if err != nil {
		LoggerFromContext(r.Context()).Error("progress lookup failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	respondJSON(w, r, http.StatusOK, progressResponse{
		UserID:        u.ID,
		EmailVerified: u.EmailVerified,
		Role:          string(u.Role),
	})
}

// tutorHandler forwards a prompt to the tutor and charges the reply's cost
// to the caller's daily ledger.
// POST /api/chat, POST /api/hint
func (h *Handler) tutorHandler(kind string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal, _ := PrincipalFromContext(ctx)
		logger := LoggerFromContext(ctx)

		var in promptRequest
		if err := readJSON(w, r, &in); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}

		reply, err := h.tutor.Respond(ctx, principal.UserID, in.Prompt)
		if errors.Is(err, service.ErrEmptyPrompt) {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			logger.Error("tutor call failed", "kind", kind, "error", err)
			respondError(w, r, http.StatusBadGateway, "tutor unavailable")
			return
		}

		if reply.Cost > 0 {
			// The answer is already paid for upstream; a ledger failure is logged, not surfaced.
			if err := h.limiter.RecordCost(ctx, principal.UserID, reply.Cost); err != nil {
				logger.Error("failed to record llm cost", "kind", kind, "cost", reply.Cost, "error", err)
			} else {
				h.metrics.LLMCost.Add(reply.Cost)
			}
		}
		respondJSON(w, r, http.StatusOK, reply)
	})
}

// handleUsage reports today's spend against the caller's cap.
// GET /api/usage
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	usage, err := h.limiter.Usage(r.Context(), principal.UserID, principal.Role)
	if err != nil {
		LoggerFromContext(r.Context()).Error("usage lookup failed", "error", err)
		respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	respondJSON(w, r, http.StatusOK, usage)
}
