package http

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/cel"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/credential"
	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	"github.com/codetutor/tutorgate/internal/domain/session"
	"github.com/codetutor/tutorgate/internal/domain/token"
	"github.com/codetutor/tutorgate/internal/domain/user"
)

const tracerName = "github.com/codetutor/tutorgate/internal/adapter/inbound/http"

// anonymousBucket labels rejections from the per-address limit.
const anonymousBucket = "anonymous"

// PolicyChecker evaluates route policies for an authenticated request.
type PolicyChecker interface {
	Check(ctx context.Context, req cel.Request) (cel.Decision, error)
}

// Pipeline holds the request stages placed in front of protected handlers.
// Stage order is Authenticate, Policy, CSRF, RateLimit.
type Pipeline struct {
	issuer   *credential.Issuer
	users    user.Lookup
	policy   PolicyChecker
	guard    *csrf.Guard
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	recorder audit.Recorder
	tracer   trace.Tracer
}

// NewPipeline creates a Pipeline. A nil policy skips the policy stage; a nil
// recorder discards audit events.
func NewPipeline(
	issuer *credential.Issuer,
	users user.Lookup,
	policy PolicyChecker,
	guard *csrf.Guard,
	limiter *ratelimit.Limiter,
	metrics *Metrics,
	recorder audit.Recorder,
) *Pipeline {
	if recorder == nil {
		recorder = audit.Discard
	}
	return &Pipeline{
		issuer:   issuer,
		users:    users,
		policy:   policy,
		guard:    guard,
		limiter:  limiter,
		metrics:  metrics,
		recorder: recorder,
		tracer:   otel.Tracer(tracerName),
	}
}

// Protect wraps h in every stage. An empty bucket skips the rate limit.
func (p *Pipeline) Protect(bucket string, h http.Handler) http.Handler {
	if bucket != "" {
		h = p.RateLimit(bucket)(h)
	}
	return p.Authenticate(p.Policy(p.CSRF(h)))
}

// Authenticate validates the access cookie and places the principal in the
// request context. Every failure is a 401; an expired token asks the client
// to reauthenticate.
func (p *Pipeline) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := p.tracer.Start(r.Context(), "pipeline.authenticate")
		defer span.End()

		principal, err := p.issuer.Authenticate(ctx, r)
		if err != nil {
			reason := authFailureReason(err)
			p.metrics.AuthFailures.WithLabelValues(reason).Inc()
			span.SetStatus(codes.Error, reason)
			span.SetAttributes(attribute.String("tutorgate.auth.reason", reason))

			logger := LoggerFromContext(ctx)
			if reason == "store_unavailable" {
				logger.Error("authentication failed closed", "error", err)
			} else {
				logger.Debug("authentication rejected", "reason", reason, "error", err)
			}

			message := errUnauthorized
			if errors.Is(err, credential.ErrReauthenticate) {
				message = errReauthenticate
			}
			respondError(w, r, http.StatusUnauthorized, message)
			return
		}

		span.SetAttributes(
			attribute.String("tutorgate.user_id", principal.UserID),
			attribute.String("tutorgate.role", principal.Role),
		)
		ctx = withPrincipal(ctx, principal)
		ctx = withLogger(ctx, LoggerFromContext(ctx).With("user_id", principal.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Policy evaluates route rules against the caller's current account state.
// Lookup and evaluation failures deny.
func (p *Pipeline) Policy(next http.Handler) http.Handler {
	if p.policy == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := p.tracer.Start(r.Context(), "pipeline.policy")
		defer span.End()
		logger := LoggerFromContext(ctx)

		principal, ok := PrincipalFromContext(ctx)
		if !ok {
			span.SetStatus(codes.Error, "no principal")
			respondError(w, r, http.StatusUnauthorized, errUnauthorized)
			return
		}

		u, err := p.users.GetByID(ctx, principal.UserID)
		if errors.Is(err, user.ErrNotFound) {
			// Account deleted while the session lived on.
			span.SetStatus(codes.Error, "user not found")
			p.metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
			respondError(w, r, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if err != nil {
			span.SetStatus(codes.Error, "user lookup failed")
			logger.Error("policy user lookup failed closed", "error", err)
			respondError(w, r, http.StatusForbidden, errForbidden)
			return
		}

		decision, err := p.policy.Check(ctx, cel.Request{
			UserID:        u.ID,
			Role:          string(u.Role),
			EmailVerified: u.EmailVerified,
			Method:        r.Method,
			Path:          r.URL.Path,
		})
		if err != nil {
			span.SetStatus(codes.Error, "policy evaluation failed")
			logger.Error("policy evaluation failed closed", "rule", decision.Rule, "error", err)
			respondError(w, r, http.StatusForbidden, errForbidden)
			return
		}
		if !decision.Allowed {
			span.SetStatus(codes.Error, "denied")
			span.SetAttributes(attribute.String("tutorgate.policy.rule", decision.Rule))
			logger.Info("request denied by policy", "rule", decision.Rule)
			p.recorder.Record(audit.NewEvent(ctx, audit.EventPolicyDenied, audit.OutcomeFailure, u.ID).
				With("rule", decision.Rule).With("path", r.URL.Path))
			respondError(w, r, http.StatusForbidden, errForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRF verifies the double-submit token on state-changing methods against
// the caller's session.
func (p *Pipeline) CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !csrf.RequiresCheck(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			respondError(w, r, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if !p.verifyCSRF(w, r, principal) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyCSRF checks r against the session of principal and writes a 403 on
// failure. Handlers outside the Protect chain call it directly.
func (p *Pipeline) verifyCSRF(w http.ResponseWriter, r *http.Request, principal credential.Principal) bool {
	ctx, span := p.tracer.Start(r.Context(), "pipeline.csrf")
	defer span.End()

	ok, err := p.guard.VerifyRequest(ctx, principal.SessionID, r)
	if err != nil {
		span.SetStatus(codes.Error, "store unavailable")
		LoggerFromContext(ctx).Error("csrf check failed closed", "error", err)
		respondError(w, r, http.StatusForbidden, errForbidden)
		return false
	}
	if !ok {
		span.SetStatus(codes.Error, "mismatch")
		LoggerFromContext(ctx).Info("csrf token rejected")
		p.recorder.Record(audit.NewEvent(ctx, audit.EventCSRFRejected, audit.OutcomeFailure, principal.UserID).
			With("path", r.URL.Path))
		respondError(w, r, http.StatusForbidden, errForbidden)
		return false
	}
	return true
}

// RateLimit charges one request against bucket for the caller.
func (p *Pipeline) RateLimit(bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := p.tracer.Start(r.Context(), "pipeline.rate_limit",
				trace.WithAttributes(attribute.String("tutorgate.bucket", bucket)))
			defer span.End()

			principal, ok := PrincipalFromContext(ctx)
			if !ok {
				respondError(w, r, http.StatusUnauthorized, errUnauthorized)
				return
			}

			err := p.limiter.CheckAndIncrement(ctx, principal.UserID, principal.Role, bucket)
			if !p.handleLimitError(w, r.WithContext(ctx), span, err, bucket, principal.UserID) {
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Throttle applies the anonymous per-address limit to unauthenticated entry points.
func (p *Pipeline) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := p.tracer.Start(r.Context(), "pipeline.throttle")
		defer span.End()

		err := p.limiter.Throttle(ctx, ClientIP(ctx))
		if !p.handleLimitError(w, r.WithContext(ctx), span, err, anonymousBucket, "") {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleLimitError writes the response for a limiter failure and reports
// whether the request may continue.
func (p *Pipeline) handleLimitError(w http.ResponseWriter, r *http.Request, span trace.Span, err error, bucket, userID string) bool {
	if err == nil {
		return true
	}
	ctx := r.Context()

	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		span.SetStatus(codes.Error, string(le.Code))
		p.metrics.RateLimitRejections.WithLabelValues(bucket, string(le.Code)).Inc()
		p.recorder.Record(audit.NewEvent(ctx, audit.EventRateLimited, audit.OutcomeFailure, userID).
			With("bucket", bucket).With("code", string(le.Code)))
		LoggerFromContext(ctx).Info("request rate limited",
			"bucket", bucket, "code", le.Code, "retry_after", le.RetryAfter)
		respondLimit(w, r, le)
		return false
	}

	// Counter or ledger unreachable.
	span.SetStatus(codes.Error, "store unavailable")
	LoggerFromContext(ctx).Error("rate limit check failed", "bucket", bucket, "error", err)
	respondError(w, r, http.StatusServiceUnavailable, errUnavailable)
	return false
}

// authFailureReason maps an Authenticate error to a metric label.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, credential.ErrReauthenticate):
		return "expired"
	case errors.Is(err, credential.ErrNoCredential):
		return "missing"
	case errors.Is(err, credential.ErrRevoked):
		return "revoked"
	case errors.Is(err, token.ErrWrongType):
		return "wrong_type"
	default:
		return "invalid"
	}
}
