// Package credential issues session token pairs, carries them in cookies and
// authenticates incoming requests against them.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/session"
	"github.com/codetutor/tutorgate/internal/domain/token"
)

var (
	// ErrUnauthorized covers every reason a credential is not accepted.
	// The wrapped cause is for logs only.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrReauthenticate is an ErrUnauthorized for an expired token.
	ErrReauthenticate = fmt.Errorf("%w: reauthenticate", ErrUnauthorized)
	// ErrNoCredential is an ErrUnauthorized for a request without the cookie.
	ErrNoCredential = fmt.Errorf("%w: no credential cookie", ErrUnauthorized)
	// ErrRevoked is an ErrUnauthorized for a well-formed token whose jti is no longer registered.
	ErrRevoked = fmt.Errorf("%w: session revoked", ErrUnauthorized)
)

// Default lifetimes.
const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Codec is the subset of token.Codec the issuer uses.
type Codec interface {
	Issue(p token.IssueParams) (token.Signed, error)
	VerifyType(raw string, want token.Type) (*token.Claims, error)
}

// Config holds token lifetimes and cookie flags.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Secure sets the Secure flag on cookies; true in production.
	Secure bool
}

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Role   string
	// SessionID is the jti of the refresh token that started the session.
	SessionID string
	// AccessJTI is the jti of the access token presented or minted.
	AccessJTI string
	ExpiresAt time.Time
}

// Issuer mints token pairs and validates requests.
type Issuer struct {
	codec    Codec
	sessions session.Store
	cfg      Config
	now      func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithNowFunc overrides the clock used to bound refreshed access tokens.
func WithNowFunc(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. Zero TTLs select the defaults.
func NewIssuer(codec Codec, sessions session.Store, cfg Config, opts ...Option) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	i := &Issuer{codec: codec, sessions: sessions, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Config returns the effective configuration.
func (i *Issuer) Config() Config {
	return i.cfg
}

// Login starts a new session: mints refresh and access tokens, registers
// both jtis and sets both cookies.
func (i *Issuer) Login(ctx context.Context, w http.ResponseWriter, userID, role string) (Principal, error) {
	refresh, err := i.codec.Issue(token.IssueParams{
		Subject: userID,
		Role:    role,
		Type:    token.TypeRefresh,
		TTL:     i.cfg.RefreshTTL,
	})
	if err != nil {
		return Principal{}, fmt.Errorf("issue refresh token: %w", err)
	}
	sid := refresh.Claims.ID

	access, err := i.codec.Issue(token.IssueParams{
		Subject:   userID,
		Role:      role,
		Type:      token.TypeAccess,
		TTL:       i.cfg.AccessTTL,
		SessionID: sid,
	})
	if err != nil {
		return Principal{}, fmt.Errorf("issue access token: %w", err)
	}

	if err := i.sessions.Register(ctx, userID, sid, i.cfg.RefreshTTL); err != nil {
		return Principal{}, fmt.Errorf("register refresh session: %w", err)
	}
	if err := i.sessions.Register(ctx, userID, access.Claims.ID, i.cfg.AccessTTL); err != nil {
		_ = i.sessions.Revoke(ctx, userID, sid)
		return Principal{}, fmt.Errorf("register access session: %w", err)
	}

	i.setCookie(w, RefreshCookie, refresh.Value, i.cfg.RefreshTTL)
	i.setCookie(w, AccessCookie, access.Value, i.cfg.AccessTTL)

	return Principal{
		UserID:    userID,
		Role:      role,
		SessionID: sid,
		AccessJTI: access.Claims.ID,
		ExpiresAt: access.Claims.ExpiresAt.Time,
	}, nil
}

// Authenticate validates the access cookie of r and confirms that both its
// jti and the session it belongs to are still registered. Every failure is
// ErrUnauthorized; a store failure is wrapped alongside it so the caller can
// log it, and is never treated as success.
func (i *Issuer) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	raw := cookieValue(r, AccessCookie)
	if raw == "" {
		return Principal{}, ErrNoCredential
	}

	claims, err := i.codec.VerifyType(raw, token.TypeAccess)
	if err != nil {
		return Principal{}, verifyError(err)
	}

	if err := i.requireActive(ctx, claims.Subject, claims.ID); err != nil {
		return Principal{}, err
	}
	// Access tokens minted before a refresh stay registered until they
	// expire; the session check ends them at logout.
	if claims.SessionID != "" {
		if err := i.requireActive(ctx, claims.Subject, claims.SessionID); err != nil {
			return Principal{}, err
		}
	}

	return Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		AccessJTI: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the access jti and the session's refresh jti, then clears
// both cookies. Cookies are cleared even when revocation fails.
func (i *Issuer) Logout(ctx context.Context, w http.ResponseWriter, p Principal) error {
	defer i.ClearCookies(w)

	var errs []error
	if p.AccessJTI != "" {
		if err := i.sessions.Revoke(ctx, p.UserID, p.AccessJTI); err != nil {
			errs = append(errs, fmt.Errorf("revoke access jti: %w", err))
		}
	}
	if p.SessionID != "" {
		if err := i.sessions.Revoke(ctx, p.UserID, p.SessionID); err != nil {
			errs = append(errs, fmt.Errorf("revoke refresh jti: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Session validates the refresh cookie of r without minting anything and
// returns the session it names. AccessJTI is empty.
func (i *Issuer) Session(ctx context.Context, r *http.Request) (Principal, error) {
	claims, err := i.activeRefresh(ctx, r)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		SessionID: claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (i *Issuer) activeRefresh(ctx context.Context, r *http.Request) (*token.Claims, error) {
	raw := cookieValue(r, RefreshCookie)
	if raw == "" {
		return nil, ErrNoCredential
	}

	claims, err := i.codec.VerifyType(raw, token.TypeRefresh)
	if err != nil {
		return nil, verifyError(err)
	}

	if err := i.requireActive(ctx, claims.Subject, claims.ID); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) requireActive(ctx context.Context, userID, jti string) error {
	active, err := i.sessions.IsActive(ctx, userID, jti)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !active {
		return ErrRevoked
	}
	return nil
}

// Refresh mints a new access token with a fresh jti from the refresh cookie
// of r. The refresh token itself is reused, not rotated. The new access
// token never outlives the refresh token.
func (i *Issuer) Refresh(ctx context.Context, w http.ResponseWriter, r *http.Request) (Principal, error) {
	claims, err := i.activeRefresh(ctx, r)
	if err != nil {
		return Principal{}, err
	}

	ttl := i.cfg.AccessTTL
	if remaining := claims.ExpiresIn(i.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl < time.Second {
		return Principal{}, ErrReauthenticate
	}

	access, err := i.codec.Issue(token.IssueParams{
		Subject:   claims.Subject,
		Role:      claims.Role,
		Type:      token.TypeAccess,
		TTL:       ttl,
		SessionID: claims.ID,
	})
	if err != nil {
		return Principal{}, fmt.Errorf("issue access token: %w", err)
	}
	if err := i.sessions.Register(ctx, claims.Subject, access.Claims.ID, ttl); err != nil {
		return Principal{}, fmt.Errorf("register access session: %w", err)
	}

	i.setCookie(w, AccessCookie, access.Value, ttl)

	return Principal{
		UserID:    claims.Subject,
		Role:      claims.Role,
		SessionID: claims.ID,
		AccessJTI: access.Claims.ID,
		ExpiresAt: access.Claims.ExpiresAt.Time,
	}, nil
}

// RevokeAll ends every session of userID. Called after any
// security-sensitive account change.
func (i *Issuer) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := i.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return n, nil
}

// verifyError maps token verification failures onto ErrUnauthorized.
func verifyError(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return ErrReauthenticate
	}
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}
