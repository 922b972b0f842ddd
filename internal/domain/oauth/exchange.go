package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// codeBytes gives 256 bits of entropy per exchange code.
const codeBytes = 32

// Exchange issues and redeems single-use exchange codes.
type Exchange struct {
	codes CodeStore
	ttl   time.Duration
	now   func() time.Time
}

// NewExchange creates an Exchange. A non-positive ttl selects DefaultCodeTTL.
func NewExchange(codes CodeStore, ttl time.Duration) *Exchange {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Exchange{codes: codes, ttl: ttl, now: time.Now}
}

// TTL returns the code lifetime.
func (e *Exchange) TTL() time.Duration {
	return e.ttl
}

// IssueCode parks id under a fresh random code.
func (e *Exchange) IssueCode(ctx context.Context, id Identity) (string, error) {
	if id.Provider == "" || id.Subject == "" {
		return "", errors.New("oauth: identity provider and subject are required")
	}
	code, err := RandomString(codeBytes)
	if err != nil {
		return "", fmt.Errorf("generate exchange code: %w", err)
	}
	if id.IssuedAt.IsZero() {
		id.IssuedAt = e.now().UTC()
	}
	if err := e.codes.Put(ctx, code, id, e.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Redeem consumes code. The code is gone after the first call whatever the
// outcome, so a provider mismatch also burns it.
func (e *Exchange) Redeem(ctx context.Context, code, provider string) (Identity, error) {
	if code == "" || provider == "" {
		return Identity{}, ErrInvalidOrExpiredCode
	}
	id, err := e.codes.Pop(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrInvalidOrExpiredCode
	}
	if err != nil {
		return Identity{}, err
	}
	if id.Provider != provider {
		return Identity{}, ErrInvalidOrExpiredCode
	}
	return id, nil
}

// CallbackURL builds the frontend redirect. The code travels in the fragment
// so it never reaches a server log or a Referer header.
func CallbackURL(frontend, code, provider string) string {
	return strings.TrimRight(frontend, "/") + "/auth/callback#" + code + ":" + url.PathEscape(provider)
}

// ErrorURL is the frontend redirect used when the provider leg fails.
func ErrorURL(frontend string) string {
	return strings.TrimRight(frontend, "/") + "/auth/callback#error"
}

// RandomString returns n random bytes, base64url encoded without padding.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
