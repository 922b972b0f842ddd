// Package oidc implements oauth.Provider for OpenID Connect issuers using
// the authorization code flow with PKCE.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/oauth"
	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrNoIDToken is returned when the token response lacks an id_token.
var ErrNoIDToken = errors.New("token response has no id_token")

// Config describes one provider.
type Config struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, email, profile.
	Scopes []string
}

// endpoints is the result of discovery.
type endpoints struct {
	oauth2   *oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

// Provider is a lazily discovered OIDC provider.
//
// Discovery runs on first use rather than at startup so an unreachable
// issuer does not keep the gateway from starting. Concurrent first calls
// share one discovery request.
type Provider struct {
	cfg   Config
	now   func() time.Time
	group singleflight.Group

	mu  sync.RWMutex
	eps *endpoints
}

// New creates a Provider. No network traffic happens until first use.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}
	return &Provider{cfg: cfg, now: time.Now}
}

// Name returns the provider name used in routes and exchange codes.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// AuthCodeURL returns the provider's authorization URL carrying state and
// the S256 challenge for verifier.
func (p *Provider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	eps, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return eps.oauth2.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Identify redeems code at the token endpoint, verifies the ID token and
// returns the identity it asserts.
func (p *Provider) Identify(ctx context.Context, code, verifier string) (oauth.Identity, error) {
	eps, err := p.discover(ctx)
	if err != nil {
		return oauth.Identity{}, err
	}

	tok, err := eps.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return oauth.Identity{}, fmt.Errorf("exchange code with %s: %w", p.cfg.Name, err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return oauth.Identity{}, ErrNoIDToken
	}

	idToken, err := eps.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return oauth.Identity{}, fmt.Errorf("verify id token from %s: %w", p.cfg.Name, err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return oauth.Identity{}, fmt.Errorf("decode id token claims: %w", err)
	}

	return oauth.Identity{
		Provider:      p.cfg.Name,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		IssuedAt:      p.now().UTC(),
	}, nil
}

func (p *Provider) discover(ctx context.Context) (*endpoints, error) {
	p.mu.RLock()
	eps := p.eps
	p.mu.RUnlock()
	if eps != nil {
		return eps, nil
	}

	v, err, _ := p.group.Do("discover", func() (interface{}, error) {
		p.mu.RLock()
		cached := p.eps
		p.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		provider, err := gooidc.NewProvider(ctx, p.cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", p.cfg.Name, err)
		}
		eps := &endpoints{
			oauth2: &oauth2.Config{
				ClientID:     p.cfg.ClientID,
				ClientSecret: p.cfg.ClientSecret,
				Endpoint:     provider.Endpoint(),
				RedirectURL:  p.cfg.RedirectURL,
				Scopes:       p.cfg.Scopes,
			},
			verifier: provider.Verifier(&gooidc.Config{ClientID: p.cfg.ClientID}),
		}
		p.mu.Lock()
		p.eps = eps
		p.mu.Unlock()
		return eps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*endpoints), nil
}

// Compile-time interface verification.
var _ oauth.Provider = (*Provider)(nil)
