package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakeIssuer is a minimal OIDC issuer: discovery, JWKS and a token endpoint
// that accepts a single code with a single PKCE verifier.
type fakeIssuer struct {
	srv         *httptest.Server
	key         *rsa.PrivateKey
	clientID    string
	code        string
	verifier    string
	discoveries atomic.Int32
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	f := &fakeIssuer{key: key, clientID: "tutor-client", code: "good-code", verifier: "the-verifier"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		f.discoveries.Add(1)
		writeJSON(w, map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/authorize",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != f.code || r.PostForm.Get("code_verifier") != f.verifier {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "provider-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     f.idToken(t),
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIssuer) idToken(t *testing.T) string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            f.srv.URL,
		"sub":            "provider-user-42",
		"aud":            f.clientID,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada",
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(f.key)
	if err != nil {
		t.Errorf("sign id token: %v", err)
	}
	return signed
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeIssuer) provider() *Provider {
	return New(Config{
		Name:         "acme",
		IssuerURL:    f.srv.URL,
		ClientID:     f.clientID,
		ClientSecret: "s3cret",
		RedirectURL:  "https://tutor.example.com/auth/oauth/acme/callback",
	})
}

func TestProvider_AuthCodeURL(t *testing.T) {
	t.Parallel()

	f := newFakeIssuer(t)
	p := f.provider()

	raw, err := p.AuthCodeURL(context.Background(), "state-1", f.verifier)
	if err != nil {
		t.Fatalf("AuthCodeURL() error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge: %s", u.RawQuery)
	}
	if q.Get("code_challenge") == f.verifier {
		t.Error("verifier sent in clear")
	}
	if q.Get("client_id") != f.clientID {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
}

func TestProvider_Identify(t *testing.T) {
	t.Parallel()

	f := newFakeIssuer(t)
	p := f.provider()

	id, err := p.Identify(context.Background(), f.code, f.verifier)
	if err != nil {
		t.Fatalf("Identify() error: %v", err)
	}
	if id.Provider != "acme" || id.Subject != "provider-user-42" {
		t.Errorf("identity = %+v", id)
	}
	if id.Email != "ada@example.com" || !id.EmailVerified || id.Name != "Ada" {
		t.Errorf("identity claims = %+v", id)
	}
}

func TestProvider_IdentifyRejectsWrongVerifier(t *testing.T) {
	t.Parallel()

	f := newFakeIssuer(t)
	if _, err := f.provider().Identify(context.Background(), f.code, "other-verifier"); err == nil {
		t.Error("Identify() accepted a mismatched PKCE verifier")
	}
}

func TestProvider_DiscoversOnce(t *testing.T) {
	t.Parallel()

	f := newFakeIssuer(t)
	p := f.provider()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.AuthCodeURL(context.Background(), "s", "v")
		}()
	}
	wg.Wait()
	_, _ = p.AuthCodeURL(context.Background(), "s", "v")

	if n := f.discoveries.Load(); n != 1 {
		t.Errorf("discoveries = %d, want 1", n)
	}
}

func TestProvider_DiscoveryFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := New(Config{Name: "down", IssuerURL: srv.URL, ClientID: "x"})
	if _, err := p.AuthCodeURL(context.Background(), "s", "v"); err == nil {
		t.Error("AuthCodeURL() succeeded without discovery")
	}
}
