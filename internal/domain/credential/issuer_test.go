package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/memory"
	"github.com/codetutor/tutorgate/internal/domain/session"
	"github.com/codetutor/tutorgate/internal/domain/token"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

type fixture struct {
	clock    *testClock
	codec    *token.Codec
	sessions *memory.MemorySessionStore
	issuer   *Issuer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "tutorgate", "tutorgate-api", token.WithNowFunc(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error: %v", err)
	}
	sessions := memory.NewSessionStore(memory.WithNowFunc(clock.Now))
	return &fixture{
		clock:    clock,
		codec:    codec,
		sessions: sessions,
		issuer:   NewIssuer(codec, sessions, cfg, WithNowFunc(clock.Now)),
	}
}

// requestWith builds a request carrying the cookies set on rec.
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(c)
		}
	}
	return r
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestIssuer_LoginSetsCookies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour, Secure: true})
	rec := httptest.NewRecorder()

	p, err := f.issuer.Login(context.Background(), rec, "user-1", "standard")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if p.SessionID == "" || p.AccessJTI == "" || p.SessionID == p.AccessJTI {
		t.Errorf("Login() principal ids = %q/%q", p.SessionID, p.AccessJTI)
	}

	tests := []struct {
		name   string
		maxAge int
	}{
		{AccessCookie, 3600},
		{RefreshCookie, 48 * 3600},
	}
	for _, tt := range tests {
		c := findCookie(rec, tt.name)
		if c == nil {
			t.Fatalf("cookie %s not set", tt.name)
		}
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
			t.Errorf("cookie %s flags = httpOnly:%v secure:%v samesite:%v path:%q", tt.name, c.HttpOnly, c.Secure, c.SameSite, c.Path)
		}
		if c.MaxAge != tt.maxAge {
			t.Errorf("cookie %s MaxAge = %d, want %d", tt.name, c.MaxAge, tt.maxAge)
		}
	}

	for _, jti := range []string{p.SessionID, p.AccessJTI} {
		if active, _ := f.sessions.IsActive(context.Background(), "user-1", jti); !active {
			t.Errorf("jti %s not registered", jti)
		}
	}
}

func TestIssuer_Authenticate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	rec := httptest.NewRecorder()
	login, _ := f.issuer.Login(context.Background(), rec, "user-1", "elevated")

	p, err := f.issuer.Authenticate(context.Background(), requestWith(rec))
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if p.UserID != "user-1" || p.Role != "elevated" || p.SessionID != login.SessionID {
		t.Errorf("Authenticate() = %+v", p)
	}
}

func TestIssuer_AuthenticateFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()

	t.Run("no cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := f.issuer.Authenticate(ctx, r); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("empty cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: ""})
		if _, err := f.issuer.Authenticate(ctx, r); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("garbage cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "not.a.jwt"})
		_, err := f.issuer.Authenticate(ctx, r)
		if !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrReauthenticate) {
			t.Errorf("error = %v, want plain ErrUnauthorized", err)
		}
	})

	t.Run("refresh token as access", func(t *testing.T) {
		rec := httptest.NewRecorder()
		_, _ = f.issuer.Login(ctx, rec, "user-2", "standard")
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: findCookie(rec, RefreshCookie).Value})
		if _, err := f.issuer.Authenticate(ctx, r); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})
}

func TestIssuer_AuthenticateExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	rec := httptest.NewRecorder()
	_, _ = f.issuer.Login(context.Background(), rec, "user-1", "standard")

	f.clock.t = f.clock.t.Add(time.Hour + time.Second)
	_, err := f.issuer.Authenticate(context.Background(), requestWith(rec))
	if !errors.Is(err, ErrReauthenticate) {
		t.Errorf("error = %v, want ErrReauthenticate", err)
	}
}

func TestIssuer_LogoutRevokesBoth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	rec := httptest.NewRecorder()
	p, _ := f.issuer.Login(ctx, rec, "user-1", "standard")
	req := requestWith(rec)

	out := httptest.NewRecorder()
	if err := f.issuer.Logout(ctx, out, p); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	for _, name := range []string{AccessCookie, RefreshCookie} {
		if c := findCookie(out, name); c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s not cleared", name)
		}
	}

	// The same cookies replayed after logout are rejected.
	if _, err := f.issuer.Authenticate(ctx, req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate() after logout error = %v", err)
	}
	if _, err := f.issuer.Refresh(ctx, httptest.NewRecorder(), req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Refresh() after logout error = %v", err)
	}
}

func TestIssuer_LogoutEndsAccessTokensFromBeforeRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	rec := httptest.NewRecorder()
	if _, err := f.issuer.Login(ctx, rec, "user-1", "standard"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	original := requestWith(rec)

	f.clock.t = f.clock.t.Add(10 * time.Minute)
	refreshed, err := f.issuer.Refresh(ctx, httptest.NewRecorder(), original)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if _, err := f.issuer.Authenticate(ctx, original); err != nil {
		t.Fatalf("Authenticate() with original token before logout error: %v", err)
	}

	if err := f.issuer.Logout(ctx, httptest.NewRecorder(), refreshed); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, err := f.issuer.Authenticate(ctx, original); !errors.Is(err, ErrRevoked) {
		t.Errorf("Authenticate() with pre-refresh token after logout error = %v, want ErrRevoked", err)
	}
}

func TestIssuer_AuthenticateRequiresActiveSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	rec := httptest.NewRecorder()
	p, _ := f.issuer.Login(ctx, rec, "user-1", "standard")

	if err := f.sessions.Revoke(ctx, "user-1", p.SessionID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if active, _ := f.sessions.IsActive(ctx, "user-1", p.AccessJTI); !active {
		t.Fatal("access jti should still be registered")
	}
	if _, err := f.issuer.Authenticate(ctx, requestWith(rec)); !errors.Is(err, ErrRevoked) {
		t.Errorf("Authenticate() with revoked session error = %v, want ErrRevoked", err)
	}
}

func TestIssuer_RefreshIssuesNewAccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	rec := httptest.NewRecorder()
	login, _ := f.issuer.Login(ctx, rec, "user-1", "standard")

	f.clock.t = f.clock.t.Add(2 * time.Hour)
	out := httptest.NewRecorder()
	p, err := f.issuer.Refresh(ctx, out, requestWith(rec))
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if p.SessionID != login.SessionID {
		t.Errorf("SessionID changed on refresh: %q -> %q", login.SessionID, p.SessionID)
	}
	if p.AccessJTI == login.AccessJTI {
		t.Error("refreshed access token reused jti")
	}
	if findCookie(out, RefreshCookie) != nil {
		t.Error("refresh cookie rewritten; refresh tokens are not rotated")
	}

	authed, err := f.issuer.Authenticate(ctx, requestWith(out))
	if err != nil {
		t.Fatalf("Authenticate() with refreshed token error: %v", err)
	}
	if authed.AccessJTI != p.AccessJTI {
		t.Errorf("AccessJTI = %q, want %q", authed.AccessJTI, p.AccessJTI)
	}
}

func TestIssuer_RefreshClampsToRefreshExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: 24 * time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	rec := httptest.NewRecorder()
	_, _ = f.issuer.Login(ctx, rec, "user-1", "standard")

	f.clock.t = f.clock.t.Add(40 * time.Hour)
	out := httptest.NewRecorder()
	p, err := f.issuer.Refresh(ctx, out, requestWith(rec))
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	want := f.clock.t.Add(8 * time.Hour)
	if !p.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", p.ExpiresAt, want)
	}
	if c := findCookie(out, AccessCookie); c == nil || c.MaxAge != 8*3600 {
		t.Errorf("access cookie MaxAge = %v, want %d", c, 8*3600)
	}

	f.clock.t = f.clock.t.Add(9 * time.Hour)
	if _, err := f.issuer.Refresh(ctx, httptest.NewRecorder(), requestWith(rec)); !errors.Is(err, ErrReauthenticate) {
		t.Errorf("Refresh() past refresh expiry error = %v, want ErrReauthenticate", err)
	}
}

func TestIssuer_RevokeAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()

	first, second, other := httptest.NewRecorder(), httptest.NewRecorder(), httptest.NewRecorder()
	_, _ = f.issuer.Login(ctx, first, "user-1", "standard")
	_, _ = f.issuer.Login(ctx, second, "user-1", "standard")
	_, _ = f.issuer.Login(ctx, other, "user-2", "standard")

	n, err := f.issuer.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}
	if n != 4 {
		t.Errorf("RevokeAll() = %d, want 4", n)
	}

	for _, rec := range []*httptest.ResponseRecorder{first, second} {
		if _, err := f.issuer.Authenticate(ctx, requestWith(rec)); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Authenticate() after RevokeAll error = %v", err)
		}
	}
	if _, err := f.issuer.Authenticate(ctx, requestWith(other)); err != nil {
		t.Errorf("other user's session affected: %v", err)
	}
}

type failingStore struct {
	session.Store
}

func (failingStore) IsActive(context.Context, string, string) (bool, error) {
	return false, session.ErrStoreUnavailable
}

func TestIssuer_AuthenticateFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	rec := httptest.NewRecorder()
	_, _ = f.issuer.Login(context.Background(), rec, "user-1", "standard")

	broken := NewIssuer(f.codec, failingStore{Store: f.sessions}, f.issuer.Config(), WithNowFunc(f.clock.Now))
	_, err := broken.Authenticate(context.Background(), requestWith(rec))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if !errors.Is(err, session.ErrStoreUnavailable) {
		t.Errorf("error = %v, want cause ErrStoreUnavailable", err)
	}
}

func TestIssuer_SessionDoesNotMint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	ctx := context.Background()
	login := httptest.NewRecorder()
	p, err := f.issuer.Login(ctx, login, "user-1", "elevated")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	got, err := f.issuer.Session(ctx, requestWith(login))
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if got.SessionID != p.SessionID || got.UserID != "user-1" || got.Role != "elevated" {
		t.Errorf("Session() = %+v, want session %q", got, p.SessionID)
	}
	if got.AccessJTI != "" {
		t.Errorf("Session() AccessJTI = %q, want empty", got.AccessJTI)
	}

	if _, err := f.issuer.RevokeAll(ctx, "user-1"); err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}
	if _, err := f.issuer.Session(ctx, requestWith(login)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Session() after revoke error = %v, want ErrUnauthorized", err)
	}
}
