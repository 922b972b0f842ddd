package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/oauth"
)

func TestCodeStore_ExchangeOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	ex := oauth.NewExchange(NewCodeStore(c), oauth.DefaultCodeTTL)

	code, err := ex.IssueCode(ctx, oauth.Identity{Provider: "github", Subject: "42", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("IssueCode() error: %v", err)
	}

	id, err := ex.Redeem(ctx, code, "github")
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if id.Email != "a@example.com" {
		t.Errorf("Email = %q", id.Email)
	}
	if _, err := ex.Redeem(ctx, code, "github"); !errors.Is(err, oauth.ErrInvalidOrExpiredCode) {
		t.Errorf("second Redeem() error = %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestCodeStore_ConcurrentRedeem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	ex := oauth.NewExchange(NewCodeStore(c), oauth.DefaultCodeTTL)
	code, _ := ex.IssueCode(ctx, oauth.Identity{Provider: "google", Subject: "7"})

	const n = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ex.Redeem(ctx, code, "google"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful redemptions = %d, want 1", wins.Load())
	}
}

func TestCodeStore_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	ex := oauth.NewExchange(NewCodeStore(c), 60*time.Second)
	code, _ := ex.IssueCode(ctx, oauth.Identity{Provider: "github", Subject: "42"})

	if ttl := mr.TTL(oauth.CodeKeyPrefix + ":" + code); ttl != 60*time.Second {
		t.Errorf("code TTL = %v, want 60s", ttl)
	}

	mr.FastForward(61 * time.Second)
	if _, err := ex.Redeem(ctx, code, "github"); !errors.Is(err, oauth.ErrInvalidOrExpiredCode) {
		t.Errorf("Redeem() after TTL error = %v, want ErrInvalidOrExpiredCode", err)
	}
}

func TestStateStore_PopOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	store := NewStateStore(c)
	_ = store.Put(ctx, "st", oauth.Pending{Provider: "github", Verifier: "ver"}, time.Minute)

	p, err := store.Pop(ctx, "st")
	if err != nil || p.Verifier != "ver" || p.Provider != "github" {
		t.Fatalf("Pop() = %+v, %v", p, err)
	}
	if _, err := store.Pop(ctx, "st"); !errors.Is(err, oauth.ErrNotFound) {
		t.Errorf("second Pop() error = %v, want ErrNotFound", err)
	}
}

func TestCodeStore_StoreDown(t *testing.T) {
	t.Parallel()

	c, mr := newTestClient(t)
	store := NewCodeStore(c)
	mr.Close()

	if _, err := store.Pop(context.Background(), "x"); !errors.Is(err, oauth.ErrStoreUnavailable) {
		t.Errorf("Pop() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestCSRFStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewCSRFStore(c)

	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, csrf.ErrNoBinding) {
		t.Errorf("Lookup(unbound) error = %v, want ErrNoBinding", err)
	}

	_ = store.Bind(ctx, "sid", "tok", time.Hour)
	if got, _ := mr.Get("csrf:sid"); got != "tok" {
		t.Errorf("stored binding = %q, want tok", got)
	}
	if tok, err := store.Lookup(ctx, "sid"); err != nil || tok != "tok" {
		t.Errorf("Lookup() = %q, %v", tok, err)
	}

	_ = store.Delete(ctx, "sid")
	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, csrf.ErrNoBinding) {
		t.Errorf("Lookup(after delete) error = %v", err)
	}

	mr.Close()
	if _, err := store.Lookup(ctx, "sid"); !errors.Is(err, csrf.ErrStoreUnavailable) {
		t.Errorf("Lookup(store down) error = %v, want ErrStoreUnavailable", err)
	}
}
