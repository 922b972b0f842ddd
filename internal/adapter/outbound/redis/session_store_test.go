package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/session"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewSessionStore(c, 0)

	if err := store.Register(ctx, "user-1", "jti-1", time.Minute); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !mr.Exists("sess:{user-1}:jti-1") {
		t.Error("session key not written under sess:{<user>}:<jti>")
	}
	if ok, _ := mr.SIsMember("sessidx:{user-1}", "jti-1"); !ok {
		t.Error("jti not indexed")
	}

	active, err := store.IsActive(ctx, "user-1", "jti-1")
	if err != nil || !active {
		t.Fatalf("IsActive() = %v, %v", active, err)
	}

	mr.FastForward(time.Minute)
	if active, _ := store.IsActive(ctx, "user-1", "jti-1"); active {
		t.Error("session survived its TTL")
	}
}

func TestSessionStore_RegisterValidates(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	store := NewSessionStore(c, 0)
	if err := store.Register(context.Background(), "", "jti", time.Minute); !errors.Is(err, session.ErrInvalidArgument) {
		t.Errorf("Register() error = %v, want ErrInvalidArgument", err)
	}
}

func TestSessionStore_Revoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewSessionStore(c, 0)
	_ = store.Register(ctx, "user-1", "jti-1", time.Hour)

	if err := store.Revoke(ctx, "user-1", "jti-1"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if active, _ := store.IsActive(ctx, "user-1", "jti-1"); active {
		t.Error("revoked jti still active")
	}
	if ok, _ := mr.SIsMember("sessidx:{user-1}", "jti-1"); ok {
		t.Error("revoked jti still indexed")
	}
}

func TestSessionStore_RevokeAllIsolatesUsers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewSessionStore(c, 0)

	for i := 0; i < 3; i++ {
		_ = store.Register(ctx, "user-1", fmt.Sprintf("a-%d", i), time.Hour)
		_ = store.Register(ctx, "user-2", fmt.Sprintf("b-%d", i), time.Hour)
	}
	// An expired entry stays in the index but is not counted.
	_ = store.Register(ctx, "user-1", "stale", time.Second)
	mr.FastForward(2 * time.Second)

	n, err := store.RevokeAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}
	if n != 3 {
		t.Errorf("RevokeAll() = %d, want 3", n)
	}
	if mr.Exists("sessidx:{user-1}") {
		t.Error("index of revoked user not removed")
	}

	for i := 0; i < 3; i++ {
		if active, _ := store.IsActive(ctx, "user-2", fmt.Sprintf("b-%d", i)); !active {
			t.Errorf("user-2 jti b-%d revoked", i)
		}
	}
}

func TestSessionStore_StoreDownFailsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	store := NewSessionStore(c, 0)
	_ = store.Register(ctx, "user-1", "jti-1", time.Hour)

	mr.Close()

	active, err := store.IsActive(ctx, "user-1", "jti-1")
	if active {
		t.Error("IsActive() = true with store down")
	}
	if !errors.Is(err, session.ErrStoreUnavailable) {
		t.Errorf("IsActive() error = %v, want ErrStoreUnavailable", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, session.ErrStoreUnavailable) {
		t.Errorf("Ping() error = %v, want ErrStoreUnavailable", err)
	}
}
