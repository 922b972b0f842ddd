package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
)

func TestWindowCounter_LimitAndRollover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	w := NewWindowCounter(c)
	limit := ratelimit.Limit{Requests: 10, Window: time.Minute}
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		res, err := w.Hit(ctx, "rl:chat:standard:u1", limit, start.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Hit() error: %v", err)
		}
		if !res.Allowed || res.Count != i+1 {
			t.Fatalf("request %d = %+v", i+1, res)
		}
	}

	res, err := w.Hit(ctx, "rl:chat:standard:u1", limit, start.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Hit() error: %v", err)
	}
	if res.Allowed {
		t.Fatal("11th request allowed")
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", res.RetryAfter)
	}

	res, _ = w.Hit(ctx, "rl:chat:standard:u1", limit, start.Add(60*time.Second))
	if !res.Allowed {
		t.Error("request after the oldest entry left the window rejected")
	}
}

func TestWindowCounter_ConcurrentLastSlot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	w := NewWindowCounter(c)
	limit := ratelimit.Limit{Requests: 5, Window: time.Minute}
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := w.Hit(ctx, "k", limit, now); err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 5 {
		t.Errorf("allowed = %d, want 5", allowed.Load())
	}
}

func TestWindowCounter_StoreDown(t *testing.T) {
	t.Parallel()

	c, mr := newTestClient(t)
	w := NewWindowCounter(c)
	mr.Close()

	_, err := w.Hit(context.Background(), "k", ratelimit.Limit{Requests: 1, Window: time.Second}, time.Now())
	if !errors.Is(err, ratelimit.ErrStoreUnavailable) {
		t.Errorf("Hit() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestCostLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestClient(t)
	l := NewCostLedger(c)

	if total, err := l.Total(ctx, "cost:u1:2026-04-01"); err != nil || total != 0 {
		t.Errorf("Total(empty) = %v, %v", total, err)
	}

	_, _ = l.Add(ctx, "cost:u1:2026-04-01", 0.25, 2*time.Hour)
	total, err := l.Add(ctx, "cost:u1:2026-04-01", 0.5, 2*time.Hour)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if total != 0.75 {
		t.Errorf("Add() total = %v, want 0.75", total)
	}
	if ttl := mr.TTL("cost:u1:2026-04-01"); ttl != 2*time.Hour {
		t.Errorf("TTL = %v, want 2h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if total, _ := l.Total(ctx, "cost:u1:2026-04-01"); total != 0 {
		t.Errorf("Total() after TTL = %v, want 0", total)
	}
}

func TestLimiterOverRedis(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestClient(t)
	now := time.Date(2026, 4, 1, 22, 0, 0, 0, time.UTC)
	tiers := ratelimit.Tiers{
		Buckets: map[string]map[string]ratelimit.Limit{
			"chat": {"standard": {Requests: 10, Window: time.Minute}, "elevated": {Requests: 30, Window: time.Minute}},
		},
		Metered:      map[string]bool{"chat": true},
		DailyCostCap: map[string]float64{"standard": 1, "elevated": 5},
	}
	l := ratelimit.NewLimiter(NewWindowCounter(c), NewCostLedger(c), tiers, ratelimit.WithNowFunc(func() time.Time { return now }))

	for i := 0; i < 10; i++ {
		if err := l.CheckAndIncrement(ctx, "u1", "standard", "chat"); err != nil {
			t.Fatalf("standard request %d: %v", i+1, err)
		}
	}
	err := l.CheckAndIncrement(ctx, "u1", "standard", "chat")
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) || limitErr.Code != ratelimit.CodeRateLimitExceeded {
		t.Fatalf("11th request error = %v, want RateLimitExceeded", err)
	}

	// Elevated user has its own, larger window.
	for i := 0; i < 30; i++ {
		if err := l.CheckAndIncrement(ctx, "u2", "elevated", "chat"); err != nil {
			t.Fatalf("elevated request %d: %v", i+1, err)
		}
	}

	_ = l.RecordCost(ctx, "u2", 5)
	err = l.CheckAndIncrement(ctx, "u2", "elevated", "chat")
	if !errors.As(err, &limitErr) || limitErr.Code != ratelimit.CodeCostLimitExceeded {
		t.Fatalf("capped request error = %v, want CostLimitExceeded", err)
	}
	if limitErr.RetryAfter != 2*time.Hour {
		t.Errorf("RetryAfter = %v, want 2h", limitErr.RetryAfter)
	}
}
