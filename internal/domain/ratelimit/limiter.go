package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WindowCounter is a sliding-window log.
//
// Hit must be atomic: the count, the admission decision and the insertion of
// the new entry happen in one step, so two concurrent callers can never both
// take the last slot. Rejected hits are not recorded. Entries expire by TTL.
type WindowCounter interface {
	Hit(ctx context.Context, key string, limit Limit, now time.Time) (WindowResult, error)
}

// CostLedger accumulates spend per key. Add is an atomic increment that also
// sets the expiry of a new key.
type CostLedger interface {
	Total(ctx context.Context, key string) (float64, error)
	Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNowFunc overrides the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter applies Tiers over a WindowCounter and a CostLedger.
type Limiter struct {
	counter WindowCounter
	ledger  CostLedger
	tiers   Tiers
	now     func() time.Time
}

// NewLimiter creates a Limiter.
func NewLimiter(counter WindowCounter, ledger CostLedger, tiers Tiers, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		ledger:  ledger,
		tiers:   tiers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tiers returns the limit table.
func (l *Limiter) Tiers() Tiers {
	return l.tiers
}

// CheckAndIncrement admits or rejects one request of userID in bucket.
//
// For metered buckets the daily ledger is checked first, and an exhausted
// budget rejects without consuming a window slot. Buckets or roles with no
// configured limit are allowed.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID, role, bucket string) error {
	now := l.now()

	if l.tiers.IsMetered(bucket) {
		if capAmount, ok := l.tiers.CostCap(role); ok {
			spent, err := l.ledger.Total(ctx, CostKey(userID, now))
			if err != nil {
				return fmt.Errorf("read cost ledger: %w", err)
			}
			if spent >= capAmount {
				return &LimitError{Code: CodeCostLimitExceeded, RetryAfter: untilMidnight(now)}
			}
		}
	}

	limit, ok := l.tiers.Lookup(bucket, role)
	if !ok {
		return nil
	}
	return l.hit(ctx, WindowKey(bucket, role, userID), limit, now)
}

// Throttle applies the anonymous limit to a client address.
func (l *Limiter) Throttle(ctx context.Context, client string) error {
	if !l.tiers.Anonymous.Enabled() || client == "" {
		return nil
	}
	return l.hit(ctx, AnonymousKey(client), l.tiers.Anonymous, l.now())
}

func (l *Limiter) hit(ctx context.Context, key string, limit Limit, now time.Time) error {
	res, err := l.counter.Hit(ctx, key, limit, now)
	if err != nil {
		return fmt.Errorf("hit window counter: %w", err)
	}
	if !res.Allowed {
		return &LimitError{Code: CodeRateLimitExceeded, RetryAfter: res.RetryAfter}
	}
	return nil
}

// RecordCost adds amount to today's ledger of userID. It is the callback
// the LLM integration invokes after each metered call.
func (l *Limiter) RecordCost(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return errors.New("cost amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	now := l.now()
	// The key carries the date; the TTL only reclaims yesterday's entries.
	ttl := untilMidnight(now) + time.Hour
	if _, err := l.ledger.Add(ctx, CostKey(userID, now), amount, ttl); err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// Usage is a user's spend for the current UTC day.
type Usage struct {
	Spent   float64 `json:"spent"`
	Cap     float64 `json:"cap,omitempty"`
	Capped  bool    `json:"capped"`
	ResetIn int     `json:"reset_in_seconds"`
}

// Usage reports today's spend of userID against the cap of role.
func (l *Limiter) Usage(ctx context.Context, userID, role string) (Usage, error) {
	now := l.now()
	spent, err := l.ledger.Total(ctx, CostKey(userID, now))
	if err != nil {
		return Usage{}, fmt.Errorf("read cost ledger: %w", err)
	}
	u := Usage{Spent: spent, ResetIn: int(untilMidnight(now).Seconds())}
	if c, ok := l.tiers.CostCap(role); ok {
		u.Cap = c
		u.Capped = true
	}
	return u, nil
}
