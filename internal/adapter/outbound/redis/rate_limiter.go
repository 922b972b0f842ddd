package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

// slidingWindowScript trims a ZSET log to the window, then admits the hit
// if fewer than limit entries remain. Rejected hits are not recorded.
//
// KEYS[1] log key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member
//
// Returns {allowed, count, retry_after_ms}.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  local retry = window
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, count, retry}
end

redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, 0}
`)

// WindowCounter implements ratelimit.WindowCounter as a Redis sorted-set log.
// The script runs atomically, so concurrent requests cannot oversubscribe.
type WindowCounter struct {
	c *Client
}

// NewWindowCounter creates a sliding-window counter.
func NewWindowCounter(c *Client) *WindowCounter {
	return &WindowCounter{c: c}
}

// Hit records one request at now if the window has room.
func (w *WindowCounter) Hit(ctx context.Context, key string, limit ratelimit.Limit, now time.Time) (ratelimit.WindowResult, error) {
	member, err := logMember(now)
	if err != nil {
		return ratelimit.WindowResult{}, err
	}
	ctx, cancel := w.c.withTimeout(ctx)
	defer cancel()

	res, err := slidingWindowScript.Run(ctx, w.c.rdb, []string{key},
		now.UnixMilli(), limit.Window.Milliseconds(), limit.Requests, member).Int64Slice()
	if err != nil {
		return ratelimit.WindowResult{}, unavailable(ratelimit.ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return ratelimit.WindowResult{}, fmt.Errorf("sliding window script returned %d values", len(res))
	}
	return ratelimit.WindowResult{
		Allowed:    res[0] == 1,
		Count:      int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// logMember is unique per hit so two requests in the same millisecond
// are both counted.
func logMember(now time.Time) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate window member: %w", err)
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b)), nil
}

// CostLedger implements ratelimit.CostLedger with INCRBYFLOAT.
type CostLedger struct {
	c *Client
}

// NewCostLedger creates a cost ledger.
func NewCostLedger(c *Client) *CostLedger {
	return &CostLedger{c: c}
}

// Total returns the accumulated amount under key, zero if absent.
func (l *CostLedger) Total(ctx context.Context, key string) (float64, error) {
	ctx, cancel := l.c.withTimeout(ctx)
	defer cancel()

	v, err := l.c.rdb.Get(ctx, key).Float64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(ratelimit.ErrStoreUnavailable, err)
	}
	return v, nil
}

// Add increments key by amount and refreshes its TTL. Callers derive ttl
// from the key's date, so every call lands on the same absolute expiry.
func (l *CostLedger) Add(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	ctx, cancel := l.c.withTimeout(ctx)
	defer cancel()

	var incr *goredis.FloatCmd
	_, err := l.c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.IncrByFloat(ctx, key, amount)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable(ratelimit.ErrStoreUnavailable, err)
	}
	return incr.Val(), nil
}

// Compile-time interface verification.
var (
	_ ratelimit.WindowCounter = (*WindowCounter)(nil)
	_ ratelimit.CostLedger    = (*CostLedger)(nil)
)
