// Package ratelimit provides tiered per-user request limits and the daily
// cost ledger for metered LLM calls.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Code tells the client which limit it hit. The remediation differs:
// wait for the window, or come back tomorrow.
type Code string

const (
	// CodeRateLimitExceeded means too many requests in the sliding window.
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	// CodeCostLimitExceeded means the daily cost budget is exhausted.
	CodeCostLimitExceeded Code = "COST_LIMIT_EXCEEDED"
)

// LimitError is returned when a request must be rejected.
type LimitError struct {
	Code Code
	// RetryAfter is how long until the request could succeed.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s, retry after %v", e.Code, e.RetryAfter)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *LimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ErrStoreUnavailable wraps counter or ledger failures.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Limit is a sliding-window request allowance.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the limit constrains anything.
func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// WindowResult is the outcome of one WindowCounter.Hit.
type WindowResult struct {
	Allowed bool
	// Count is the number of admitted requests in the window, including this one if allowed.
	Count int
	// RetryAfter is set when Allowed is false: time until the oldest entry leaves the window.
	RetryAfter time.Duration
}

// Tiers is the limit table. Bucket granularity is whatever the table names.
type Tiers struct {
	// Buckets maps bucket -> role -> limit.
	Buckets map[string]map[string]Limit
	// Metered lists buckets whose calls consume the daily cost budget.
	Metered map[string]bool
	// DailyCostCap maps role -> maximum daily spend. A role without an entry is uncapped.
	DailyCostCap map[string]float64
	// Anonymous limits unauthenticated entry points per client address.
	Anonymous Limit
}

// Lookup returns the limit of role in bucket.
func (t Tiers) Lookup(bucket, role string) (Limit, bool) {
	roles, ok := t.Buckets[bucket]
	if !ok {
		return Limit{}, false
	}
	l, ok := roles[role]
	return l, ok && l.Enabled()
}

// IsMetered reports whether bucket is metered.
func (t Tiers) IsMetered(bucket string) bool {
	return t.Metered[bucket]
}

// CostCap returns the daily cap of role.
func (t Tiers) CostCap(role string) (float64, bool) {
	c, ok := t.DailyCostCap[role]
	return c, ok
}

// Keyspaces owned by the limiter.
const (
	windowKeyPrefix = "rl"
	costKeyPrefix   = "cost"
)

// WindowKey returns the counter key for a user in a bucket.
// Format: "rl:{bucket}:{role}:{user}"
func WindowKey(bucket, role, userID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", windowKeyPrefix, bucket, role, userID)
}

// AnonymousKey returns the counter key for an unauthenticated client.
// Format: "rl:anon:{client}"
func AnonymousKey(client string) string {
	return fmt.Sprintf("%s:anon:%s", windowKeyPrefix, client)
}

// CostKey returns the ledger key of a user for the UTC calendar day of t.
// Format: "cost:{user}:{YYYY-MM-DD}"
func CostKey(userID string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", costKeyPrefix, userID, t.UTC().Format("2006-01-02"))
}

// untilMidnight returns the time remaining until the next UTC day starts.
func untilMidnight(t time.Time) time.Duration {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(t)
}
