package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	healthCheckTimeout = 2 * time.Second
	// auditDegradedPercent is the audit queue fill level that marks the
	// service unhealthy.
	auditDegradedPercent = 90
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"` // healthy or unhealthy
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// AuditQueue is the view of the audit pipeline the health check reads.
type AuditQueue interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedEvents() int64
}

type dependency struct {
	name string
	p    Pinger
}

// HealthChecker pings the gateway's backing stores and reports audit
// backpressure.
type HealthChecker struct {
	deps    []dependency
	audit   AuditQueue
	version string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version}
}

// AddCheck registers a dependency. A failed ping makes the service unhealthy.
func (h *HealthChecker) AddCheck(name string, p Pinger) *HealthChecker {
	h.deps = append(h.deps, dependency{name: name, p: p})
	return h
}

func (h *HealthChecker) WithAuditQueue(q AuditQueue) *HealthChecker {
	h.audit = q
	return h
}

// Check pings every dependency concurrently, each under its own timeout.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	failures := make([]error, len(h.deps))
	var g errgroup.Group
	for i, d := range h.deps {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			failures[i] = d.p.Ping(pingCtx)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(h.deps)+3), Version: h.version}
	for i, d := range h.deps {
		if err := failures[i]; err != nil {
			// Error text can carry addresses and stays in the log.
			LoggerFromContext(ctx).Error("health check failed", "component", d.name, "error", err)
			resp.Checks[d.name] = "unreachable"
			resp.Status = "unhealthy"
			continue
		}
		resp.Checks[d.name] = "ok"
	}

	if h.audit != nil && !h.auditCheck(resp.Checks) {
		resp.Status = "unhealthy"
	}
	resp.Checks["goroutines"] = strconv.Itoa(runtime.NumGoroutine())
	return resp
}

// auditCheck fills the audit entries and reports whether the queue is
// below the degraded threshold.
func (h *HealthChecker) auditCheck(checks map[string]string) bool {
	depth, capacity := h.audit.ChannelDepth(), h.audit.ChannelCapacity()
	pct := 0
	if capacity > 0 {
		pct = depth * 100 / capacity
	}
	ok := pct <= auditDegradedPercent
	state := "ok"
	if !ok {
		state = "degraded"
	}
	checks["audit"] = fmt.Sprintf("%s: %d/%d (%d%%)", state, depth, capacity, pct)
	if n := h.audit.DroppedEvents(); n > 0 {
		checks["audit_drops"] = fmt.Sprintf("%d dropped", n)
	}
	return ok
}

// Handler serves the health report, answering 503 when unhealthy.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())
		code := http.StatusOK
		if report.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}
