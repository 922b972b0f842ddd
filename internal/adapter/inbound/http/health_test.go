package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codetutor/tutorgate/internal/adapter/outbound/memory"
	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/service"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthChecker_Healthy(t *testing.T) {
	auditService := service.NewAuditService(memory.NewAuditLog(0), discardLogger(),
		service.WithChannelSize(100),
	)

	hc := NewHealthChecker("test-version").
		AddCheck("session_store", memory.NewSessionStore()).
		AddCheck("user_db", memory.NewUserRepository()).
		WithAuditQueue(auditService)

	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	for _, name := range []string{"session_store", "user_db"} {
		if health.Checks[name] != "ok" {
			t.Errorf("%s check = %q, want ok", name, health.Checks[name])
		}
	}
	if health.Checks["audit"] != "ok: 0/100 (0%)" {
		t.Errorf("audit check = %q", health.Checks["audit"])
	}
}

func TestHealthChecker_FailedPing(t *testing.T) {
	hc := NewHealthChecker("").
		AddCheck("kv_store", PingFunc(func(context.Context) error {
			return errors.New("dial tcp 10.0.0.5:6379: connection refused")
		})).
		AddCheck("user_db", memory.NewUserRepository())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Response status = %q, want unhealthy", resp.Status)
	}
	if resp.Checks["kv_store"] != "unreachable" {
		t.Errorf("kv_store = %q, want unreachable without error detail", resp.Checks["kv_store"])
	}
	if resp.Checks["user_db"] != "ok" {
		t.Errorf("user_db = %q, want ok", resp.Checks["user_db"])
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	hc := NewHealthChecker("1.0.0").AddCheck("session_store", memory.NewSessionStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if contentType := rec.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.0.0" {
		t.Errorf("Response = %+v", resp)
	}
}

func TestHealthChecker_Unhealthy_AuditFull(t *testing.T) {
	// No worker is started, so recorded events stay queued.
	auditService := service.NewAuditService(memory.NewAuditLog(0), discardLogger(),
		service.WithChannelSize(10),
		service.WithSendTimeout(0),
	)
	for i := 0; i < 11; i++ {
		auditService.Record(audit.Event{Type: audit.EventLogin})
	}

	hc := NewHealthChecker("").WithAuditQueue(auditService)
	health := hc.Check(context.Background())

	if health.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy (audit channel >90%% full)", health.Status)
	}
	if health.Checks["audit_drops"] != "1 dropped" {
		t.Errorf("audit_drops = %q, want 1 dropped", health.Checks["audit_drops"])
	}
}

func TestHealthChecker_GoroutineCount(t *testing.T) {
	health := NewHealthChecker("").Check(context.Background())

	if health.Checks["goroutines"] == "" || health.Checks["goroutines"] == "0" {
		t.Errorf("goroutines check = %q, want a positive count", health.Checks["goroutines"])
	}
}
