package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func histogramCount(t *testing.T, reg *prometheus.Registry, method string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "tutorgate_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "method" && lp.GetValue() == method {
					return m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	if got := histogramCount(t, reg, "POST"); got != 1 {
		t.Errorf("expected 1 observation, got %d", got)
	}
}

func TestMetricsMiddleware_RecordsStatusCode(t *testing.T) {
	tests := []struct {
		name   string
		status int
		label  string
	}{
		{"implicit ok", 0, "200"},
		{"unauthorized", http.StatusUnauthorized, "401"},
		{"rate limited", http.StatusTooManyRequests, "429"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)

			handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte("{}"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))

			var m dto.Metric
			if err := metrics.RequestsTotal.WithLabelValues("POST", "api", tt.label).Write(&m); err != nil {
				t.Fatal(err)
			}
			if m.Counter.GetValue() != 1 {
				t.Errorf("requests_total{status=%q} = %f, want 1", tt.label, m.Counter.GetValue())
			}
		})
	}
}

func TestMetricsMiddleware_SkipsOperationalEndpoints(t *testing.T) {
	for _, path := range []string{"/metrics", "/health"} {
		t.Run(path, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)

			handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))

			if got := histogramCount(t, reg, "GET"); got != 0 {
				t.Errorf("expected 0 observations for %s, got %d", path, got)
			}
			if got := testutil.CollectAndCount(metrics.RequestsTotal); got != 0 {
				t.Errorf("requests_total series = %d, want 0", got)
			}
		})
	}
}

func TestSurfaceOf(t *testing.T) {
	tests := map[string]string{
		"/api/chat":                "api",
		"/auth/login":              "auth",
		"/auth/oauth/github/start": "oauth",
		"/health":                  "",
		"/metrics":                 "",
		"/favicon.ico":             "other",
	}
	for path, want := range tests {
		if got := surfaceOf(path); got != want {
			t.Errorf("surfaceOf(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStatusRecorder_WriteBeforeHeaderKeepsOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusTeapot)
	if rec.status != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.status)
	}
}

func TestStatusRecorder_FirstWriteHeaderWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusForbidden)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.status)
	}
}
