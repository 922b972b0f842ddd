package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codetutor/tutorgate/internal/domain/audit"
	"github.com/codetutor/tutorgate/internal/domain/credential"
	"github.com/codetutor/tutorgate/internal/domain/csrf"
	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
	"github.com/codetutor/tutorgate/internal/domain/user"
	"github.com/codetutor/tutorgate/internal/service"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Issuer   *credential.Issuer
	CSRF     *csrf.Guard
	Limiter  *ratelimit.Limiter
	Users    user.Lookup
	Policy   PolicyChecker // optional
	Accounts *service.AccountService
	OAuth    *service.OAuthService
	Tutor    service.Tutor
	Recorder audit.Recorder // optional
	Health   *HealthChecker // optional
}

// Server is the inbound HTTP adapter.
type Server struct {
	server            *http.Server
	handler           http.Handler
	addr              string
	certFile          string
	keyFile           string
	trustProxyHeaders bool
	shutdownTimeout   time.Duration
	registry          *prometheus.Registry
	metrics           *Metrics
	logger            *slog.Logger
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTrustProxyHeaders makes RealIPMiddleware honour X-Forwarded-For and
// X-Real-IP. Enable only behind a proxy that overwrites them.
func WithTrustProxyHeaders(trust bool) Option {
	return func(s *Server) {
		s.trustProxyHeaders = trust
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithRegistry sets the Prometheus registry. Default is a fresh registry
// with Go and process collectors.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// NewServer builds the route table and middleware chain.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		addr:            "127.0.0.1:8080",
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Discard
	}
	s.metrics = NewMetrics(s.registry)

	pipeline := NewPipeline(deps.Issuer, deps.Users, deps.Policy, deps.CSRF, deps.Limiter, s.metrics, deps.Recorder)
	h := &Handler{
		pipeline: pipeline,
		issuer:   deps.Issuer,
		guard:    deps.CSRF,
		limiter:  deps.Limiter,
		users:    deps.Users,
		accounts: deps.Accounts,
		oauth:    deps.OAuth,
		tutor:    deps.Tutor,
		metrics:  s.metrics,
		recorder: deps.Recorder,
	}

	mux := http.NewServeMux()
	h.routes(mux)
	if deps.Health != nil {
		mux.Handle("GET /health", deps.Health.Handler())
	} else {
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, r, http.StatusOK, HealthResponse{Status: "healthy"})
		})
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. RealIP - Resolve client address for the anonymous limit and audit
	var handler http.Handler = mux
	handler = RealIPMiddleware(s.trustProxyHeaders)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	s.handler = handler

	return s
}

// Handler returns the complete middleware chain and route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
