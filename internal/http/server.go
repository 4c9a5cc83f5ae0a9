// Package http serves the daemon's operations surface: liveness, readiness,
// sync state, manual refresh and read-only insights.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"finsync/internal/core"
	"finsync/internal/insights"
	"finsync/internal/log"
	"finsync/internal/repository"
	"finsync/internal/services"
)

// Finance is the read side of the finance service.
type Finance interface {
	NetworkStates() map[string]repository.NetworkState
	Insights(ctx context.Context, monthKey string) ([]insights.Insight, error)
	Progress(ctx context.Context, monthKey string) ([]core.BudgetProgress, error)
}

// Syncer is the periodic refresh loop.
type Syncer interface {
	Trigger()
	IsRunning() bool
	Stats() services.SyncStats
}

// Pinger checks the local store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	finance Finance
	syncer  Syncer
	store   Pinger
	logger  *log.Logger

	rateLimiter *rateLimiter
	security    *securityMetrics
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, finance Finance, syncer Syncer, store Pinger, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
		},
		finance:     finance,
		syncer:      syncer,
		store:       store,
		logger:      logger,
		rateLimiter: newRateLimiter(),
		security:    &securityMetrics{},
		started:     time.Now(),
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/state", s.withSecurityHeaders(s.handleState))
	mux.HandleFunc("/refresh", s.withSecurityHeaders(s.handleRefresh))
	mux.HandleFunc("/insights", s.withSecurityHeaders(s.handleInsights))
	mux.HandleFunc("/progress", s.withSecurityHeaders(s.handleProgress))

	s.Handler = log.Middleware(logger)(mux)
	return s
}

// Shutdown stops the rate limiter cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, a request id and rate limiting
// of POST requests.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		if detectSuspiciousRequest(r, s.security) {
			s.logger.WarnContext(r.Context(), "Suspicious request",
				"request_id", requestID,
				"client_ip", clientIP,
				"method", r.Method,
				"url", r.URL.Path)
		}

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP, s.security) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded", "client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
