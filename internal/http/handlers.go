package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"finsync/internal/insights"
)

var errBadMonth = errors.New("month must be formatted as YYYY-MM")

type stateResponse struct {
	Network map[string]networkJSON `json:"network"`
	Sync    syncJSON               `json:"sync"`
}

type networkJSON struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

type syncJSON struct {
	Running   bool       `json:"running"`
	Runs      int64      `json:"runs"`
	Failures  int64      `json:"failures"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type insightJSON struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

type progressJSON struct {
	Category   string  `json:"category"`
	LimitCents int64   `json:"limit_cents"`
	SpentCents int64   `json:"spent_cents"`
	Ratio      float64 `json:"ratio"`
	Limit      string  `json:"limit"`
	Spent      string  `json:"spent"`
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleReady checks the local store and reports each repository's last
// remote exchange. Remote errors do not make the daemon unready: local work
// continues and rows stay pending.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.store == nil {
		checks["database"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else if err := s.store.Ping(ctx); err != nil {
		checks["database"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if s.finance != nil {
		for kind, st := range s.finance.NetworkStates() {
			checks["remote_"+kind] = st.Kind.String()
		}
	}
	if s.syncer != nil {
		if s.syncer.IsRunning() {
			checks["sync_loop"] = "running"
		} else {
			checks["sync_loop"] = "stopped"
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := stateResponse{Network: map[string]networkJSON{}}
	if s.finance != nil {
		for kind, st := range s.finance.NetworkStates() {
			resp.Network[kind] = networkJSON{State: st.Kind.String(), Message: st.Message}
		}
	}
	if s.syncer != nil {
		stats := s.syncer.Stats()
		resp.Sync = syncJSON{
			Running:   s.syncer.IsRunning(),
			Runs:      stats.Runs,
			Failures:  stats.Failures,
			LastError: stats.LastError,
		}
		if !stats.LastRun.IsZero() {
			last := stats.LastRun
			resp.Sync.LastRun = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh queues an immediate refresh and returns without waiting
// for it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.syncer == nil || !s.syncer.IsRunning() {
		writeError(w, http.StatusServiceUnavailable, "sync loop is not running")
		return
	}
	s.syncer.Trigger()
	s.logger.InfoContext(r.Context(), "Refresh requested", "client_ip", extractClientIP(r))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	month, ok := s.readMonth(w, r)
	if !ok {
		return
	}
	list, err := s.finance.Insights(r.Context(), month)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Insights failed", "month", month, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load insights")
		return
	}

	out := make([]insightJSON, 0, len(list))
	for _, in := range list {
		out = append(out, insightJSON{ID: in.ID, Title: in.Title, Message: in.Message, Category: string(in.Category)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	month, ok := s.readMonth(w, r)
	if !ok {
		return
	}
	list, err := s.finance.Progress(r.Context(), month)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Budget progress failed", "month", month, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load budget progress")
		return
	}

	out := make([]progressJSON, 0, len(list))
	for _, p := range list {
		out = append(out, progressJSON{
			Category:   p.Category,
			LimitCents: p.LimitCents,
			SpentCents: p.SpentCents,
			Ratio:      p.Ratio(),
			Limit:      insights.FormatAmount(p.LimitCents),
			Spent:      insights.FormatAmount(p.SpentCents),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMetrics provides sync and security counters in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if s.syncer != nil {
		stats := s.syncer.Stats()
		fmt.Fprintf(w, "# HELP sync_runs_total Total refresh cycles\n")
		fmt.Fprintf(w, "# TYPE sync_runs_total counter\n")
		fmt.Fprintf(w, "sync_runs_total %d\n\n", stats.Runs)

		fmt.Fprintf(w, "# HELP sync_failures_total Refresh cycles that hit a local storage fault\n")
		fmt.Fprintf(w, "# TYPE sync_failures_total counter\n")
		fmt.Fprintf(w, "sync_failures_total %d\n\n", stats.Failures)
	}

	if s.finance != nil {
		fmt.Fprintf(w, "# HELP remote_state Last remote exchange per record kind (0 idle, 1 loading, 2 success, 3 error)\n")
		fmt.Fprintf(w, "# TYPE remote_state gauge\n")
		for kind, st := range s.finance.NetworkStates() {
			fmt.Fprintf(w, "remote_state{kind=%q} %d\n", kind, int(st.Kind))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", atomic.LoadInt64(&s.security.rateLimitHits))

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.activeClients())

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", atomic.LoadInt64(&s.security.suspiciousRequests))

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.started).Seconds())
}

// readMonth validates a GET request carrying an optional month=YYYY-MM
// query parameter. An empty month means the current one.
func (s *Server) readMonth(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	if s.finance == nil {
		writeError(w, http.StatusServiceUnavailable, "finance service not configured")
		return "", false
	}
	month, err := parseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return month, true
}

func parseMonth(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return "", errBadMonth
	}
	return t.Format("2006-01"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
