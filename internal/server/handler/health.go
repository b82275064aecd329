package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and the state of every dependency check.
type HealthHandler struct {
	checks map[string]Check
	now    func() time.Time
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(checks map[string]Check, now func() time.Time, logger *slog.Logger) *HealthHandler {
	if now == nil {
		now = time.Now
	}
	return &HealthHandler{checks: checks, now: now, logger: logger}
}

type healthResponse struct {
	Status    string            `json:"status"`
	LedgerNow string            `json:"ledger_time"`
	Checks    map[string]string `json:"checks,omitempty"`
	Failing   []string          `json:"failing,omitempty"`
}

// HealthCheck runs all checks concurrently with a short timeout. Any failure
// turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", LedgerNow: h.now().UTC().Format(time.RFC3339)}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
				h.logger.WarnContext(ctx, "handler: health check failed",
					slog.String("check", name),
					slog.String("error", result),
				)
			}
			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = result
			if result != "ok" {
				resp.Failing = append(resp.Failing, name)
			}
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if len(resp.Failing) > 0 {
		sort.Strings(resp.Failing)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
