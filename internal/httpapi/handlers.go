package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatehouse.org/internal/resilience"
)

// ReadyProbe reports whether the service can take traffic. With no database
// attached (in-memory mode) it always passes.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	verdict := a.stats.Health()
	code := http.StatusOK
	if verdict == resilience.VerdictUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, "health", map[string]any{
		"status":  string(verdict),
		"service": "gatehouse-api",
		"breaker": a.breaker.State().String(),
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "dependencies not ready")
		return
	}
	writeJSON(w, r, http.StatusOK, "ready", map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, "service info", map[string]any{
		"name":    "gatehouse-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// handleStats returns the per-endpoint aggregates plus the overall verdict.
// Admin only, enforced by the guard.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, "endpoint statistics", map[string]any{
		"verdict":   string(a.stats.Health()),
		"breaker":   a.breaker.State().String(),
		"endpoints": a.stats.Snapshot(),
	})
}
