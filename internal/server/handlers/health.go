// Package handlers implements the HTTP façade's operational endpoints:
// health/liveness/readiness/startup probes and the shared error adapter
// used by the BioIndex API handlers.
package handlers

import (
	"context"
	"net/http"
	"sync"

	apperrors "github.com/3leaps/bioindex/internal/errors"
)

// Checker reports the health of one dependency (a database connection, a
// blob-store credential check, telemetry wiring, ...).
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the JSON body of /health and friends.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthManager aggregates named Checkers into one overall status.
type HealthManager struct {
	version string

	mu       sync.Mutex
	checkers map[string]Checker
}

// NewHealthManager constructs a HealthManager reporting version in its
// responses.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version, checkers: make(map[string]Checker)}
}

// RegisterChecker adds (or replaces) a named Checker.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every registered Checker and reports "healthy" (200)
// or "unhealthy" (503) with a per-check breakdown.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.Unlock()

	checks := make(map[string]string, len(checkers))
	for name, c := range checkers {
		if err := c.CheckHealth(r.Context()); err != nil {
			if isTimeoutErr(err) {
				checks[name] = "timeout"
			} else {
				checks[name] = "unhealthy"
			}
			continue
		}
		checks[name] = "healthy"
	}

	status := m.determineOverallStatus(checks)
	if status != "healthy" {
		apperrors.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    apperrors.CodeServiceUnavail,
				"message": "one or more health checks failed",
				"details": map[string]interface{}{"checks": toAnyMap(checks)},
			},
		})
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{Status: status, Version: m.version, Checks: checks})
}

// determineOverallStatus folds per-check statuses into one overall
// verdict: any outright failure is "unhealthy"; a bare timeout (the
// dependency may recover) is reported as "degraded" rather than failed
// outright, but still trips the 503 path above since it is not healthy.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	sawTimeout := false
	for _, status := range checks {
		switch status {
		case "healthy":
			continue
		case "timeout":
			sawTimeout = true
		default:
			return "unhealthy"
		}
	}
	if sawTimeout {
		return "degraded"
	}
	return "healthy"
}

func toAnyMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type timeoutError interface {
	Timeout() bool
}

func isTimeoutErr(err error) bool {
	te, ok := err.(timeoutError)
	return ok && te.Timeout()
}

// globalHealthManager backs the package-level handler functions used by
// the server's route table.
var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide HealthManager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide HealthManager, or nil if
// InitHealthManager has not been called.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func unavailable(w http.ResponseWriter) {
	apperrors.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    apperrors.CodeServiceUnavail,
			"message": "health manager not initialized",
		},
	})
}

// HealthHandler is the package-level /health handler, delegating to the
// global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		unavailable(w)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler reports whether the process is alive: it never runs
// dependency checks, since a dead dependency should not cause an
// orchestrator to kill and restart an otherwise-healthy process.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		unavailable(w)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessHandler reports whether the process can currently serve
// traffic, running the full checker set (a DB or blob-store outage
// should pull the process out of a load balancer's rotation).
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		unavailable(w)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// StartupHandler reports whether the process has completed its startup
// sequence. BioIndex has no asynchronous warmup phase, so this is
// equivalent to liveness once the manager exists.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		unavailable(w)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": "started"})
}
