// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for clipfeedd.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
)

// Status is the aggregated state of one check or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is what a single checker reports.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker inspects one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func (c funcChecker) Name() string                          { return c.name }
func (c funcChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// CheckerFunc wraps fn as a Checker.
func CheckerFunc(name string, fn func(ctx context.Context) CheckResult) Checker {
	return funcChecker{name: name, fn: fn}
}

// Manager runs registered checkers for the liveness and readiness views.
type Manager struct {
	version string
	now     func() time.Time

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager returns a manager reporting version in liveness responses.
func NewManager(version string) *Manager {
	return &Manager{version: version, now: time.Now}
}

// RegisterChecker adds checker to both views. Safe for concurrent use.
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	status := StatusHealthy
	if len(checkers) == 0 {
		return nil, status
	}
	results := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		res := c.Check(ctx)
		results[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return results, status
}

// Health is the liveness view. The process is alive whenever it can answer;
// component checks are only reported when verbose is set.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: m.now(),
	}
	if verbose {
		resp.Checks, resp.Status = m.run(ctx)
	}
	return resp
}

// Ready is the readiness view. Any unhealthy component makes the service
// not ready; degraded components do not.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status := m.run(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: m.now(),
		Checks:    checks,
	}
}

// ServeHealth writes the liveness view; ?verbose=true includes checks.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady writes the readiness view with 503 while not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}
