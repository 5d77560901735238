package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health of the network process.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is a single named probe.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs registered probes on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]*HealthCheck
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]*HealthCheck)}
}

// RegisterCheck registers a probe, defaulting its timeout to 5s.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// CheckStatus is the outcome of one probe.
type CheckStatus struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
}

// HealthResponse is the aggregate health report.
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Checks     map[string]CheckStatus `json:"checks"`
	Goroutines int                    `json:"num_goroutines"`
}

// Check runs every registered probe and aggregates the outcome. A failing
// critical check makes the process unhealthy; a failing non-critical check
// only degrades it.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.CheckFunc(checkCtx)
		cancel()

		status := CheckStatus{Status: HealthStatusHealthy, Message: "OK", LastChecked: time.Now()}
		if err != nil {
			status.Message = err.Error()
			if check.Critical {
				status.Status = HealthStatusUnhealthy
				overall = HealthStatusUnhealthy
			} else {
				status.Status = HealthStatusDegraded
				if overall == HealthStatusHealthy {
					overall = HealthStatusDegraded
				}
			}
		}
		results[check.Name] = status
	}

	return HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Checks:     results,
		Goroutines: runtime.NumGoroutine(),
	}
}

// HealthHandler returns an HTTP handler reporting aggregate health.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// PingCheck is a trivial liveness probe.
func PingCheck() *HealthCheck {
	return &HealthCheck{
		Name:      "ping",
		CheckFunc: func(context.Context) error { return nil },
		Timeout:   time.Second,
	}
}

// DiscoveryCheck probes the discovery backend, typically with a Ping or an
// All() call. Critical: a dead discovery backend makes heartbeats useless.
func DiscoveryCheck(probe func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "discovery",
		CheckFunc: probe,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}
