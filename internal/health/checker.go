// Package health serves the liveness and readiness endpoints for the
// plant simulator and the panel.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker is a component that can report whether it is functioning.
// The loops, the plant link, the poller and the MQTT session implement it.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a plain function to the Checker interface.
type CheckFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// CheckTimeout bounds every individual component check.
	CheckTimeout time.Duration
}

// ComponentStatus is the outcome of one component check.
type ComponentStatus struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Response is the full readiness document.
type Response struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	Version    string                     `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthChecker runs named component checks in parallel and renders the
// aggregate as JSON.
type HealthChecker struct {
	cfg     Config
	started time.Time

	mu     sync.RWMutex
	checks map[string]Checker
}

// NewChecker creates a health checker.
func NewChecker(cfg Config) *HealthChecker {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	return &HealthChecker{
		cfg:     cfg,
		started: time.Now(),
		checks:  make(map[string]Checker),
	}
}

// AddCheck registers a component under the given name.
func (h *HealthChecker) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// Check runs every registered check concurrently, each under its own
// timeout, and aggregates the results. One unhealthy component makes
// the whole response unhealthy.
func (h *HealthChecker) Check(ctx context.Context) Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	resp := Response{
		Status:     statusHealthy,
		Service:    h.cfg.ServiceName,
		Version:    h.cfg.ServiceVersion,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]ComponentStatus, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
			defer cancel()

			status := ComponentStatus{
				Status:    statusHealthy,
				CheckedAt: time.Now(),
			}
			if err := checker.HealthCheck(checkCtx); err != nil {
				status.Status = statusUnhealthy
				status.Error = err.Error()
			}

			mu.Lock()
			resp.Components[name] = status
			if status.Status != statusHealthy {
				resp.Status = statusUnhealthy
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return resp
}

// IsHealthy reports whether every registered component checks out.
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Status == statusHealthy
}

// HealthHandler serves the readiness document: 200 when every component
// is healthy, 503 otherwise.
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := h.Check(r.Context())

	code := http.StatusOK
	if resp.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// LivenessHandler answers 200 whenever the process is up, without
// consulting component checks.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{
		Status:    statusHealthy,
		Service:   h.cfg.ServiceName,
		Version:   h.cfg.ServiceVersion,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}
