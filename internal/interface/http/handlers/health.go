// Package handlers contains health checking for the admin HTTP API.
//
// Checks are registered by name and run in parallel. A failing critical check
// makes the service unhealthy; a failing optional check only degrades it:
//
//	checker := handlers.NewHealthChecker("v1.0.0")
//	checker.AddCheck("database", true, conn.Ping)
//	checker.AddCheck("cache", false, cache.Ping)
//	checker.AddCheck("goated_api", false, handlers.NewBreakerCheck(client))
package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vip-wager/wager-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Overall health states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// CheckFunc performs a single health check and returns an error if it fails.
type CheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status of the service.
type HealthStatus struct {
	// Status is ok, degraded or down.
	Status string `json:"status"`

	// Message lists the failing checks.
	Message string `json:"message,omitempty"`

	// Checks contains individual health check results.
	Checks map[string]CheckResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Healthy reports whether every critical check passed.
func (s HealthStatus) Healthy() bool {
	return s.Status != StatusDown
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type namedCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthChecker aggregates named health checks.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]namedCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *HealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck registers a named check.
func (c *HealthChecker) AddCheck(name string, critical bool, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: check, critical: critical}
}

// Check runs all checks and returns the aggregated status.
func (c *HealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusOK,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check namedCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := check.fn(checkCtx)
			result := CheckResult{
				Healthy:  err == nil,
				Critical: check.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	var failing []string
	for name, r := range status.Checks {
		if r.Healthy {
			continue
		}
		failing = append(failing, name)
		if r.Critical {
			status.Status = StatusDown
		} else if status.Status == StatusOK {
			status.Status = StatusDegraded
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		status.Message = "failing checks: " + strings.Join(failing, ", ")
	}
	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// BreakerReporter exposes the state of a circuit breaker.
type BreakerReporter interface {
	BreakerStatus() circuitbreaker.Status
}

// NewBreakerCheck fails while the breaker is open.
func NewBreakerCheck(r BreakerReporter) CheckFunc {
	return func(context.Context) error {
		st := r.BreakerStatus()
		if st.State == circuitbreaker.StateOpen.String() {
			return fmt.Errorf("circuit open, retry after %s", st.RetryAfter.Round(time.Second))
		}
		return nil
	}
}
