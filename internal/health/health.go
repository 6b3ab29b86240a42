// Package health provides liveness and readiness endpoints for the funnel service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Pinger is anything that can report connectivity, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger into a CheckFunc that reports down on error.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// LimitCheck reports degraded once current() exceeds limit, or when current
// cannot be measured. It never reports down, so it cannot take the service
// out of rotation. A limit <= 0 disables it.
func LimitCheck(current func() (int64, error), limit int64) CheckFunc {
	return func(ctx context.Context) Status {
		if limit <= 0 {
			return StatusOK
		}
		v, err := current()
		if err != nil || v > limit {
			return StatusDegraded
		}
		return StatusOK
	}
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   map[string]Status
	timeout time.Duration
	started time.Time
	logger  zerolog.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCheckTimeout bounds each individual check. The default is 5s.
func WithCheckTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger, opts ...CheckerOption) *Checker {
	c := &Checker{
		checks:  make(map[string]CheckFunc),
		cache:   make(map[string]Status),
		timeout: 5 * time.Second,
		started: time.Now(),
		logger:  logger.With().Str("component", "health").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("health check failing")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// IsReady returns true if no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return allUp(c.RunAll(ctx))
}

func allUp(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// Report is the readiness response body.
type Report struct {
	Status    string            `json:"status"`
	Checks    map[string]Status `json:"checks"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
}

// Report runs every check and summarizes the result.
func (c *Checker) Report(ctx context.Context) (Report, bool) {
	results := c.RunAll(ctx)
	ready := allUp(results)
	r := Report{
		Status:    "ready",
		Checks:    results,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	if !ready {
		r.Status = "not_ready"
	}
	return r, ready
}

// LivenessHandler returns an HTTP handler for /healthz.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler returns an HTTP handler for /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ready := c.Report(r.Context())
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
