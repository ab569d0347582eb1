// Package health provides liveness and readiness probes with pluggable
// checks for the service core's dependencies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/relaykit/relay/observability"
	"github.com/relaykit/relay/realtime"
	"github.com/relaykit/relay/store"
)

// Probe timeouts.
const (
	// DefaultReadinessTimeout bounds one readiness probe, all checks
	// included.
	DefaultReadinessTimeout = 5 * time.Second

	// DefaultHealthTimeout bounds one detailed health probe.
	DefaultHealthTimeout = 10 * time.Second
)

// Check is a single named dependency probe.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckFunc wraps fn as a named Check.
func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the check name.
func (c *CheckFunc) Name() string {
	return c.name
}

// Check runs the probe.
func (c *CheckFunc) Check(ctx context.Context) error {
	return c.fn(ctx)
}

// StoreCheck probes the record store backend.
func StoreCheck(st store.Store) Check {
	return NewCheckFunc("store", func(ctx context.Context) error {
		if st == nil {
			return fmt.Errorf("store not configured")
		}
		return st.Ping(ctx)
	})
}

// RealtimeCheck probes the realtime registry. With maxConns > 0 the
// check fails once the connection count reaches the ceiling, flagging
// fan-out saturation before broadcasts start dropping.
func RealtimeCheck(reg *realtime.Registry, maxConns int) Check {
	return NewCheckFunc("realtime", func(_ context.Context) error {
		if reg == nil {
			return fmt.Errorf("realtime registry not configured")
		}
		if n := reg.Len(); maxConns > 0 && n >= maxConns {
			return fmt.Errorf("connection capacity reached: %d/%d", n, maxConns)
		}
		return nil
	})
}

// Result is the outcome of one check inside a probe response.
type Result struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProbeStatus is the JSON body of a readiness or health response.
type ProbeStatus struct {
	Status    string             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Uptime    string             `json:"uptime,omitempty"`
	Checks    map[string]*Result `json:"checks,omitempty"`
}

// Handler serves the liveness, readiness, and detailed health probes.
type Handler struct {
	logger    observability.Logger
	startTime time.Time

	mu     sync.RWMutex
	checks []Check

	readinessTimeout time.Duration
	healthTimeout    time.Duration
}

// NewHandler creates a probe handler with the default timeouts.
func NewHandler(logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		logger:           logger,
		startTime:        time.Now(),
		readinessTimeout: DefaultReadinessTimeout,
		healthTimeout:    DefaultHealthTimeout,
	}
}

// AddCheck registers a dependency check. Checks run on every readiness
// and health probe.
func (h *Handler) AddCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck removes the check with the given name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, check := range h.checks {
		if check.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// runChecks runs every registered check concurrently and folds the
// results into a single probe status.
func (h *Handler) runChecks(ctx context.Context) *ProbeStatus {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &ProbeStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*Result),
	}
	if len(checks) == 0 {
		return status
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			result := &Result{
				Status:    "ok",
				Duration:  elapsed.String(),
				Timestamp: time.Now().UTC(),
			}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Error(err),
					observability.Duration("duration", elapsed),
				)
			}

			mu.Lock()
			if err != nil {
				status.Status = "error"
			}
			status.Checks[c.Name()] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	return status
}

// Liveness reports that the process is up. It runs no checks.
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness reports whether the service can take traffic. Any failing
// check turns the probe into a 503.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readinessTimeout)
	defer cancel()

	status := h.runChecks(ctx)

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

// Health reports the detailed health state including uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	status := h.runChecks(ctx)
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write probe response", observability.Error(err))
	}
}

// Routes registers the probe endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/livez", h.Liveness)
	mux.HandleFunc("/readyz", h.Readiness)
}
