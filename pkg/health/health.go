// Package health aggregates dependency probes for liveness and readiness
// endpoints. Required dependencies take the report down when they fail;
// optional ones, such as the search result cache, only degrade it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the health of one component or of the whole process.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth is the outcome of one Check.
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Report aggregates every registered check.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Option configures a registered check.
type Option func(*entry)

// Optional marks a dependency whose failure degrades rather than downs the
// report.
func Optional() Option {
	return func(e *entry) { e.optional = true }
}

// WithTimeout overrides the per-check deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *entry) { e.timeout = d }
}

type entry struct {
	check    Check
	optional bool
	timeout  time.Duration
}

const defaultCheckTimeout = 3 * time.Second

// Checker runs registered checks concurrently.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]entry
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]entry)}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check, opts ...Option) {
	e := entry{check: check, timeout: defaultCheckTimeout}
	for _, opt := range opts {
		opt(&e)
	}
	c.mu.Lock()
	c.checks[name] = e
	c.mu.Unlock()
}

// Run executes every check under its own deadline and reports the worst
// status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]entry, len(c.checks))
	for name, e := range c.checks {
		checks[name] = e
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, e := range checks {
		name, e := name, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			report.Components[name] = res
			status := res.Status
			if e.optional && status == StatusDown {
				status = StatusDegraded
			}
			if status.rank() > report.Status.rank() {
				report.Status = status
			}
		}()
	}
	wg.Wait()
	return report
}

func run(ctx context.Context, e entry) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	res := e.check(ctx)
	res.Latency = time.Since(start).Round(time.Millisecond).String()
	res.Optional = e.optional
	return res
}

// PingCheck turns a Ping method into a Check. A failing ping is down and a
// ping slower than slow is degraded.
func PingCheck(ping func(ctx context.Context) error, slow time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		if slow > 0 && time.Since(start) > slow {
			return ComponentHealth{Status: StatusDegraded, Message: "slow response"}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// LiveHandler answers liveness probes. It checks no dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes: 200 while up or degraded, 503 when
// a required dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
