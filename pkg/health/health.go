// Package health runs registered dependency checks concurrently and serves
// the aggregate as liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/resilience"
)

// RPCMethod is the readiness probe on the RPC port.
const RPCMethod = "Health.Check"

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	flight singleflight.Group
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named health check, replacing one of the same name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently. Callers that arrive while
// a run is in flight share its report. The overall status is the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	v, _, _ := c.flight.Do("run", func() (any, error) {
		return c.run(ctx), nil
	})
	return v.(Report)
}

func (c *Checker) run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	type result struct {
		name string
		ComponentHealth
	}
	results := make(chan result, len(checks))
	for name, check := range checks {
		go func() {
			start := time.Now()
			h := check(ctx)
			h.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- result{name, h}
		}()
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for range len(checks) {
		r := <-results
		report.Components[r.name] = r.ComponentHealth
		if r.Status.severity() > report.Status.severity() {
			report.Status = r.Status
		}
		if r.Status != StatusUp {
			c.logger.Warn("component unhealthy", "component_name", r.name, "status", r.Status, "message", r.Message)
		}
	}
	return report
}

// Ping builds a check that calls ping with a timeout. A failing ping marks
// the component down, or degraded when optional is set.
func Ping(timeout time.Duration, optional bool, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		_, err := resilience.WithTimeout(ctx, timeout, "health-ping", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, ping(ctx)
		})
		if err == nil {
			return ComponentHealth{Status: StatusUp}
		}
		status := StatusDown
		if optional {
			status = StatusDegraded
		}
		return ComponentHealth{Status: status, Message: err.Error()}
	}
}

// Breaker reports a circuit breaker: open means degraded.
func Breaker(cb *resilience.CircuitBreaker) Check {
	return func(context.Context) ComponentHealth {
		c := cb.Counts()
		if c.State == resilience.StateClosed {
			return ComponentHealth{Status: StatusUp}
		}
		return ComponentHealth{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("circuit %s, %d calls rejected", c.State, c.Rejected),
		}
	}
}

// LiveHandler answers liveness probes without running checks.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler runs all checks. Degraded still counts as ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// RegisterRPC serves readiness as Health.Check. Degraded is still serving.
func (c *Checker) RegisterRPC(srv *grpc.Server) {
	srv.Register(RPCMethod, func(ctx context.Context, _ json.RawMessage) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status := "SERVING"
		if c.Run(ctx).Status == StatusDown {
			status = "NOT_SERVING"
		}
		return proto.HealthCheckResponse{Status: status}, nil
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
