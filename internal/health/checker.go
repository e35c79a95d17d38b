// Package health probes the chat service's dependencies: the generation
// backend and, when configured, the usage ledger.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a single probe.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component is one probed dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // llm, database
	CheckResult
}

// Report is the aggregate of one full check pass.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Checker probes the backend and ledger concurrently.
type Checker struct {
	backend backend.Backend
	ledger  ledger.Store

	probeTimeout      time.Duration
	maxBackendLatency time.Duration

	mu   sync.RWMutex
	last []Component
}

// Config holds checker configuration. Ledger may be nil when usage
// recording is disabled.
type Config struct {
	Backend backend.Backend
	Ledger  ledger.Store

	ProbeTimeout      time.Duration
	MaxBackendLatency time.Duration
}

// New creates a checker.
func New(cfg Config) *Checker {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MaxBackendLatency == 0 {
		cfg.MaxBackendLatency = 2 * time.Second
	}
	return &Checker{
		backend:           cfg.Backend,
		ledger:            cfg.Ledger,
		probeTimeout:      cfg.ProbeTimeout,
		maxBackendLatency: cfg.MaxBackendLatency,
	}
}

// Check runs every probe and returns the aggregate report.
func (c *Checker) Check(ctx context.Context) Report {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.backend != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkBackend(ctx)
		}()
	}
	if c.ledger != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkLedger(ctx)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return Report{
		Status:     overallStatus(components),
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

// Components returns the results of the most recent check pass.
func (c *Checker) Components() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Component(nil), c.last...)
}

// checkBackend asks the generation backend for its model list. A backend
// that cannot enumerate models cannot serve chat requests either.
func (c *Checker) checkBackend(ctx context.Context) Component {
	comp := Component{
		Name:        c.backend.Name(),
		Type:        "llm",
		CheckResult: CheckResult{Timestamp: time.Now().UTC()},
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	models, err := c.backend.Models(probeCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "backend unreachable"
		return comp
	}
	if comp.Latency > c.maxBackendLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("%d models available", len(models))
	return comp
}

// checkLedger issues a cheap aggregate query against the usage store.
func (c *Checker) checkLedger(ctx context.Context) Component {
	comp := Component{
		Name:        "ledger",
		Type:        "database",
		CheckResult: CheckResult{Timestamp: time.Now().UTC()},
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.ledger.Summary(probeCtx, "")
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "ledger unreachable"
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

func overallStatus(components []Component) Status {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
