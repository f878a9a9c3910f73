// Package health implements the readiness/liveness checker behind
// GET /api/health.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool; the in-memory store has no
// dependency to ping and is simply not wired into the checker.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the store (when durable) is reachable.
type Checker struct {
	store  Pinger
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker builds a checker. store may be nil for an in-memory
// deployment, in which case Readiness reports up unconditionally.
func NewChecker(store Pinger, logger *slog.Logger, gauge *prometheus.GaugeVec) *Checker {
	return &Checker{store: store, logger: logger.With("component", "health"), gauge: gauge}
}

func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "ok"}
}

func (c *Checker) Readiness(ctx context.Context) HealthResult {
	if c.store == nil {
		return HealthResult{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{Status: "ok", Checks: make(map[string]CheckResult)}

	if err := c.store.Ping(checkCtx); err != nil {
		c.logger.Warn("store health check failed", "error", err)
		result.Status = "down"
		result.Checks["store"] = CheckResult{Status: "down", Error: err.Error()}
		if c.gauge != nil {
			c.gauge.WithLabelValues("store").Set(0)
		}
	} else {
		result.Checks["store"] = CheckResult{Status: "ok"}
		if c.gauge != nil {
			c.gauge.WithLabelValues("store").Set(1)
		}
	}

	return result
}
