package database

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the outcome of a health check
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Serving reports whether the database answers queries, slowly or not
func (s HealthStatus) Serving() bool {
	return s == HealthHealthy || s == HealthDegraded
}

// HealthCheckResult reports the liveness of a client
type HealthCheckResult struct {
	Status       HealthStatus  `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
	Details      Details       `json:"details"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Details carries the client diagnostics attached to a health result
type Details struct {
	State            string        `json:"state"`
	Pool             PoolStats     `json:"pool"`
	QueryCount       int64         `json:"query_count"`
	ErrorCount       int64         `json:"error_count"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
}

// HealthCheck runs the backend's ping statement once. It never returns
// an error: failures are reported through the result. A client that is
// not ready is reported as unknown without touching the backend.
func (c *Client[C]) HealthCheck(ctx context.Context) *HealthCheckResult {
	state := c.State()
	res := &HealthCheckResult{
		Status:    HealthUnknown,
		CheckedAt: c.opts.Now(),
	}

	if state != StateReady {
		res.Details = c.details(state)
		return res
	}

	start := c.opts.Now()
	_, err := c.Execute(ctx, c.backend.PingQuery(), nil, WithoutRetry())
	res.ResponseTime = c.opts.Now().Sub(start)

	switch {
	case err != nil:
		res.Status = HealthUnhealthy
		res.Error = err.Error()
		c.logger.Warn("Health check failed",
			zap.Duration("response_time", res.ResponseTime),
			zap.Error(err))
	case res.ResponseTime >= c.opts.DegradedThreshold:
		res.Status = HealthDegraded
		c.logger.Warn("Health check slow",
			zap.Duration("response_time", res.ResponseTime),
			zap.Duration("threshold", c.opts.DegradedThreshold))
	default:
		res.Status = HealthHealthy
	}

	res.Details = c.details(c.State())
	c.observePool(res.Details.Pool)
	return res
}

func (c *Client[C]) details(state State) Details {
	counters := c.Counters()
	return Details{
		State:            state.String(),
		Pool:             c.PoolStats(),
		QueryCount:       counters.QueryCount,
		ErrorCount:       counters.ErrorCount,
		AvgExecutionTime: counters.AvgExecutionTime,
	}
}
