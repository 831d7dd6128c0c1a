// SPDX-License-Identifier: MIT

// Package health provides liveness and readiness checks for the daemon's
// HTTP surface.
package health

import (
	"context"
	"time"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response represents the full health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for component health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// Manager aggregates component checks.
type Manager struct {
	version  string
	checkers []Checker
}

// NewManager creates a health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component check.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Health runs all checks and aggregates the worst component status.
func (m *Manager) Health(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}

	resp.Checks = make(map[string]CheckResult, len(m.checkers))
	for _, c := range m.checkers {
		result := c.Check(ctx)
		resp.Checks[c.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// Ready reports whether the daemon should receive traffic: healthy or
// degraded both count as ready, since a down reference session degrades the
// solution but does not stop the pipeline.
func (m *Manager) Ready(ctx context.Context) (bool, Response) {
	resp := m.Health(ctx)
	return resp.Status != StatusUnhealthy, resp
}
