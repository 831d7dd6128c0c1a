// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func checker(name string, status Status) Checker {
	return CheckerFunc{
		CheckName: name,
		Fn: func(context.Context) CheckResult {
			return CheckResult{Status: status}
		},
	}
}

func TestManagerAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no checkers", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for i, s := range tt.statuses {
				m.RegisterChecker(checker(string(rune('a'+i)), s))
			}
			resp := m.Health(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestReadiness(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(checker("session:a", StatusDegraded))

	ready, resp := m.Ready(context.Background())
	assert.True(t, ready, "degraded must stay ready: the pipeline still produces outcomes")
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(checker("receiver", StatusUnhealthy))
	ready, _ = m.Ready(context.Background())
	assert.False(t, ready)
}
