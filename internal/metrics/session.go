// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionState exposes each reference session's state machine position
	// as a one-hot gauge.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtnav_session_state",
		Help: "Reference session state (one-hot per state)",
	}, []string{"station", "state"})

	// SessionTransitionsTotal counts session state transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_session_transitions_total",
		Help: "Reference session state transitions",
	}, []string{"station", "from", "to"})

	// SessionReconnectsTotal counts reconnect attempts per station.
	SessionReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_session_reconnects_total",
		Help: "Reconnect attempts per reference station",
	}, []string{"station"})

	// SessionWatchdogTripsTotal counts liveness watchdog expirations.
	SessionWatchdogTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_session_watchdog_trips_total",
		Help: "Liveness watchdog expirations per reference station",
	}, []string{"station"})
)

// sessionStates mirrors the session state machine; keep in sync with
// internal/ntrip.
var sessionStates = []string{"disconnected", "connecting", "authenticating", "streaming", "failed"}

// SetSessionState sets the one-hot state gauge for a station.
func SetSessionState(station, state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		SessionState.WithLabelValues(station, s).Set(v)
	}
}

// IncSessionTransition records one state transition.
func IncSessionTransition(station, from, to string) {
	SessionTransitionsTotal.WithLabelValues(station, from, to).Inc()
}

// IncSessionReconnect records one reconnect attempt.
func IncSessionReconnect(station string) {
	SessionReconnectsTotal.WithLabelValues(station).Inc()
}

// IncSessionWatchdogTrip records one watchdog expiration.
func IncSessionWatchdogTrip(station string) {
	SessionWatchdogTripsTotal.WithLabelValues(station).Inc()
}
