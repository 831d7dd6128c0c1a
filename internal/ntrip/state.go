// SPDX-License-Identifier: MIT

// Package ntrip maintains the correction streams: one independent NTRIP
// client session per configured reference station, each with reconnect,
// authentication and liveness-watchdog handling.
package ntrip

// State is a session's position in its connection state machine.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateStreaming      State = "streaming"
	// StateFailed is terminal: entered on credential rejection and never
	// left without operator intervention.
	StateFailed State = "failed"
)

// Event reports a session state change to the rest of the pipeline. Live is
// the session's liveness flag after the transition.
type Event struct {
	StationID string
	State     State
	Live      bool
}
