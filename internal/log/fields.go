// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldStationID = "station_id"
	FieldRunID     = "run_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldEpoch     = "epoch"
	FieldOutcome   = "outcome"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Link fields
	FieldDevice = "device"
	FieldHost   = "host"
	FieldMount  = "mount"
)
