// SPDX-License-Identifier: MIT

package gnss

// ReceiverRecord is one decoded message from the hardware receiver. It is a
// sealed union: consumers type-switch over MeasurementRecord and
// NavigationRecord, and the compiler flags any new kind added here that a
// consumer does not handle.
type ReceiverRecord interface {
	receiverRecord()
}

// MeasurementRecord carries the observation set the receiver sampled at one
// epoch. A single epoch may be split across several records by the wire
// protocol; the synchronizer merges them per satellite.
type MeasurementRecord struct {
	Epoch Epoch
	Sats  map[SatID]Measurement
}

func (MeasurementRecord) receiverRecord() {}

// NavigationRecord carries one decoded broadcast navigation subframe. It is
// not tied to a single epoch; the synchronizer folds it into the current
// navigation snapshot.
type NavigationRecord struct {
	Sat   SatID
	Frame Subframe
}

func (NavigationRecord) receiverRecord() {}

// CorrectionRecord is one decoded correction message from one reference
// station session. Raw carries the verified frame for engines that consume
// the correction protocol natively; Sats is filled by decoders that fully
// decode the station's observation set.
type CorrectionRecord struct {
	StationID string
	Epoch     Epoch
	Sats      map[SatID]Measurement
	Raw       []byte
}

// AlignedBundle is the immutable, fully assembled input for one solver
// invocation: one epoch's merged measurement set, the navigation snapshot
// valid as of finalization, and the correction records contributed by live
// reference sessions.
type AlignedBundle struct {
	Epoch       Epoch
	Sats        map[SatID]Measurement
	Nav         NavSnapshot
	Corrections []CorrectionRecord
}
