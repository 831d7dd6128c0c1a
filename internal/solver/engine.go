// SPDX-License-Identifier: MIT

// Package solver bridges aligned epoch bundles to the external PVT solving
// engine and classifies each invocation's outcome.
package solver

import (
	"context"
	"errors"
	"time"

	"github.com/rtnav/rtnavd/internal/gnss"
)

// Engine computes a PVT fix from one epoch's prepared input. The numerical
// algorithm is external to this package; implementations may keep internal
// filter state across epochs.
type Engine interface {
	Solve(ctx context.Context, in Input) (gnss.PVTSolution, error)
}

// Sentinel errors engines use to classify failures. Anything else is
// reported as non-convergence.
var (
	ErrInsufficientObservations = errors.New("solver: insufficient observations")
	ErrNonConvergence           = errors.New("solver: no convergence")
	ErrConfigMismatch           = errors.New("solver: input does not match engine configuration")
)

// Candidate is one satellite prepared for the solver: its observation, the
// ephemeris valid at the epoch and the evaluated SV clock correction.
type Candidate struct {
	Sat             gnss.SatID
	Measurement     gnss.Measurement
	Ephemeris       gnss.Ephemeris
	ClockCorrection time.Duration
}

// Input is the solver's per-epoch input representation.
type Input struct {
	Epoch      gnss.Epoch
	Candidates []Candidate
	// Corrections carries the per-station observation sets for
	// differential processing, empty in direct mode.
	Corrections []gnss.CorrectionRecord
}
