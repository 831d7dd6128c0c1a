// SPDX-License-Identifier: MIT

package gnss

// FailureKind classifies why an epoch did not yield a fix.
type FailureKind string

const (
	// FailInsufficientObs: too few usable observations for a solution.
	FailInsufficientObs FailureKind = "insufficient_observations"
	// FailNonConvergence: the solver iterated without converging.
	FailNonConvergence FailureKind = "non_convergence"
	// FailTimeout: the solver exceeded its per-invocation deadline.
	FailTimeout FailureKind = "timeout"
	// FailConfig: solver input did not match the engine configuration.
	FailConfig FailureKind = "config_mismatch"
	// FailIncomplete: a live reference session delivered no correction
	// before the wait window elapsed.
	FailIncomplete FailureKind = "discarded_incomplete"
	// FailExpired: the epoch bucket exceeded the retention age.
	FailExpired FailureKind = "expired"
)

// PVTSolution is one successful solver fix.
type PVTSolution struct {
	Epoch Epoch `json:"-"`

	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`

	VelEastMS  float64 `json:"vel_east_m_s"`
	VelNorthMS float64 `json:"vel_north_m_s"`
	VelUpMS    float64 `json:"vel_up_m_s"`

	ClockBiasS  float64 `json:"clock_bias_s"`
	ClockDriftS float64 `json:"clock_drift_s_s"` // s/s

	Satellites int     `json:"sats"`
	GDOP       float64 `json:"gdop"`
	// Degraded marks a fix produced under poor satellite geometry.
	Degraded bool `json:"degraded,omitempty"`
}

// SolveFailure is one failed epoch.
type SolveFailure struct {
	Epoch  Epoch       `json:"-"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Outcome is the per-epoch result delivered to the sink: exactly one of Fix
// or Failure is set.
type Outcome struct {
	Epoch   Epoch
	Fix     *PVTSolution
	Failure *SolveFailure
}

// NewFix wraps a solution as an outcome.
func NewFix(sol PVTSolution) Outcome {
	return Outcome{Epoch: sol.Epoch, Fix: &sol}
}

// NewFailure wraps a failure as an outcome.
func NewFailure(epoch Epoch, kind FailureKind, reason string) Outcome {
	return Outcome{Epoch: epoch, Failure: &SolveFailure{Epoch: epoch, Kind: kind, Reason: reason}}
}

// IsFix reports whether the outcome carries a solution.
func (o Outcome) IsFix() bool { return o.Fix != nil }

// Label returns a short identifier for logs and metrics: "fix" or the
// failure kind.
func (o Outcome) Label() string {
	if o.Fix != nil {
		return "fix"
	}
	if o.Failure != nil {
		return string(o.Failure.Kind)
	}
	return "unknown"
}
