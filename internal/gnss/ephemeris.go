// SPDX-License-Identifier: MIT

package gnss

import "time"

// gpsEpoch is the origin of the GPS time scale (1980-01-06T00:00:00 UTC).
// Leap seconds are irrelevant here: the week number is only used to resolve
// the 10-bit rollover, which tolerates errors far larger than 18 seconds.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

const secondsPerWeek = 604800

// gpsWeekOf returns the full (non-rolled-over) GPS week number containing t.
func gpsWeekOf(t time.Time) int64 {
	return int64(t.Sub(gpsEpoch) / (secondsPerWeek * time.Second))
}

// resolveWeek expands a 10-bit broadcast week number to the full week count
// by assuming the ephemeris is current relative to t.
func resolveWeek(t time.Time, wn uint16) int64 {
	current := gpsWeekOf(t)
	delta := current - int64(wn)
	rollover := (delta + 512) / 1024
	if rollover < 0 {
		rollover = 0
	}
	return int64(wn) + rollover*1024
}

// Subframe is a sealed union over the broadcast navigation subframes an
// ephemeris is assembled from.
type Subframe interface {
	subframe()
}

// ClockTerms is subframe 1: SV clock model and data-set issue numbers.
type ClockTerms struct {
	Week uint16  // 10-bit broadcast week number
	IODC uint16  // issue of data, clock
	Toc  float64 // clock reference time, seconds of week
	Af0  float64 // s
	Af1  float64 // s/s
	Af2  float64 // s/s^2
	TGD  float64 // group delay, s
}

func (ClockTerms) subframe() {}

// OrbitTerms1 is subframe 2: the first half of the Keplerian element set.
type OrbitTerms1 struct {
	IODE   uint8
	Toe    float64 // ephemeris reference time, seconds of week
	M0     float64 // mean anomaly at reference time, rad
	Ecc    float64 // eccentricity
	SqrtA  float64 // sqrt of semi-major axis, sqrt(m)
	Crs    float64 // orbit radius sine correction, m
	DeltaN float64 // mean motion difference, rad/s
	Cuc    float64 // argument-of-latitude cosine correction, rad
	Cus    float64 // argument-of-latitude sine correction, rad
}

func (OrbitTerms1) subframe() {}

// OrbitTerms2 is subframe 3: the second half of the Keplerian element set.
type OrbitTerms2 struct {
	IODE     uint8
	Omega0   float64 // longitude of ascending node, rad
	I0       float64 // inclination, rad
	Omega    float64 // argument of perigee, rad
	OmegaDot float64 // rad/s
	IDot     float64 // rad/s
	Cic      float64 // inclination cosine correction, rad
	Cis      float64 // inclination sine correction, rad
	Crc      float64 // orbit radius cosine correction, m
}

func (OrbitTerms2) subframe() {}

// Ephemeris is a complete, internally consistent broadcast data set for one
// satellite.
type Ephemeris struct {
	Sat    SatID
	Clock  ClockTerms
	Orbit1 OrbitTerms1
	Orbit2 OrbitTerms2
}

// Toc returns the absolute clock reference time, resolving the week rollover
// against t.
func (e Ephemeris) Toc(t time.Time) time.Time {
	week := resolveWeek(t, e.Clock.Week)
	return gpsEpoch.Add(time.Duration(week)*secondsPerWeek*time.Second +
		time.Duration(e.Clock.Toc*float64(time.Second)))
}

// Toe returns the absolute ephemeris reference time, resolving the week
// rollover against t.
func (e Ephemeris) Toe(t time.Time) time.Time {
	week := resolveWeek(t, e.Clock.Week)
	return gpsEpoch.Add(time.Duration(week)*secondsPerWeek*time.Second +
		time.Duration(e.Orbit1.Toe*float64(time.Second)))
}

// ClockCorrection evaluates the broadcast clock polynomial at t. The
// reference time offset is refined iteratively because the polynomial is
// expressed in SV time, not receiver time.
func (e Ephemeris) ClockCorrection(t time.Time) time.Duration {
	a0, a1, a2 := e.Clock.Af0, e.Clock.Af1, e.Clock.Af2

	dt := t.Sub(e.Toc(t)).Seconds()
	for i := 0; i < 10; i++ {
		dt -= a0 + a1*dt + a2*dt*dt
	}

	return time.Duration((a0 + a1*dt + a2*dt*dt) * float64(time.Second))
}

// PendingEphemeris accumulates subframes for one satellite until a complete,
// consistent set is available. Broadcast subframes arrive independently and
// may straddle a data-set cutover, so a set is only released when the issue
// numbers of all three subframes agree.
type PendingEphemeris struct {
	Sat    SatID
	clock  *ClockTerms
	orbit1 *OrbitTerms1
	orbit2 *OrbitTerms2
}

// Update latches one subframe, replacing any previous copy of that subframe.
func (p *PendingEphemeris) Update(frame Subframe) {
	switch f := frame.(type) {
	case ClockTerms:
		p.clock = &f
	case OrbitTerms1:
		p.orbit1 = &f
	case OrbitTerms2:
		p.orbit2 = &f
	}
}

// Validate returns the assembled ephemeris if all three subframes are present
// and their issue-of-data numbers match.
func (p *PendingEphemeris) Validate() (Ephemeris, bool) {
	if p.clock == nil || p.orbit1 == nil || p.orbit2 == nil {
		return Ephemeris{}, false
	}
	if p.orbit1.IODE != p.orbit2.IODE {
		return Ephemeris{}, false
	}
	if uint8(p.clock.IODC) != p.orbit1.IODE {
		return Ephemeris{}, false
	}
	return Ephemeris{
		Sat:    p.Sat,
		Clock:  *p.clock,
		Orbit1: *p.orbit1,
		Orbit2: *p.orbit2,
	}, true
}
