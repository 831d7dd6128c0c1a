// SPDX-License-Identifier: MIT

package gnss

// NavSnapshot is an immutable view of the most recent validated ephemeris per
// satellite. Updates return a new snapshot; existing references stay valid,
// so a snapshot attached to an aligned bundle never changes underneath the
// solver.
type NavSnapshot struct {
	sats map[SatID]Ephemeris
}

// With returns a snapshot that additionally carries eph, replacing any
// previous entry for the same satellite.
func (s NavSnapshot) With(eph Ephemeris) NavSnapshot {
	next := make(map[SatID]Ephemeris, len(s.sats)+1)
	for k, v := range s.sats {
		next[k] = v
	}
	next[eph.Sat] = eph
	return NavSnapshot{sats: next}
}

// Ephemeris returns the ephemeris for sat, if one is known.
func (s NavSnapshot) Ephemeris(sat SatID) (Ephemeris, bool) {
	eph, ok := s.sats[sat]
	return eph, ok
}

// Len returns the number of satellites with a known ephemeris.
func (s NavSnapshot) Len() int { return len(s.sats) }

// Sats returns the satellites with a known ephemeris.
func (s NavSnapshot) Sats() []SatID {
	out := make([]SatID, 0, len(s.sats))
	for sat := range s.sats {
		out = append(out, sat)
	}
	return out
}
