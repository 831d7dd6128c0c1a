// SPDX-License-Identifier: MIT

// Package gnss holds the domain model shared across the rtnavd pipeline:
// epochs, satellite identities, observation records, broadcast ephemerides
// and per-epoch solve outcomes.
package gnss

import "time"

// Epoch identifies one receiver sampling instant. It is the observation
// timestamp quantized to the receiver's sampling period, stored as
// nanoseconds since the Unix epoch. Epochs are comparable and strictly
// ordered, which makes them usable as map keys and watermarks.
type Epoch int64

// EpochOf quantizes t to the nearest multiple of the sampling period.
// A non-positive period defaults to one second.
func EpochOf(t time.Time, period time.Duration) Epoch {
	p := int64(period)
	if p <= 0 {
		p = int64(time.Second)
	}
	ns := t.UnixNano()
	half := p / 2
	if ns >= 0 {
		return Epoch((ns + half) / p * p)
	}
	return Epoch((ns - half) / p * p)
}

// Time returns the nominal sampling instant in UTC.
func (e Epoch) Time() time.Time {
	return time.Unix(0, int64(e)).UTC()
}

// Before reports whether e precedes o.
func (e Epoch) Before(o Epoch) bool { return e < o }

func (e Epoch) String() string {
	return e.Time().Format(time.RFC3339Nano)
}
