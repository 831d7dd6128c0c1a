// SPDX-License-Identifier: MIT

package epoch

import (
	"sort"

	"github.com/rtnav/rtnavd/internal/gnss"
)

// bucket accumulates everything received for one epoch while it is open.
type bucket struct {
	epoch       gnss.Epoch
	sats        map[gnss.SatID]gnss.Measurement
	corrections map[string]gnss.CorrectionRecord
}

func newBucket(e gnss.Epoch) *bucket {
	return &bucket{
		epoch:       e,
		sats:        make(map[gnss.SatID]gnss.Measurement, 16),
		corrections: make(map[string]gnss.CorrectionRecord, 2),
	}
}

// merge folds a measurement set into the bucket. Later records overwrite
// per satellite, they never duplicate.
func (b *bucket) merge(sats map[gnss.SatID]gnss.Measurement) {
	for sat, m := range sats {
		b.sats[sat] = m
	}
}

// hasAll reports whether the bucket holds a correction from every listed
// station.
func (b *bucket) hasAll(stations []string) bool {
	for _, id := range stations {
		if _, ok := b.corrections[id]; !ok {
			return false
		}
	}
	return true
}

// missing returns the listed stations without a correction in the bucket.
func (b *bucket) missing(stations []string) []string {
	var out []string
	for _, id := range stations {
		if _, ok := b.corrections[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// bundle freezes the bucket into an immutable aligned bundle carrying the
// given navigation snapshot.
func (b *bucket) bundle(nav gnss.NavSnapshot) gnss.AlignedBundle {
	corr := make([]gnss.CorrectionRecord, 0, len(b.corrections))
	for _, rec := range b.corrections {
		corr = append(corr, rec)
	}
	sort.Slice(corr, func(i, j int) bool { return corr[i].StationID < corr[j].StationID })

	return gnss.AlignedBundle{
		Epoch:       b.epoch,
		Sats:        b.sats,
		Nav:         nav,
		Corrections: corr,
	}
}
