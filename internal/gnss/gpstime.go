// SPDX-License-Identifier: MIT

package gnss

import "time"

// TimeFromWeekTow converts a GPS week number and time-of-week to an absolute
// instant on the GPS time scale.
func TimeFromWeekTow(week int64, tow time.Duration) time.Time {
	return gpsEpoch.Add(time.Duration(week)*secondsPerWeek*time.Second + tow)
}

// ResolveTow converts a bare time-of-week to the absolute instant nearest to
// ref. Correction streams carry only the time-of-week; the week is implied
// by the receiver operating in the present.
func ResolveTow(ref time.Time, tow time.Duration) time.Time {
	week := gpsWeekOf(ref)
	t := TimeFromWeekTow(week, tow)

	const halfWeek = secondsPerWeek * time.Second / 2
	switch {
	case t.Sub(ref) > halfWeek:
		return TimeFromWeekTow(week-1, tow)
	case ref.Sub(t) > halfWeek:
		return TimeFromWeekTow(week+1, tow)
	default:
		return t
	}
}
