// SPDX-License-Identifier: MIT

package epoch

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
