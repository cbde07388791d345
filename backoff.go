// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import "time"

// BackoffFunc returns how long a worker sleeps after the given number of
// consecutive failed reservations. See SetWorkerBackoff.
type BackoffFunc func(attempts int) time.Duration

const (
	minReserveBackoff = 100 * time.Millisecond
	maxReserveBackoff = 30 * time.Second
)

// reserveBackoff doubles the wait with every attempt, starting at
// minReserveBackoff and capped at maxReserveBackoff.
func reserveBackoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := minReserveBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxReserveBackoff {
			return maxReserveBackoff
		}
	}
	return d
}
