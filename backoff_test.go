// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"testing"
	"time"
)

func TestReserveBackoff(t *testing.T) {
	tests := []struct {
		Attempts int
		Expected time.Duration
	}{
		{-1, 0},
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{9, 25600 * time.Millisecond},
		{10, maxReserveBackoff},
		{100, maxReserveBackoff},
	}
	for _, test := range tests {
		if have, want := reserveBackoff(test.Attempts), test.Expected; have != want {
			t.Fatalf("reserveBackoff(%d) = %v, want %v", test.Attempts, have, want)
		}
	}
}
