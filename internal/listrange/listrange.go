// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package listrange normalizes Redis LRANGE/ZRANGE style indices.
package listrange

// Bounds converts the inclusive, possibly negative range [start, stop]
// over a sequence of length n into a half-open slice range [lo, hi).
// It returns ok == false if the range is empty.
func Bounds(start, stop int64, n int) (lo, hi int, ok bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}
