// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package keyglob implements the subset of Redis KEYS patterns used by
// jobconsole: '*' matches any sequence (including ':' and '/'),
// '?' matches a single character, everything else is literal.
package keyglob

import (
	"regexp"
	"strings"
)

// Match reports whether key matches pattern.
func Match(pattern, key string) bool {
	return matchRunes([]rune(pattern), []rune(key))
}

func matchRunes(p, s []rune) bool {
	// Iterative matcher with single-star backtracking.
	var pi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// Regexp returns an anchored regular expression equivalent to pattern.
func Regexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// Like returns a SQL LIKE expression that selects a superset of the keys
// matched by pattern. Literal '%' and '_' are escaped with esc, which must
// be passed to the ESCAPE clause of the query.
func Like(pattern string, esc rune) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		case '%', '_', esc:
			b.WriteRune(esc)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
