// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"time"
)

// Store is the key-value backend all durable state lives in. It exposes
// ordered lists, sets, sorted sets, and scalar keys with the semantics of
// the corresponding Redis commands. Keys of different kinds share one key
// space: Delete, Exists, and Keys apply to all of them.
//
// Lookup misses must be reported as ErrNotFound, connectivity problems
// must wrap ErrStoreUnavailable.
type Store interface {
	// Push appends values to the tail of the list at key.
	Push(ctx context.Context, key string, values ...string) error
	// Pop removes and returns the head of the list at key. It returns
	// ErrNotFound if the list is empty.
	Pop(ctx context.Context, key string) (string, error)
	// ListRange returns the elements in the inclusive range [start, stop].
	// Negative indices count from the tail.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ListLen returns the length of the list at key.
	ListLen(ctx context.Context, key string) (int64, error)
	// ListRemove removes up to count occurrences of value, scanning from
	// the head if count > 0, from the tail if count < 0, and removing all
	// occurrences if count == 0. It returns the number removed.
	ListRemove(ctx context.Context, key string, count int64, value string) (int64, error)
	// ListSet overwrites the element at index. It returns ErrNotFound if
	// the index is out of range.
	ListSet(ctx context.Context, key string, index int64, value string) error

	// SetAdd adds members to the set at key.
	SetAdd(ctx context.Context, key string, members ...string) error
	// SetRemove removes members from the set at key.
	SetRemove(ctx context.Context, key string, members ...string) error
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// SetIsMember reports whether member is in the set at key.
	SetIsMember(ctx context.Context, key, member string) (bool, error)

	// SortedAdd adds member with score, or updates its score.
	SortedAdd(ctx context.Context, key string, score float64, member string) error
	// SortedRemove removes members from the sorted set at key.
	SortedRemove(ctx context.Context, key string, members ...string) error
	// SortedRange returns members ordered by ascending score in the
	// inclusive range [start, stop]. Negative indices count from the end.
	SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// SortedLen returns the number of members of the sorted set at key.
	SortedLen(ctx context.Context, key string) (int64, error)

	// Get returns the value at key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A positive ttl expires the key after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys of any kind. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Exists reports whether a key of any kind exists.
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments the integer at key and returns the new
	// value. Missing keys start at 0.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a time to live on key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys returns all keys matching the glob pattern ('*' and '?').
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// ListRewriter is implemented by stores that can replace a list
// atomically with respect to concurrent writers. fn receives the current
// elements and returns the elements to keep. fn may be called more than
// once if a concurrent modification forces a retry, so it must not have
// side effects beyond its return value.
type ListRewriter interface {
	RewriteList(ctx context.Context, key string, fn func(items []string) ([]string, error)) error
}

// ClearMode describes how the failure log removes records.
type ClearMode int

const (
	// ClearAuto picks ClearAtomic if the store supports it, otherwise
	// ClearBestEffort.
	ClearAuto ClearMode = iota
	// ClearBestEffort reads the whole list, deletes it, and pushes back
	// the records to keep. A record appended while this happens can be
	// lost or reordered.
	ClearBestEffort
	// ClearAtomic uses the store's ListRewriter so that concurrent
	// appends are never lost.
	ClearAtomic
)

func (m ClearMode) String() string {
	switch m {
	case ClearBestEffort:
		return "best-effort"
	case ClearAtomic:
		return "atomic"
	default:
		return "auto"
	}
}
