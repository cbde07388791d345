// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/olivere/jobconsole/internal/keyglob"
	"github.com/olivere/jobconsole/internal/listrange"
)

// InMemoryStore is a simple in-memory store implementation.
// It implements the Store and ListRewriter interfaces. Do not use in
// production: state is neither durable nor shared between processes.
type InMemoryStore struct {
	mu      sync.Mutex
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	values  map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// expire removes key if its time to live has passed. mu must be held.
func (st *InMemoryStore) expire(key string) {
	if at, ok := st.expires[key]; ok && !st.now().Before(at) {
		st.del(key)
	}
}

func (st *InMemoryStore) del(key string) {
	delete(st.lists, key)
	delete(st.sets, key)
	delete(st.zsets, key)
	delete(st.values, key)
	delete(st.expires, key)
}

func (st *InMemoryStore) exists(key string) bool {
	st.expire(key)
	if _, ok := st.lists[key]; ok {
		return true
	}
	if _, ok := st.sets[key]; ok {
		return true
	}
	if _, ok := st.zsets[key]; ok {
		return true
	}
	_, ok := st.values[key]
	return ok
}

// Push appends values to the list at key.
func (st *InMemoryStore) Push(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	st.lists[key] = append(st.lists[key], values...)
	return nil
}

// Pop removes the head of the list at key.
func (st *InMemoryStore) Pop(ctx context.Context, key string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	l := st.lists[key]
	if len(l) == 0 {
		return "", ErrNotFound
	}
	v := l[0]
	st.setList(key, l[1:])
	return v, nil
}

// setList stores l at key, removing the key if l is empty.
func (st *InMemoryStore) setList(key string, l []string) {
	if len(l) == 0 {
		delete(st.lists, key)
		delete(st.expires, key)
		return
	}
	st.lists[key] = l
}

// ListRange returns the elements in [start, stop].
func (st *InMemoryStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	l := st.lists[key]
	lo, hi, ok := listrange.Bounds(start, stop, len(l))
	if !ok {
		return nil, nil
	}
	return append([]string(nil), l[lo:hi]...), nil
}

// ListLen returns the length of the list at key.
func (st *InMemoryStore) ListLen(ctx context.Context, key string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	return int64(len(st.lists[key])), nil
}

// ListRemove removes occurrences of value from the list at key.
func (st *InMemoryStore) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	l := st.lists[key]
	var removed int64
	limit := count
	if limit < 0 {
		limit = -limit
	}
	keep := make([]string, 0, len(l))
	if count >= 0 {
		for _, v := range l {
			if v == value && (limit == 0 || removed < limit) {
				removed++
				continue
			}
			keep = append(keep, v)
		}
	} else {
		for i := len(l) - 1; i >= 0; i-- {
			if l[i] == value && removed < limit {
				removed++
				continue
			}
			keep = append(keep, l[i])
		}
		for i, j := 0, len(keep)-1; i < j; i, j = i+1, j-1 {
			keep[i], keep[j] = keep[j], keep[i]
		}
	}
	st.setList(key, keep)
	return removed, nil
}

// ListSet overwrites the element at index.
func (st *InMemoryStore) ListSet(ctx context.Context, key string, index int64, value string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	l := st.lists[key]
	if index < 0 {
		index += int64(len(l))
	}
	if index < 0 || index >= int64(len(l)) {
		return ErrNotFound
	}
	l[index] = value
	return nil
}

// RewriteList replaces the list at key with the result of fn. It holds
// the store lock throughout, so no concurrent writer can interleave.
func (st *InMemoryStore) RewriteList(ctx context.Context, key string, fn func(items []string) ([]string, error)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	items, err := fn(append([]string(nil), st.lists[key]...))
	if err != nil {
		return err
	}
	st.setList(key, append([]string(nil), items...))
	return nil
}

// SetAdd adds members to the set at key.
func (st *InMemoryStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	s, ok := st.sets[key]
	if !ok {
		s = make(map[string]struct{})
		st.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

// SetRemove removes members from the set at key.
func (st *InMemoryStore) SetRemove(ctx context.Context, key string, members ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	s := st.sets[key]
	for _, m := range members {
		delete(s, m)
	}
	if s != nil && len(s) == 0 {
		st.del(key)
	}
	return nil
}

// SetMembers returns the members of the set at key in sorted order.
func (st *InMemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	var members []string
	for m := range st.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// SetIsMember reports whether member is in the set at key.
func (st *InMemoryStore) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	_, ok := st.sets[key][member]
	return ok, nil
}

// SortedAdd adds member to the sorted set at key.
func (st *InMemoryStore) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	z, ok := st.zsets[key]
	if !ok {
		z = make(map[string]float64)
		st.zsets[key] = z
	}
	z[member] = score
	return nil
}

// SortedRemove removes members from the sorted set at key.
func (st *InMemoryStore) SortedRemove(ctx context.Context, key string, members ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	z := st.zsets[key]
	for _, m := range members {
		delete(z, m)
	}
	if z != nil && len(z) == 0 {
		st.del(key)
	}
	return nil
}

// SortedRange returns members by ascending score, ties broken by member.
func (st *InMemoryStore) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	z := st.zsets[key]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	lo, hi, ok := listrange.Bounds(start, stop, len(members))
	if !ok {
		return nil, nil
	}
	return members[lo:hi], nil
}

// SortedLen returns the size of the sorted set at key.
func (st *InMemoryStore) SortedLen(ctx context.Context, key string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	return int64(len(st.zsets[key])), nil
}

// Get returns the value at key.
func (st *InMemoryStore) Get(ctx context.Context, key string) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	v, ok := st.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value at key.
func (st *InMemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.del(key)
	st.values[key] = value
	if ttl > 0 {
		st.expires[key] = st.now().Add(ttl)
	}
	return nil
}

// Delete removes keys.
func (st *InMemoryStore) Delete(ctx context.Context, keys ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, k := range keys {
		st.del(k)
	}
	return nil
}

// Exists reports whether key exists.
func (st *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exists(key), nil
}

// Incr increments the integer at key.
func (st *InMemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(key)
	var n int64
	if v, ok := st.values[key]; ok {
		var err error
		n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("jobconsole: value at %s is not an integer", key)
		}
	}
	n++
	st.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire sets a time to live on key.
func (st *InMemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.exists(key) {
		return nil
	}
	if ttl <= 0 {
		st.del(key)
		return nil
	}
	st.expires[key] = st.now().Add(ttl)
	return nil
}

// Keys returns the keys matching pattern in sorted order.
func (st *InMemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(k string) {
		if keyglob.Match(pattern, k) {
			seen[k] = struct{}{}
		}
	}
	for k := range st.lists {
		collect(k)
	}
	for k := range st.sets {
		collect(k)
	}
	for k := range st.zsets {
		collect(k)
	}
	for k := range st.values {
		collect(k)
	}
	var keys []string
	for k := range seen {
		if st.exists(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping always succeeds.
func (st *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}
