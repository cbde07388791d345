// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package mongodb keeps jobconsole state in MongoDB, one document per key.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/internal/keyglob"
	"github.com/olivere/jobconsole/internal/listrange"
	"github.com/olivere/jobconsole/internal/retry"
)

const (
	// socketTimeout should be long enough that even a slow mongo server
	// will respond in that length of time. Since mongo servers ping themselves
	// every 10 seconds, we use a value just over 2 ping periods to allow
	// for delayed pings due to issues such as CPU starvation etc.
	socketTimeout = 21 * time.Second

	// dialTimeout should be representative of the upper bound of the
	// time taken to dial a mongo server from within the same cloud/private
	// network.
	dialTimeout = 30 * time.Second

	// defaultCollectionName is the name of the collection in MongoDB.
	// It can be overridden by SetCollectionName.
	defaultCollectionName = "jobconsole_keys"

	kindString = "string"
	kindList   = "list"
	kindSet    = "set"
	kindSorted = "zset"
)

var (
	// ErrWrongKind is returned when an operation is applied to a key that
	// holds a different kind of value.
	ErrWrongKind = errors.New("mongodb: operation against a key holding the wrong kind of value")

	errConflict = errors.New("mongodb: concurrent modification")
)

// Store represents a MongoDB-based storage backend.
// It implements the jobconsole.Store and jobconsole.ListRewriter
// interfaces.
type Store struct {
	session        *mgo.Session
	db             *mgo.Database
	coll           *mgo.Collection
	collectionName string
	now            func() time.Time
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetCollectionName overrides the default collection name.
func SetCollectionName(collectionName string) StoreOption {
	return func(s *Store) {
		s.collectionName = collectionName
	}
}

// SetClock overrides the clock used for key expiry.
func SetClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new MongoDB-based storage backend.
func NewStore(mongodbURL string, options ...StoreOption) (*Store, error) {
	st := &Store{
		collectionName: defaultCollectionName,
		now:            time.Now,
	}
	for _, opt := range options {
		opt(st)
	}

	uri, err := url.Parse(mongodbURL)
	if err != nil {
		return nil, err
	}
	if uri.Path == "" || uri.Path == "/" {
		return nil, errors.New("mongodb: database missing in URL")
	}
	dbname := uri.Path[1:]

	st.session, err = mgo.DialWithTimeout(mongodbURL, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobconsole.ErrStoreUnavailable, err)
	}

	st.session.SetMode(mgo.Monotonic, true)
	st.session.SetSocketTimeout(socketTimeout)

	st.db = st.session.DB(dbname)
	st.coll = st.db.C(st.collectionName)

	if err := st.coll.EnsureIndexKey("kind"); err != nil {
		return nil, wrapError(err)
	}
	if err := st.coll.EnsureIndexKey("expires"); err != nil {
		return nil, wrapError(err)
	}
	return st, nil
}

// Close the MongoDB store.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if err == mgo.ErrNotFound {
		return jobconsole.ErrNotFound
	}
	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", jobconsole.ErrStoreUnavailable, err)
	}
	return err
}

// -- MongoDB-internal representation of a key --

type entry struct {
	Key     string   `bson:"_id"`
	Kind    string   `bson:"kind"`
	Value   string   `bson:"value,omitempty"`
	List    []string `bson:"list,omitempty"`
	Members []string `bson:"members,omitempty"`
	Sorted  []scored `bson:"sorted,omitempty"`
	Expires int64    `bson:"expires,omitempty"`
	Rev     int64    `bson:"rev"`
}

type scored struct {
	Member string  `bson:"m"`
	Score  float64 `bson:"s"`
}

func (e *entry) empty() bool {
	switch e.Kind {
	case kindList:
		return len(e.List) == 0
	case kindSet:
		return len(e.Members) == 0
	case kindSorted:
		return len(e.Sorted) == 0
	}
	return false
}

// purge removes key if it has expired.
func (s *Store) purge(key string) error {
	err := s.coll.Remove(bson.M{"_id": key, "expires": bson.M{"$gt": 0, "$lte": s.now().UnixNano()}})
	if err == mgo.ErrNotFound {
		return nil
	}
	return err
}

// load returns the live entry at key or nil.
func (s *Store) load(key string) (*entry, error) {
	if err := s.purge(key); err != nil {
		return nil, err
	}
	var e entry
	err := s.coll.FindId(key).One(&e)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) loadKind(key, kind string) (*entry, error) {
	e, err := s.load(key)
	if err != nil || e == nil {
		return nil, err
	}
	if e.Kind != kind {
		return nil, ErrWrongKind
	}
	return e, nil
}

// upsert applies update to the entry of the given kind, creating it if
// needed. A key of another kind fails the insert with a duplicate key.
func (s *Store) upsert(key, kind string, update bson.M) error {
	if err := s.purge(key); err != nil {
		return wrapError(err)
	}
	update["$inc"] = bson.M{"rev": 1}
	_, err := s.coll.Upsert(bson.M{"_id": key, "kind": kind}, update)
	if mgo.IsDup(err) {
		return ErrWrongKind
	}
	return wrapError(err)
}

// dropIfEmpty removes a container that has no elements left.
func (s *Store) dropIfEmpty(key, kind, field string) error {
	err := s.coll.Remove(bson.M{"_id": key, "kind": kind, field: bson.M{"$size": 0}})
	if err == mgo.ErrNotFound {
		return nil
	}
	return wrapError(err)
}

func conflictBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// modify loads key, lets fn compute the replacement, and writes it back
// only if the revision did not change in the meantime. fn receives nil
// for missing keys and may return nil to delete the key.
func (s *Store) modify(ctx context.Context, key string, fn func(e *entry) (*entry, error)) error {
	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		cur, err := s.load(key)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		switch {
		case cur == nil && (next == nil || next.empty()):
			return nil
		case cur == nil:
			next.Key, next.Rev = key, 1
			err = s.coll.Insert(next)
			if mgo.IsDup(err) {
				return errConflict
			}
			return err
		case next == nil || next.empty():
			err = s.coll.Remove(bson.M{"_id": key, "rev": cur.Rev})
		default:
			next.Key, next.Rev = key, cur.Rev+1
			err = s.coll.Update(bson.M{"_id": key, "rev": cur.Rev}, next)
		}
		if err == mgo.ErrNotFound {
			return errConflict
		}
		return err
	}, func(err error) bool {
		return err == errConflict
	})
	return wrapError(err)
}

func (s *Store) Push(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.upsert(key, kindList, bson.M{"$push": bson.M{"list": bson.M{"$each": values}}})
}

func (s *Store) Pop(ctx context.Context, key string) (string, error) {
	if err := s.purge(key); err != nil {
		return "", wrapError(err)
	}
	var old entry
	change := mgo.Change{
		Update: bson.M{"$pop": bson.M{"list": -1}, "$inc": bson.M{"rev": 1}},
	}
	_, err := s.coll.Find(bson.M{"_id": key, "kind": kindList, "list.0": bson.M{"$exists": true}}).Apply(change, &old)
	if err != nil {
		return "", wrapError(err)
	}
	if err := s.dropIfEmpty(key, kindList, "list"); err != nil {
		return "", err
	}
	return old.List[0], nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	e, err := s.loadKind(key, kindList)
	if err != nil || e == nil {
		return nil, wrapError(err)
	}
	lo, hi, ok := listrange.Bounds(start, stop, len(e.List))
	if !ok {
		return nil, nil
	}
	return e.List[lo:hi], nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	e, err := s.loadKind(key, kindList)
	if err != nil || e == nil {
		return 0, wrapError(err)
	}
	return int64(len(e.List)), nil
}

func (s *Store) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	var removed int64
	err := s.modify(ctx, key, func(e *entry) (*entry, error) {
		removed = 0
		if e == nil {
			return nil, nil
		}
		if e.Kind != kindList {
			return nil, ErrWrongKind
		}
		next := *e
		next.List = removeValue(e.List, count, value, &removed)
		return &next, nil
	})
	return removed, err
}

func removeValue(list []string, count int64, value string, removed *int64) []string {
	keep := make([]string, len(list))
	copy(keep, list)
	limit := count
	if limit < 0 {
		limit = -limit
	}
	drop := func(i int) bool {
		if keep[i] != value || (limit > 0 && *removed >= limit) {
			return false
		}
		*removed++
		return true
	}
	var out []string
	if count >= 0 {
		for i := range keep {
			if !drop(i) {
				out = append(out, keep[i])
			}
		}
		return out
	}
	marked := make([]bool, len(keep))
	for i := len(keep) - 1; i >= 0; i-- {
		marked[i] = drop(i)
	}
	for i, v := range keep {
		if !marked[i] {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) ListSet(ctx context.Context, key string, index int64, value string) error {
	return s.modify(ctx, key, func(e *entry) (*entry, error) {
		if e == nil {
			return nil, jobconsole.ErrNotFound
		}
		if e.Kind != kindList {
			return nil, ErrWrongKind
		}
		n := int64(len(e.List))
		i := index
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, jobconsole.ErrNotFound
		}
		next := *e
		next.List = append([]string(nil), e.List...)
		next.List[i] = value
		return &next, nil
	})
}

// RewriteList replaces the list at key with the result of fn. Concurrent
// pushes bump the revision, so fn is run again on the new contents.
func (s *Store) RewriteList(ctx context.Context, key string, fn func(items []string) ([]string, error)) error {
	return s.modify(ctx, key, func(e *entry) (*entry, error) {
		var items []string
		if e != nil {
			if e.Kind != kindList {
				return nil, ErrWrongKind
			}
			items = append(items, e.List...)
		}
		keep, err := fn(items)
		if err != nil {
			return nil, err
		}
		next := &entry{Kind: kindList, List: keep}
		if e != nil {
			next.Expires = e.Expires
		}
		return next, nil
	})
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.upsert(key, kindSet, bson.M{"$addToSet": bson.M{"members": bson.M{"$each": members}}})
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	err := s.coll.Update(
		bson.M{"_id": key, "kind": kindSet},
		bson.M{"$pull": bson.M{"members": bson.M{"$in": members}}, "$inc": bson.M{"rev": 1}},
	)
	if err == mgo.ErrNotFound {
		return nil
	}
	if err != nil {
		return wrapError(err)
	}
	return s.dropIfEmpty(key, kindSet, "members")
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	e, err := s.loadKind(key, kindSet)
	if err != nil || e == nil {
		return nil, wrapError(err)
	}
	return e.Members, nil
}

func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	e, err := s.loadKind(key, kindSet)
	if err != nil || e == nil {
		return false, wrapError(err)
	}
	for _, m := range e.Members {
		if m == member {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	return s.modify(ctx, key, func(e *entry) (*entry, error) {
		if e == nil {
			return &entry{Kind: kindSorted, Sorted: []scored{{Member: member, Score: score}}}, nil
		}
		if e.Kind != kindSorted {
			return nil, ErrWrongKind
		}
		next := *e
		next.Sorted = append([]scored(nil), e.Sorted...)
		for i := range next.Sorted {
			if next.Sorted[i].Member == member {
				next.Sorted[i].Score = score
				return &next, nil
			}
		}
		next.Sorted = append(next.Sorted, scored{Member: member, Score: score})
		return &next, nil
	})
}

func (s *Store) SortedRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	err := s.coll.Update(
		bson.M{"_id": key, "kind": kindSorted},
		bson.M{"$pull": bson.M{"sorted": bson.M{"m": bson.M{"$in": members}}}, "$inc": bson.M{"rev": 1}},
	)
	if err == mgo.ErrNotFound {
		return nil
	}
	if err != nil {
		return wrapError(err)
	}
	return s.dropIfEmpty(key, kindSorted, "sorted")
}

func (s *Store) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	e, err := s.loadKind(key, kindSorted)
	if err != nil || e == nil {
		return nil, wrapError(err)
	}
	sort.Slice(e.Sorted, func(i, j int) bool {
		a, b := e.Sorted[i], e.Sorted[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Member < b.Member
	})
	lo, hi, ok := listrange.Bounds(start, stop, len(e.Sorted))
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, hi-lo)
	for _, m := range e.Sorted[lo:hi] {
		out = append(out, m.Member)
	}
	return out, nil
}

func (s *Store) SortedLen(ctx context.Context, key string) (int64, error) {
	e, err := s.loadKind(key, kindSorted)
	if err != nil || e == nil {
		return 0, wrapError(err)
	}
	return int64(len(e.Sorted)), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	e, err := s.loadKind(key, kindString)
	if err != nil {
		return "", wrapError(err)
	}
	if e == nil {
		return "", jobconsole.ErrNotFound
	}
	return e.Value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := entry{Key: key, Kind: kindString, Value: value}
	if ttl > 0 {
		e.Expires = s.now().Add(ttl).UnixNano()
	}
	_, err := s.coll.UpsertId(key, &e)
	return wrapError(err)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.coll.RemoveAll(bson.M{"_id": bson.M{"$in": keys}})
	return wrapError(err)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	e, err := s.load(key)
	if err != nil {
		return false, wrapError(err)
	}
	return e != nil, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.modify(ctx, key, func(e *entry) (*entry, error) {
		if e == nil {
			n = 1
			return &entry{Kind: kindString, Value: "1"}, nil
		}
		if e.Kind != kindString {
			return nil, ErrWrongKind
		}
		cur, err := strconv.ParseInt(e.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mongodb: value at %s is not an integer", key)
		}
		n = cur + 1
		next := *e
		next.Value = strconv.FormatInt(n, 10)
		return &next, nil
	})
	return n, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.purge(key); err != nil {
		return wrapError(err)
	}
	var err error
	if ttl <= 0 {
		err = s.coll.RemoveId(key)
	} else {
		err = s.coll.UpdateId(key, bson.M{"$set": bson.M{"expires": s.now().Add(ttl).UnixNano()}})
	}
	if err == mgo.ErrNotFound {
		return nil
	}
	return wrapError(err)
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var list []entry
	err := s.coll.Find(bson.M{"_id": bson.RegEx{Pattern: keyglob.Regexp(pattern), Options: "s"}}).
		Select(bson.M{"_id": 1, "expires": 1}).
		All(&list)
	if err != nil {
		return nil, wrapError(err)
	}
	now := s.now().UnixNano()
	var keys []string
	for _, e := range list {
		if e.Expires > 0 && e.Expires <= now {
			continue
		}
		keys = append(keys, e.Key)
	}
	return keys, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.session.Ping(); err != nil {
		return fmt.Errorf("%w: %v", jobconsole.ErrStoreUnavailable, err)
	}
	return nil
}
