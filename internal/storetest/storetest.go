// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package storetest contains the conformance tests every
// jobconsole.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/olivere/jobconsole"
)

// Options tune the suite for a backend.
type Options struct {
	// Advance lets time pass for expiry tests. It defaults to time.Sleep.
	Advance func(time.Duration)
}

// Run executes the conformance suite. newStore must return an empty store
// for every call.
func Run(t *testing.T, newStore func(t *testing.T) jobconsole.Store, opts Options) {
	if opts.Advance == nil {
		opts.Advance = time.Sleep
	}
	tests := []struct {
		Name string
		Fn   func(*testing.T, jobconsole.Store, Options)
	}{
		{"Lists", testLists},
		{"ListRemove", testListRemove},
		{"ListSet", testListSet},
		{"Sets", testSets},
		{"SortedSets", testSortedSets},
		{"Values", testValues},
		{"Incr", testIncr},
		{"ConcurrentIncr", testConcurrentIncr},
		{"Expire", testExpire},
		{"DeleteAndExists", testDeleteAndExists},
		{"Keys", testKeys},
		{"RewriteList", testRewriteList},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.Name, func(t *testing.T) {
			tt.Fn(t, newStore(t), opts)
		})
	}
}

func testLists(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if err := st.Push(ctx, "l", "a", "b", "c"); err != nil {
		t.Fatal(err)
	}
	if err := st.Push(ctx, "l", "d"); err != nil {
		t.Fatal(err)
	}
	n, err := st.ListLen(ctx, "l")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(4); have != want {
		t.Fatalf("ListLen = %d, want %d", have, want)
	}
	all, err := st.ListRange(ctx, "l", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := all, []string{"a", "b", "c", "d"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("ListRange(0, -1) = %v, want %v", have, want)
	}
	part, err := st.ListRange(ctx, "l", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := part, []string{"b", "c"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("ListRange(1, 2) = %v, want %v", have, want)
	}
	tail, err := st.ListRange(ctx, "l", -2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := tail, []string{"c", "d"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("ListRange(-2, 100) = %v, want %v", have, want)
	}
	empty, err := st.ListRange(ctx, "l", 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("ListRange(10, 20) = %v, want empty", empty)
	}

	for _, want := range []string{"a", "b", "c", "d"} {
		have, err := st.Pop(ctx, "l")
		if err != nil {
			t.Fatal(err)
		}
		if have != want {
			t.Fatalf("Pop = %q, want %q", have, want)
		}
	}
	if _, err := st.Pop(ctx, "l"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("Pop on empty list: err = %v, want %v", err, jobconsole.ErrNotFound)
	}
	if ok, err := st.Exists(ctx, "l"); err != nil || ok {
		t.Fatalf("Exists on drained list = %v, %v; want false, nil", ok, err)
	}
	if n, err := st.ListLen(ctx, "missing"); err != nil || n != 0 {
		t.Fatalf("ListLen(missing) = %d, %v; want 0, nil", n, err)
	}
}

func testListRemove(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if err := st.Push(ctx, "l", "x", "a", "x", "b", "x"); err != nil {
		t.Fatal(err)
	}
	n, err := st.ListRemove(ctx, "l", 1, "x")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(1); have != want {
		t.Fatalf("ListRemove(1) = %d, want %d", have, want)
	}
	all, _ := st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"a", "x", "b", "x"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after ListRemove(1): %v, want %v", have, want)
	}
	n, err = st.ListRemove(ctx, "l", -1, "x")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(1); have != want {
		t.Fatalf("ListRemove(-1) = %d, want %d", have, want)
	}
	all, _ = st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"a", "x", "b"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after ListRemove(-1): %v, want %v", have, want)
	}
	if err := st.Push(ctx, "l", "x"); err != nil {
		t.Fatal(err)
	}
	n, err = st.ListRemove(ctx, "l", 0, "x")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(2); have != want {
		t.Fatalf("ListRemove(0) = %d, want %d", have, want)
	}
	n, err = st.ListRemove(ctx, "l", 0, "x")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(0); have != want {
		t.Fatalf("second ListRemove(0) = %d, want %d", have, want)
	}
	all, _ = st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"a", "b"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after ListRemove(0): %v, want %v", have, want)
	}
}

func testListSet(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if err := st.Push(ctx, "l", "a", "b", "c"); err != nil {
		t.Fatal(err)
	}
	if err := st.ListSet(ctx, "l", 1, "B"); err != nil {
		t.Fatal(err)
	}
	if err := st.ListSet(ctx, "l", -1, "C"); err != nil {
		t.Fatal(err)
	}
	all, _ := st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"a", "B", "C"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after ListSet: %v, want %v", have, want)
	}
	if err := st.ListSet(ctx, "l", 3, "z"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("ListSet out of range: err = %v, want %v", err, jobconsole.ErrNotFound)
	}
	if err := st.ListSet(ctx, "missing", 0, "z"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("ListSet on missing list: err = %v, want %v", err, jobconsole.ErrNotFound)
	}
}

func testSets(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if err := st.SetAdd(ctx, "s", "b", "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAdd(ctx, "s", "c"); err != nil {
		t.Fatal(err)
	}
	members, err := st.SetMembers(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(members)
	if have, want := members, []string{"a", "b", "c"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("SetMembers = %v, want %v", have, want)
	}
	ok, err := st.SetIsMember(ctx, "s", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("SetIsMember(b) = false, want true")
	}
	if err := st.SetRemove(ctx, "s", "b", "nope"); err != nil {
		t.Fatal(err)
	}
	ok, err = st.SetIsMember(ctx, "s", "b")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("SetIsMember(b) after SetRemove = true, want false")
	}
	if err := st.SetRemove(ctx, "s", "a", "c"); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.Exists(ctx, "s"); err != nil || ok {
		t.Fatalf("Exists on emptied set = %v, %v; want false, nil", ok, err)
	}
	members, err = st.SetMembers(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("SetMembers(missing) = %v, want empty", members)
	}
}

func testSortedSets(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	for i, m := range []string{"first", "second", "third", "fourth"} {
		if err := st.SortedAdd(ctx, "z", float64(i+1), m); err != nil {
			t.Fatal(err)
		}
	}
	n, err := st.SortedLen(ctx, "z")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(4); have != want {
		t.Fatalf("SortedLen = %d, want %d", have, want)
	}
	all, err := st.SortedRange(ctx, "z", 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := all, []string{"first", "second", "third", "fourth"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("SortedRange(0, -1) = %v, want %v", have, want)
	}
	last, err := st.SortedRange(ctx, "z", -2, -1)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := last, []string{"third", "fourth"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("SortedRange(-2, -1) = %v, want %v", have, want)
	}
	// Updating the score moves the member.
	if err := st.SortedAdd(ctx, "z", 10, "first"); err != nil {
		t.Fatal(err)
	}
	all, _ = st.SortedRange(ctx, "z", 0, -1)
	if have, want := all, []string{"second", "third", "fourth", "first"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("SortedRange after rescoring = %v, want %v", have, want)
	}
	if err := st.SortedRemove(ctx, "z", "third", "nope"); err != nil {
		t.Fatal(err)
	}
	n, _ = st.SortedLen(ctx, "z")
	if have, want := n, int64(3); have != want {
		t.Fatalf("SortedLen after SortedRemove = %d, want %d", have, want)
	}
	if err := st.SortedRemove(ctx, "z", "first", "second", "fourth"); err != nil {
		t.Fatal(err)
	}
	if ok, err := st.Exists(ctx, "z"); err != nil || ok {
		t.Fatalf("Exists on emptied sorted set = %v, %v; want false, nil", ok, err)
	}
}

func testValues(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if _, err := st.Get(ctx, "k"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("Get(missing): err = %v, want %v", err, jobconsole.ErrNotFound)
	}
	if err := st.Set(ctx, "k", "v1", 0); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "k", "v2", 0); err != nil {
		t.Fatal(err)
	}
	v, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := v, "v2"; have != want {
		t.Fatalf("Get = %q, want %q", have, want)
	}
	if err := st.Set(ctx, "json", `{"a":"b:c"}`, 0); err != nil {
		t.Fatal(err)
	}
	v, err = st.Get(ctx, "json")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := v, `{"a":"b:c"}`; have != want {
		t.Fatalf("Get = %q, want %q", have, want)
	}
}

func testIncr(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		n, err := st.Incr(ctx, "c")
		if err != nil {
			t.Fatal(err)
		}
		if have, want := n, i; have != want {
			t.Fatalf("Incr = %d, want %d", have, want)
		}
	}
	v, err := st.Get(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := v, "3"; have != want {
		t.Fatalf("Get = %q, want %q", have, want)
	}
}

func testConcurrentIncr(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	errc := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Incr(ctx, "c"); err != nil {
				errc <- err
			}
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatal(err)
	}
	v, err := st.Get(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := v, fmt.Sprint(n); have != want {
		t.Fatalf("counter = %s, want %s", have, want)
	}
}

func testExpire(t *testing.T, st jobconsole.Store, opts Options) {
	ctx := context.Background()
	if err := st.Set(ctx, "short", "v", 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "long", "v", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Incr(ctx, "counter"); err != nil {
		t.Fatal(err)
	}
	if err := st.Expire(ctx, "counter", 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := st.Expire(ctx, "missing", time.Second); err != nil {
		t.Fatalf("Expire(missing) = %v, want nil", err)
	}
	if ok, err := st.Exists(ctx, "short"); err != nil || !ok {
		t.Fatalf("Exists(short) before expiry = %v, %v; want true, nil", ok, err)
	}
	opts.Advance(500 * time.Millisecond)
	if _, err := st.Get(ctx, "short"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("Get(short) after expiry: err = %v, want %v", err, jobconsole.ErrNotFound)
	}
	if _, err := st.Get(ctx, "counter"); !errors.Is(err, jobconsole.ErrNotFound) {
		t.Fatalf("Get(counter) after expiry: err = %v, want %v", err, jobconsole.ErrNotFound)
	}
	if v, err := st.Get(ctx, "long"); err != nil || v != "v" {
		t.Fatalf("Get(long) = %q, %v; want %q, nil", v, err, "v")
	}
	// An expired counter starts over.
	n, err := st.Incr(ctx, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := n, int64(1); have != want {
		t.Fatalf("Incr after expiry = %d, want %d", have, want)
	}
}

func testDeleteAndExists(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	if err := st.Set(ctx, "v", "1", 0); err != nil {
		t.Fatal(err)
	}
	if err := st.Push(ctx, "l", "1"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAdd(ctx, "s", "1"); err != nil {
		t.Fatal(err)
	}
	if err := st.SortedAdd(ctx, "z", 1, "1"); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"v", "l", "s", "z"} {
		if ok, err := st.Exists(ctx, k); err != nil || !ok {
			t.Fatalf("Exists(%s) = %v, %v; want true, nil", k, ok, err)
		}
	}
	if err := st.Delete(ctx, "v", "l", "s", "z", "missing"); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"v", "l", "s", "z"} {
		if ok, err := st.Exists(ctx, k); err != nil || ok {
			t.Fatalf("Exists(%s) after Delete = %v, %v; want false, nil", k, ok, err)
		}
	}
	if err := st.Delete(ctx); err != nil {
		t.Fatalf("Delete() = %v, want nil", err)
	}
}

func testKeys(t *testing.T, st jobconsole.Store, _ Options) {
	ctx := context.Background()
	const uuid = "0f9e1c2b3a"
	if err := st.Set(ctx, "resque:status:"+uuid, "{}", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Incr(ctx, "resque:rows:"+uuid); err != nil {
		t.Fatal(err)
	}
	if err := st.Push(ctx, "resque:list:"+uuid, "x"); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "resque:status:other", "{}", 0); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(ctx, "resque:100%_done", "{}", 0); err != nil {
		t.Fatal(err)
	}
	keys, err := st.Keys(ctx, "resque:*"+uuid)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	want := []string{"resque:list:" + uuid, "resque:rows:" + uuid, "resque:status:" + uuid}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	keys, err = st.Keys(ctx, "resque:status:?????")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := keys, []string{"resque:status:other"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("Keys(?) = %v, want %v", have, want)
	}
	keys, err = st.Keys(ctx, "resque:100%*")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := keys, []string{"resque:100%_done"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("Keys(%%) = %v, want %v", have, want)
	}
	keys, err = st.Keys(ctx, "nothing:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("Keys(nothing:*) = %v, want empty", keys)
	}
}

func testRewriteList(t *testing.T, st jobconsole.Store, _ Options) {
	rw, ok := st.(jobconsole.ListRewriter)
	if !ok {
		t.Skip("store does not implement ListRewriter")
	}
	ctx := context.Background()
	if err := st.Push(ctx, "l", "1", "2", "3", "4"); err != nil {
		t.Fatal(err)
	}
	err := rw.RewriteList(ctx, "l", func(items []string) ([]string, error) {
		var keep []string
		for _, v := range items {
			if v != "2" && v != "4" {
				keep = append(keep, v)
			}
		}
		return keep, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	all, _ := st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"1", "3"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after RewriteList: %v, want %v", have, want)
	}

	boom := errors.New("boom")
	err = rw.RewriteList(ctx, "l", func(items []string) ([]string, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RewriteList err = %v, want %v", err, boom)
	}
	all, _ = st.ListRange(ctx, "l", 0, -1)
	if have, want := all, []string{"1", "3"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("after failed RewriteList: %v, want %v", have, want)
	}

	err = rw.RewriteList(ctx, "l", func(items []string) ([]string, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := st.Exists(ctx, "l"); err != nil || ok {
		t.Fatalf("Exists after emptying RewriteList = %v, %v; want false, nil", ok, err)
	}
}

func testPing(t *testing.T, st jobconsole.Store, _ Options) {
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping = %v, want nil", err)
	}
}
