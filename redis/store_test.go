// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/olivere/jobconsole"
	"github.com/olivere/jobconsole/internal/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := NewStore("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewStore failed with %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, mr
}

func TestStore(t *testing.T) {
	var mr *miniredis.Miniredis
	storetest.Run(t, func(t *testing.T) jobconsole.Store {
		var st *Store
		st, mr = newTestStore(t)
		return st
	}, storetest.Options{
		Advance: func(d time.Duration) { mr.FastForward(d) },
	})
}

func TestStoreImplementsListRewriter(t *testing.T) {
	st, _ := newTestStore(t)
	var _ jobconsole.ListRewriter = st
	if have, want := jobconsole.NewFailureLog(st, jobconsole.DefaultConfig(), nil).Mode(), jobconsole.ClearAtomic; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
}

func TestStoreRewriteListUnderConcurrentPush(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	other := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer other.Close()

	if err := st.Push(ctx, "resque:failed", "a", "b", "c"); err != nil {
		t.Fatalf("Push failed with %v", err)
	}
	var once sync.Once
	err := st.RewriteList(ctx, "resque:failed", func(items []string) ([]string, error) {
		// Someone records a failure between read and write.
		once.Do(func() { other.RPush(ctx, "resque:failed", "d") })
		var keep []string
		for _, v := range items {
			if v != "b" {
				keep = append(keep, v)
			}
		}
		return keep, nil
	})
	if err != nil {
		t.Fatalf("RewriteList failed with %v", err)
	}
	all, err := st.ListRange(ctx, "resque:failed", 0, -1)
	if err != nil {
		t.Fatalf("ListRange failed with %v", err)
	}
	if have, want := len(all), 3; have != want {
		t.Fatalf("len = %v, want %v: %v", have, want, all)
	}
	if have, want := all[2], "d"; have != want {
		t.Fatalf("last = %q, want %q", have, want)
	}
}

func TestStorePingUnavailable(t *testing.T) {
	st, mr := newTestStore(t)
	mr.Close()
	if err := st.Ping(context.Background()); !jobconsole.IsStoreUnavailable(err) {
		t.Fatalf("Ping = %v, want ErrStoreUnavailable", err)
	}
}

func TestConsoleOverRedis(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	c := jobconsole.New(jobconsole.SetStore(st))
	if err := c.Enqueue(ctx, "mail", "SendEmail", 1); err != nil {
		t.Fatalf("Enqueue failed with %v", err)
	}
	err := c.Failures().Record(ctx, jobconsole.Failure{Payload: jobconsole.NewEnvelope("SendEmail", 2), Queue: "mail"})
	if err != nil {
		t.Fatalf("Record failed with %v", err)
	}
	n, err := c.RequeueFailures(ctx, jobconsole.FailureFilter{})
	if err != nil {
		t.Fatalf("RequeueFailures failed with %v", err)
	}
	if have, want := n, 1; have != want {
		t.Fatalf("RequeueFailures = %v, want %v", have, want)
	}
	info, err := c.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed with %v", err)
	}
	if have, want := info.Pending, int64(2); have != want {
		t.Fatalf("Pending = %v, want %v", have, want)
	}
}

func TestStoreExpireKeepsMilliseconds(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	if _, err := st.Incr(ctx, "resque:processed:abc"); err != nil {
		t.Fatal(err)
	}
	if err := st.Expire(ctx, "resque:processed:abc", 250*time.Millisecond); err != nil {
		t.Fatalf("Expire failed with %v", err)
	}
	if have, want := mr.TTL("resque:processed:abc"), 250*time.Millisecond; have != want {
		t.Fatalf("TTL = %v, want %v", have, want)
	}
	mr.FastForward(300 * time.Millisecond)
	if ok, err := st.Exists(ctx, "resque:processed:abc"); err != nil || ok {
		t.Fatalf("Exists after expiry = %v, %v; want false, nil", ok, err)
	}
}
