// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStatusEncoding(t *testing.T) {
	s := Status{
		UUID:  "abc",
		State: StatusWorking,
		Name:  "Import: {}",
		Time:  time.Unix(1700000000, 0),
		Num:   3,
		Total: 4,
		Fields: map[string]interface{}{
			"file": "users.csv",
		},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed with %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed with %v", err)
	}
	if have, want := m["time"], float64(1700000000); have != want {
		t.Fatalf("time = %v, want %v", have, want)
	}
	if have, want := m["file"], "users.csv"; have != want {
		t.Fatalf("file = %v, want %v", have, want)
	}
	if have, want := m["status"], "working"; have != want {
		t.Fatalf("status = %v, want %v", have, want)
	}

	var d Status
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("Unmarshal failed with %v", err)
	}
	if have, want := d.Pct(), 75; have != want {
		t.Fatalf("Pct = %v, want %v", have, want)
	}
	if have, want := d.Fields, s.Fields; !reflect.DeepEqual(have, want) {
		t.Fatalf("Fields = %v, want %v", have, want)
	}
}

func TestStatusPct(t *testing.T) {
	tests := []struct {
		Status Status
		Want   int
	}{
		{Status{State: StatusWorking}, 0},
		{Status{State: StatusWorking, Num: 1, Total: 3}, 33},
		{Status{State: StatusCompleted, Num: 1, Total: 3}, 100},
	}
	for _, tt := range tests {
		if have, want := tt.Status.Pct(), tt.Want; have != want {
			t.Errorf("Pct(%+v) = %v, want %v", tt.Status, have, want)
		}
	}
}

func TestStatusesCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewStatuses(NewInMemoryStore(), DefaultConfig())
	id, err := s.Create(ctx, "Import", map[string]interface{}{"file": "a.csv", "status": "ignored"})
	if err != nil {
		t.Fatalf("Create failed with %v", err)
	}
	if have, want := len(id), 32; have != want {
		t.Fatalf("len(uuid) = %v, want %v", have, want)
	}
	status, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if have, want := status.State, StatusQueued; have != want {
		t.Fatalf("State = %v, want %v", have, want)
	}
	if have, want := status.Fields["file"], "a.csv"; have != want {
		t.Fatalf("Fields[file] = %v, want %v", have, want)
	}
	if _, err := s.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestStatusesReverseChronological(t *testing.T) {
	ctx := context.Background()
	s := NewStatuses(NewInMemoryStore(), DefaultConfig())
	// All created within the same microsecond.
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Create(ctx, "Job", nil)
		if err != nil {
			t.Fatalf("Create failed with %v", err)
		}
		ids = append(ids, id)
	}

	all, err := s.IDs(ctx, 0, 0)
	if err != nil {
		t.Fatalf("IDs failed with %v", err)
	}
	if have, want := all, []string{ids[4], ids[3], ids[2], ids[1], ids[0]}; !reflect.DeepEqual(have, want) {
		t.Fatalf("IDs = %v, want %v", have, want)
	}
	page, err := s.IDs(ctx, 1, 3)
	if err != nil {
		t.Fatalf("IDs failed with %v", err)
	}
	if have, want := page, []string{ids[3], ids[2]}; !reflect.DeepEqual(have, want) {
		t.Fatalf("IDs(1, 3) = %v, want %v", have, want)
	}
	list, err := s.List(ctx, 0, 2)
	if err != nil {
		t.Fatalf("List failed with %v", err)
	}
	if have, want := len(list), 2; have != want {
		t.Fatalf("len(List) = %v, want %v", have, want)
	}
	if have, want := list[0].UUID, ids[4]; have != want {
		t.Fatalf("List[0] = %v, want %v", have, want)
	}
	n, _ := s.Count(ctx)
	if have, want := n, int64(5); have != want {
		t.Fatalf("Count = %v, want %v", have, want)
	}
}

func TestStatusesRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	s := NewStatuses(st, DefaultConfig())
	id, _ := s.Create(ctx, "Job", nil)
	s.IncrCounter(ctx, "processed", id)
	s.Kill(ctx, id)

	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, id); err != nil {
			t.Fatalf("Remove #%d failed with %v", i+1, err)
		}
	}
	if _, err := s.Get(ctx, id); !IsNotFound(err) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
	keys, _ := st.Keys(ctx, "*"+id)
	if have, want := len(keys), 0; have != want {
		t.Fatalf("keys = %v, want none", keys)
	}
	kills, _ := s.KillRequests(ctx)
	if have, want := len(kills), 0; have != want {
		t.Fatalf("KillRequests = %v, want none", kills)
	}
	if err := s.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove failed with %v", err)
	}
}

func TestStatusesConcurrentIncrCounter(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.StatusExpiry = time.Hour
	s := NewStatuses(NewInMemoryStore(), cfg)
	id, _ := s.Create(ctx, "Job", nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrCounter(ctx, "processed", id); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	v, err := s.Counter(ctx, "processed", id)
	if err != nil {
		t.Fatalf("Counter failed with %v", err)
	}
	if have, want := v, int64(n); have != want {
		t.Fatalf("Counter = %v, want %v", have, want)
	}
}

func TestStatusesClear(t *testing.T) {
	ctx := context.Background()
	s := NewStatuses(NewInMemoryStore(), DefaultConfig())
	var ids []string
	for i := 0; i < 4; i++ {
		id, _ := s.Create(ctx, "Job", nil)
		ids = append(ids, id)
	}
	s.Update(ctx, ids[0], func(st *Status) { st.State = StatusCompleted })
	s.Update(ctx, ids[1], func(st *Status) { st.State = StatusFailed })

	n, err := s.ClearByState(ctx, StatusCompleted)
	if err != nil {
		t.Fatalf("ClearByState failed with %v", err)
	}
	if have, want := n, 1; have != want {
		t.Fatalf("ClearByState = %v, want %v", have, want)
	}
	// Newest first: ids[3] is cleared.
	n, err = s.Clear(ctx, 0, 1)
	if err != nil {
		t.Fatalf("Clear failed with %v", err)
	}
	if have, want := n, 1; have != want {
		t.Fatalf("Clear = %v, want %v", have, want)
	}
	rest, _ := s.IDs(ctx, 0, 0)
	if have, want := rest, []string{ids[2], ids[1]}; !reflect.DeepEqual(have, want) {
		t.Fatalf("IDs = %v, want %v", have, want)
	}
	n, _ = s.Clear(ctx, 0, 0)
	if have, want := n, 2; have != want {
		t.Fatalf("Clear = %v, want %v", have, want)
	}
}

func TestStatusesEnqueueWithStatus(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	cfg := DefaultConfig()
	s := NewStatuses(st, cfg)

	id, err := s.EnqueueWithStatus(ctx, "imports", "Import", map[string]interface{}{"file": "a.csv"})
	if err != nil {
		t.Fatalf("EnqueueWithStatus failed with %v", err)
	}
	status, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed with %v", err)
	}
	if have, want := status.Name, `Import: {"file":"a.csv"}`; have != want {
		t.Fatalf("Name = %q, want %q", have, want)
	}
	jobs, err := NewQueues(st, cfg).Peek(ctx, "imports", 0, 1)
	if err != nil {
		t.Fatalf("Peek failed with %v", err)
	}
	if have, want := len(jobs), 1; have != want {
		t.Fatalf("len(jobs) = %v, want %v", have, want)
	}
	want := NewEnvelope("Import", id, map[string]interface{}{"file": "a.csv"})
	if !jobs[0].Envelope.Equal(want) {
		t.Fatalf("Envelope = %+v, want %+v", jobs[0].Envelope, want)
	}

	// A job that cannot be enqueued leaves no status behind.
	_, err = s.EnqueueWithStatus(ctx, "", "Import", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("EnqueueWithStatus = %v, want ValidationError", err)
	}
	n, _ := s.Count(ctx)
	if have, want := n, int64(1); have != want {
		t.Fatalf("Count = %v, want %v", have, want)
	}
}

func TestStatusesEnqueueChained(t *testing.T) {
	ctx := context.Background()
	s := NewStatuses(NewInMemoryStore(), DefaultConfig())
	parent, _ := s.EnqueueWithStatus(ctx, "imports", "Import", nil)

	id, err := s.EnqueueChained(ctx, "imports", "ImportPart", map[string]interface{}{"uuid": parent})
	if err != nil {
		t.Fatalf("EnqueueChained failed with %v", err)
	}
	if have, want := id, parent; have != want {
		t.Fatalf("uuid = %q, want %q", have, want)
	}
	if _, err := s.EnqueueChained(ctx, "imports", "ImportPart", nil); err == nil {
		t.Fatal("expected EnqueueChained to fail without uuid")
	}
	// A failed chained enqueue keeps the parent status.
	if _, err := s.EnqueueChained(ctx, "", "ImportPart", map[string]interface{}{"uuid": parent}); err == nil {
		t.Fatal("expected EnqueueChained to fail without queue")
	}
	if _, err := s.Get(ctx, parent); err != nil {
		t.Fatalf("Get failed with %v", err)
	}
}

func TestStatusesKilled(t *testing.T) {
	ctx := context.Background()
	s := NewStatuses(NewInMemoryStore(), DefaultConfig())
	id, _ := s.Create(ctx, "Job", nil)
	s.Kill(ctx, id)
	kill, err := s.ShouldKill(ctx, id)
	if err != nil {
		t.Fatalf("ShouldKill failed with %v", err)
	}
	if !kill {
		t.Fatal("ShouldKill = false, want true")
	}
	if err := s.Killed(ctx, id); err != nil {
		t.Fatalf("Killed failed with %v", err)
	}
	status, _ := s.Get(ctx, id)
	if have, want := status.State, StatusKilled; have != want {
		t.Fatalf("State = %v, want %v", have, want)
	}
	if !strings.HasPrefix(status.Message, "Killed at ") {
		t.Fatalf("Message = %q", status.Message)
	}
	if kill, _ := s.ShouldKill(ctx, id); kill {
		t.Fatal("kill request survived Killed")
	}
}
