// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type downStore struct {
	Store
}

func (downStore) Ping(ctx context.Context) error {
	return errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

// recordingWorkerControl records the worker requests it receives.
type recordingWorkerControl struct {
	calls  []string
	starts []StartRequest
}

func (c *recordingWorkerControl) Quit(ctx context.Context, id WorkerID) error {
	c.calls = append(c.calls, "quit "+id.String())
	return nil
}

func (c *recordingWorkerControl) Pause(ctx context.Context, id WorkerID) error {
	c.calls = append(c.calls, "pause "+id.String())
	return nil
}

func (c *recordingWorkerControl) Continue(ctx context.Context, id WorkerID) error {
	c.calls = append(c.calls, "continue "+id.String())
	return nil
}

func (c *recordingWorkerControl) Start(ctx context.Context, req StartRequest) error {
	c.starts = append(c.starts, req)
	return nil
}

func TestConsoleDefaults(t *testing.T) {
	c := New()
	if c.Store() == nil {
		t.Fatal("Store is nil")
	}
	if have, want := c.Failures().Mode(), ClearAtomic; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
	if err := c.CheckConnection(context.Background()); err != nil {
		t.Fatalf("CheckConnection failed with %v", err)
	}
	if err := c.StartWorker(context.Background(), StartRequest{Queues: "a"}); !errors.Is(err, ErrNoController) {
		t.Fatalf("StartWorker = %v, want %v", err, ErrNoController)
	}
}

func TestConsoleSetClearMode(t *testing.T) {
	c := New(SetClearMode(ClearBestEffort))
	if have, want := c.Failures().Mode(), ClearBestEffort; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
}

func TestConsoleCheckConnection(t *testing.T) {
	c := New(SetStore(downStore{NewInMemoryStore()}))
	err := c.CheckConnection(context.Background())
	if !IsStoreUnavailable(err) {
		t.Fatalf("CheckConnection = %v, want ErrStoreUnavailable", err)
	}
}

// TestConsoleSendEmail enqueues and dequeues jobs like an operator would.
func TestConsoleSendEmail(t *testing.T) {
	ctx := context.Background()
	c := New(SetLogger(&stringLogger{}))
	for _, id := range []int{1, 2, 1} {
		if err := c.Enqueue(ctx, "mail", "SendEmail", id); err != nil {
			t.Fatalf("Enqueue failed with %v", err)
		}
	}
	sizes, err := c.QueueSizes(ctx)
	if err != nil {
		t.Fatalf("QueueSizes failed with %v", err)
	}
	if have, want := sizes, []QueueInfo{{Name: "mail", Size: 3}}; !reflect.DeepEqual(have, want) {
		t.Fatalf("QueueSizes = %v, want %v", have, want)
	}

	n, err := c.Dequeue(ctx, "mail", "SendEmail", 1)
	if err != nil {
		t.Fatalf("Dequeue failed with %v", err)
	}
	if have, want := n, 2; have != want {
		t.Fatalf("Dequeue = %v, want %v", have, want)
	}
	jobs, _ := c.Queues().Peek(ctx, "mail", 0, 10)
	if have, want := len(jobs), 1; have != want {
		t.Fatalf("len(jobs) = %v, want %v", have, want)
	}
	if err := c.RemoveJob(ctx, "mail", 0, jobs[0].Fingerprint); err != nil {
		t.Fatalf("RemoveJob failed with %v", err)
	}
	info, err := c.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed with %v", err)
	}
	if have, want := info.Pending, int64(0); have != want {
		t.Fatalf("Pending = %v, want %v", have, want)
	}
	if have, want := info.Queues, 1; have != want {
		t.Fatalf("Queues = %v, want %v", have, want)
	}
}

func TestConsoleOverview(t *testing.T) {
	ctx := context.Background()
	c := New()
	c.Enqueue(ctx, "a", "Job")
	id := WorkerID{Host: "box", IP: "10.0.0.1", PID: 1, Thread: "1", Path: "/app", Queues: []string{"a"}}
	c.Workers().Register(ctx, id)
	c.Workers().SetWorking(ctx, id, "a", NewEnvelope("Job"))
	c.Failures().Record(ctx, Failure{Payload: NewEnvelope("Job"), Exception: "E", Queue: "a"})
	c.Statuses().Create(ctx, "Job", nil)

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed with %v", err)
	}
	if have, want := ov.Info.Working, 1; have != want {
		t.Fatalf("Working = %v, want %v", have, want)
	}
	if have, want := len(ov.Working), 1; have != want {
		t.Fatalf("len(Working) = %v, want %v", have, want)
	}
	if have, want := ov.Failures, int64(1); have != want {
		t.Fatalf("Failures = %v, want %v", have, want)
	}
	if have, want := len(ov.Statuses), 1; have != want {
		t.Fatalf("len(Statuses) = %v, want %v", have, want)
	}
	if have, want := len(ov.Queues), 1; have != want {
		t.Fatalf("len(Queues) = %v, want %v", have, want)
	}
}

func TestNormalizeWorkerName(t *testing.T) {
	tests := []struct {
		In, Want string
	}{
		{"box(10_0_0_1):42:1:/srv/my_app:mail", "box(10.0.0.1):42:1:/srv/my_app:mail"},
		{"my_box(10.0.0.1):42:1:/app:a", "my_box(10.0.0.1):42:1:/app:a"},
		{"box:42:1:/app:a", "box:42:1:/app:a"},
		{"box", "box"},
	}
	for _, tt := range tests {
		if have, want := normalizeWorkerName(tt.In), tt.Want; have != want {
			t.Errorf("normalizeWorkerName(%q) = %q, want %q", tt.In, have, want)
		}
	}
}

func TestConsoleWorkerCommands(t *testing.T) {
	ctx := context.Background()
	wc := &recordingWorkerControl{}
	c := New(SetWorkerControl(wc))
	t1 := WorkerID{Host: "box", IP: "10.0.0.1", PID: 42, Thread: "1", Path: "/srv/app", Queues: []string{"high", "low"}}
	t2 := WorkerID{Host: "box", IP: "10.0.0.1", PID: 42, Thread: "2", Path: "/srv/app", Queues: []string{"mail"}}
	c.Workers().Register(ctx, t1)
	c.Workers().Register(ctx, t2)

	urlName := "box(10_0_0_1):42:1:/srv/app:high,low"
	state, err := c.FindWorker(ctx, urlName)
	if err != nil {
		t.Fatalf("FindWorker failed with %v", err)
	}
	if have, want := state.Name, t1.String(); have != want {
		t.Fatalf("Name = %q, want %q", have, want)
	}
	if err := c.PauseWorker(ctx, urlName); err != nil {
		t.Fatalf("PauseWorker failed with %v", err)
	}
	if err := c.ContinueWorker(ctx, urlName); err != nil {
		t.Fatalf("ContinueWorker failed with %v", err)
	}
	if err := c.RestartWorker(ctx, urlName); err != nil {
		t.Fatalf("RestartWorker failed with %v", err)
	}
	want := []string{"pause " + t1.String(), "continue " + t1.String(), "quit " + t1.String()}
	if have := wc.calls; !reflect.DeepEqual(have, want) {
		t.Fatalf("calls = %v, want %v", have, want)
	}
	wantStart := []StartRequest{{Hosts: []string{"10.0.0.1"}, Path: "/srv/app", Queues: "high,low#mail"}}
	if have := wc.starts; !reflect.DeepEqual(have, wantStart) {
		t.Fatalf("starts = %+v, want %+v", have, wantStart)
	}

	if err := c.QuitWorker(ctx, "gone(10.0.0.9):1:1:/app:a"); !IsNotFound(err) {
		t.Fatalf("QuitWorker = %v, want ErrNotFound", err)
	}
}

func TestConsoleKillStatus(t *testing.T) {
	ctx := context.Background()
	c := New()
	id, _ := c.Statuses().Create(ctx, "Job", nil)
	if err := c.KillStatus(ctx, id); err != nil {
		t.Fatalf("KillStatus failed with %v", err)
	}
	status, _ := c.Status(ctx, id)
	if have, want := status.State, StatusKilled; have != want {
		t.Fatalf("State = %v, want %v", have, want)
	}
	if kill, _ := c.Statuses().ShouldKill(ctx, id); !kill {
		t.Fatal("ShouldKill = false, want true")
	}

	done, _ := c.Statuses().Create(ctx, "Job", nil)
	c.Statuses().Update(ctx, done, func(s *Status) { s.State = StatusCompleted })
	if err := c.KillStatus(ctx, done); err != nil {
		t.Fatalf("KillStatus failed with %v", err)
	}
	status, _ = c.Status(ctx, done)
	if have, want := status.State, StatusCompleted; have != want {
		t.Fatalf("State = %v, want %v", have, want)
	}
	if err := c.KillStatus(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("KillStatus = %v, want ErrNotFound", err)
	}

	n, err := c.ClearStatuses(ctx, StatusKilled)
	if err != nil {
		t.Fatalf("ClearStatuses failed with %v", err)
	}
	if have, want := n, 1; have != want {
		t.Fatalf("ClearStatuses = %v, want %v", have, want)
	}
	if err := c.RemoveStatus(ctx, done); err != nil {
		t.Fatalf("RemoveStatus failed with %v", err)
	}
	if err := c.RemoveStatus(ctx, done); err != nil {
		t.Fatalf("RemoveStatus failed with %v", err)
	}
	n, _ = c.ClearStatuses(ctx)
	if have, want := n, 0; have != want {
		t.Fatalf("ClearStatuses = %v, want %v", have, want)
	}
}

func TestConsoleFailureCommands(t *testing.T) {
	ctx := context.Background()
	c := New()
	for i := 0; i < 3; i++ {
		c.Failures().Record(ctx, Failure{Payload: NewEnvelope("SendEmail", i), Exception: "Net::Timeout", Queue: "mail"})
	}
	n, err := c.RequeueFailures(ctx, FailureFilter{Class: "SendEmail"})
	if err != nil {
		t.Fatalf("RequeueFailures failed with %v", err)
	}
	if have, want := n, 3; have != want {
		t.Fatalf("RequeueFailures = %v, want %v", have, want)
	}
	n, _ = c.RequeueFailures(ctx, FailureFilter{Class: "SendEmail"})
	if have, want := n, 0; have != want {
		t.Fatalf("second RequeueFailures = %v, want %v", have, want)
	}
	info, _ := c.Info(ctx)
	if have, want := info.Pending, int64(3); have != want {
		t.Fatalf("Pending = %v, want %v", have, want)
	}
}

func TestConsoleScheduleCommands(t *testing.T) {
	ctx := context.Background()
	c := New(SetLogger(&stringLogger{}))
	if err := c.AddScheduleEntry(ctx, nightlyReport()); err != nil {
		t.Fatalf("AddScheduleEntry failed with %v", err)
	}
	if err := c.AddScheduleEntry(ctx, nightlyReport()); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("AddScheduleEntry = %v, want %v", err, ErrDuplicateName)
	}
	if err := c.TriggerScheduleEntry(ctx, "nightly_report"); err != nil {
		t.Fatalf("TriggerScheduleEntry failed with %v", err)
	}
	if err := c.StopScheduler(ctx, "10.0.0.5"); err != nil {
		t.Fatalf("StopScheduler failed with %v", err)
	}
	status, err := c.FarmStatus(ctx)
	if err != nil {
		t.Fatalf("FarmStatus failed with %v", err)
	}
	if have, want := status["10.0.0.5"], SchedulerStopped; have != want {
		t.Fatalf("FarmStatus = %v, want %v", have, want)
	}
	removed, err := c.RemoveScheduleEntry(ctx, "nightly_report", "10.0.0.5")
	if err != nil {
		t.Fatalf("RemoveScheduleEntry failed with %v", err)
	}
	if !removed {
		t.Fatal("removed = false, want true")
	}
}

func TestConsoleRemoveStatusLeavesOtherKeys(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	c := New(SetStore(st))
	if err := c.Enqueue(ctx, "emails", "SendEmail", "a@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := c.Failures().Record(ctx, Failure{Payload: NewEnvelope("SendEmail"), Exception: "Net::Timeout", Queue: "emails"}); err != nil {
		t.Fatal(err)
	}
	id, err := c.Statuses().Create(ctx, "Job", nil)
	if err != nil {
		t.Fatal(err)
	}
	st.Set(ctx, "resque:stat:processed:1", "7", 0)
	before, _ := st.Keys(ctx, "*")

	for _, bad := range []string{"*", "?", "1", "status:*", "*" + id[len(id)-4:]} {
		if err := c.RemoveStatus(ctx, bad); err != nil {
			t.Fatalf("RemoveStatus(%q) failed with %v", bad, err)
		}
	}
	after, _ := st.Keys(ctx, "*")
	if have, want := len(after), len(before); have != want {
		t.Fatalf("keys = %v, want %v", after, before)
	}
	if n, _ := c.Queues().Size(ctx, "emails"); n != 1 {
		t.Fatalf("Size = %d, want 1", n)
	}
	if n, _ := c.Failures().Count(ctx); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
	if _, err := c.Status(ctx, id); err != nil {
		t.Fatalf("Status failed with %v", err)
	}
}

func TestConsoleRestartWorkerWithoutStarter(t *testing.T) {
	ctx := context.Background()
	c := New()
	id := WorkerID{Host: "box", IP: "10.0.0.1", PID: 42, Thread: "1", Path: "/srv/app", Queues: []string{"mail"}}
	if err := c.Workers().Register(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := c.RestartWorker(ctx, id.String()); !errors.Is(err, ErrNoController) {
		t.Fatalf("RestartWorker = %v, want %v", err, ErrNoController)
	}
	quit, err := c.Workers().QuitRequested(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if quit {
		t.Fatal("QuitRequested = true, want false")
	}
}
