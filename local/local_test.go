// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package local

import (
	"context"
	"errors"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/olivere/jobconsole"
)

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}

type sentSignal struct {
	PID    int
	Signal os.Signal
}

type recorder struct {
	mu       sync.Mutex
	signals  []sentSignal
	commands []string
	envs     [][]string
}

func (r *recorder) signal(pid int, sig os.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sentSignal{PID: pid, Signal: sig})
	return nil
}

func (r *recorder) start(command string, env []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) options() []Option {
	return []Option{
		SetHostname("worker1"),
		SetLogger(nopLogger{}),
		SetSignaller(r.signal),
		SetStarter(r.start),
	}
}

func TestParsePIDs(t *testing.T) {
	pids, err := parsePIDs([]byte("    1\n  234\n\n 5678\n"))
	if err != nil {
		t.Fatalf("parsePIDs failed with %v", err)
	}
	if have, want := pids, []int{1, 234, 5678}; !reflect.DeepEqual(have, want) {
		t.Fatalf("parsePIDs = %v, want %v", have, want)
	}
	if _, err := parsePIDs([]byte("  PID\n  1\n")); err == nil {
		t.Fatal("expected an error for a header line")
	}
}

func TestSignalControl(t *testing.T) {
	ctx := context.Background()
	r := &recorder{}
	c := NewSignalControl(jobconsole.DefaultConfig(), r.options()...)
	id := jobconsole.WorkerID{Host: "worker1", IP: "10.0.0.5", PID: 4711, Thread: "1", Queues: []string{"mail"}}

	if err := c.Pause(ctx, id); err != nil {
		t.Fatalf("Pause failed with %v", err)
	}
	if err := c.Continue(ctx, id); err != nil {
		t.Fatalf("Continue failed with %v", err)
	}
	if err := c.Quit(ctx, id); err != nil {
		t.Fatalf("Quit failed with %v", err)
	}
	want := []sentSignal{
		{PID: 4711, Signal: sigPause},
		{PID: 4711, Signal: sigContinue},
		{PID: 4711, Signal: sigQuit},
	}
	if have := r.signals; !reflect.DeepEqual(have, want) {
		t.Fatalf("signals = %v, want %v", have, want)
	}

	remote := jobconsole.WorkerID{Host: "worker2", IP: "10.0.0.6", PID: 1}
	if err := c.Quit(ctx, remote); !errors.Is(err, jobconsole.ErrNoController) {
		t.Fatalf("Quit on remote host: err = %v, want %v", err, jobconsole.ErrNoController)
	}
	if have, want := len(r.signals), 3; have != want {
		t.Fatalf("len(signals) = %d, want %d", have, want)
	}
}

func TestSignalControlStart(t *testing.T) {
	ctx := context.Background()
	r := &recorder{}
	req := jobconsole.StartRequest{Hosts: []string{"worker1"}, Path: "/srv/app", Queues: "high,low#mail"}

	c := NewSignalControl(jobconsole.DefaultConfig(), r.options()...)
	if err := c.Start(ctx, req); !errors.Is(err, jobconsole.ErrNoController) {
		t.Fatalf("Start without command: err = %v, want %v", err, jobconsole.ErrNoController)
	}

	cfg := jobconsole.DefaultConfig()
	cfg.WorkerCommand = "jobconsole work"
	c = NewSignalControl(cfg, r.options()...)
	if err := c.Start(ctx, req); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	if have, want := r.commands, []string{"jobconsole work"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("commands = %v, want %v", have, want)
	}
	if have, want := r.envs[0], []string{"QUEUES=high,low#mail", "JOBCONSOLE_WORKER_PATH=/srv/app"}; !reflect.DeepEqual(have, want) {
		t.Fatalf("env = %v, want %v", have, want)
	}

	req.Hosts = []string{"worker7"}
	if err := c.Start(ctx, req); !errors.Is(err, jobconsole.ErrNoController) {
		t.Fatalf("Start on remote host: err = %v, want %v", err, jobconsole.ErrNoController)
	}
}

func TestRestartWithoutWorkerCommand(t *testing.T) {
	ctx := context.Background()
	r := &recorder{}
	c := jobconsole.New(
		jobconsole.SetLogger(nopLogger{}),
		jobconsole.SetWorkerControl(NewSignalControl(jobconsole.DefaultConfig(), r.options()...)),
	)
	id := jobconsole.WorkerID{Host: "worker1", PID: 42, Thread: "1", Path: "/srv/app", Queues: []string{"mail"}}
	if err := c.Workers().Register(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := c.RestartWorker(ctx, id.String()); !errors.Is(err, jobconsole.ErrNoController) {
		t.Fatalf("RestartWorker = %v, want %v", err, jobconsole.ErrNoController)
	}
	if have, want := len(r.signals), 0; have != want {
		t.Fatalf("len(signals) = %d, want %d", have, want)
	}
}

func TestCommandScheduler(t *testing.T) {
	ctx := context.Background()
	st := jobconsole.NewInMemoryStore()
	cfg := jobconsole.DefaultConfig()
	cfg.SchedulerCommand = "jobconsole cron"
	r := &recorder{}
	c := NewCommandScheduler(st, cfg, r.options()...)

	if err := c.Start(ctx, "worker1"); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	if have, want := r.envs, [][]string{{"JOBCONSOLE_HOSTNAME=worker1"}}; !reflect.DeepEqual(have, want) {
		t.Fatalf("env = %v, want %v", have, want)
	}

	// A running process is not started twice.
	ctl := jobconsole.NewStoreSchedulerControl(st, cfg)
	if _, _, err := ctl.Heartbeat(ctx, "worker1", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx, "worker1"); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	if have, want := len(r.commands), 1; have != want {
		t.Fatalf("len(commands) = %d, want %d", have, want)
	}

	// Stop and Restart go through the store.
	if err := c.Stop(ctx, "worker1"); err != nil {
		t.Fatal(err)
	}
	quit, _, err := ctl.Heartbeat(ctx, "worker1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !quit {
		t.Fatal("expected a quit request")
	}

	var _ jobconsole.SchedulerControl = c
}
