// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StartRequest describes worker processes to start.
type StartRequest struct {
	Hosts []string // hosts to start the process on; empty means local
	Path  string   // application path of the worker
	// Queues is the queue specification: threads separated by '#',
	// queues of a thread by ','.
	Queues string
}

// WorkerControl carries administrative requests to worker processes.
// Quit must let the current job finish.
type WorkerControl interface {
	Quit(ctx context.Context, id WorkerID) error
	Pause(ctx context.Context, id WorkerID) error
	Continue(ctx context.Context, id WorkerID) error
	Start(ctx context.Context, req StartRequest) error
}

// SchedulerControl starts and stops the cron process on a host.
type SchedulerControl interface {
	Start(ctx context.Context, host string) error
	Stop(ctx context.Context, host string) error
	IsRunning(ctx context.Context, host string) (bool, error)
}

// startChecker is implemented by worker controls that can tell in advance
// whether Start would be able to serve req.
type startChecker interface {
	CanStart(req StartRequest) error
}

// schedulerRestarter is implemented by controls that can restart the
// cron process in place.
type schedulerRestarter interface {
	Restart(ctx context.Context, host string) error
}

// StoreWorkerControl signals workers through the store: the pause key
// and the quit key are observed by the worker loop. It cannot start
// processes.
type StoreWorkerControl struct {
	workers *Workers
}

// NewStoreWorkerControl returns the store based worker control.
func NewStoreWorkerControl(st Store, cfg Config) *StoreWorkerControl {
	return &StoreWorkerControl{workers: NewWorkers(st, cfg)}
}

// Quit sets the quit key of every thread in the process of id.
func (c *StoreWorkerControl) Quit(ctx context.Context, id WorkerID) error {
	threads, err := c.workers.InPID(ctx, id)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		threads = []WorkerID{id}
	}
	for _, t := range threads {
		if err := c.workers.RequestQuit(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Pause sets the pause key of the process of id.
func (c *StoreWorkerControl) Pause(ctx context.Context, id WorkerID) error {
	return c.workers.Pause(ctx, id)
}

// Continue removes the pause key of the process of id.
func (c *StoreWorkerControl) Continue(ctx context.Context, id WorkerID) error {
	return c.workers.Continue(ctx, id)
}

// Start returns ErrNoController.
func (c *StoreWorkerControl) Start(ctx context.Context, req StartRequest) error {
	return c.CanStart(req)
}

// CanStart returns ErrNoController.
func (c *StoreWorkerControl) CanStart(req StartRequest) error {
	return ErrNoController
}

// StoreSchedulerControl talks to cron processes through the store.
// Running processes keep a heartbeat key alive and watch for stop and
// reload requests. It cannot start processes.
type StoreSchedulerControl struct {
	st   Store
	keys keyspace
}

// NewStoreSchedulerControl returns the store based scheduler control.
func NewStoreSchedulerControl(st Store, cfg Config) *StoreSchedulerControl {
	return &StoreSchedulerControl{st: st, keys: newKeyspace(cfg.Namespace)}
}

// Start returns ErrNoController.
func (c *StoreSchedulerControl) Start(ctx context.Context, host string) error {
	return ErrNoController
}

// Stop asks the cron process on host to exit.
func (c *StoreSchedulerControl) Stop(ctx context.Context, host string) error {
	if err := c.st.Set(ctx, c.keys.scheduler(host, "quit"), time.Now().UTC().Format(time.RFC3339), time.Hour); err != nil {
		return fmt.Errorf("jobconsole: stop scheduler on %s: %w", host, err)
	}
	return nil
}

// Restart asks the cron process on host to reload the schedule.
func (c *StoreSchedulerControl) Restart(ctx context.Context, host string) error {
	if err := c.st.Set(ctx, c.keys.scheduler(host, "reload"), time.Now().UTC().Format(time.RFC3339), time.Hour); err != nil {
		return fmt.Errorf("jobconsole: restart scheduler on %s: %w", host, err)
	}
	return nil
}

// IsRunning reports whether the heartbeat of host is alive.
func (c *StoreSchedulerControl) IsRunning(ctx context.Context, host string) (bool, error) {
	ok, err := c.st.Exists(ctx, c.keys.scheduler(host, "heartbeat"))
	if err != nil {
		return false, fmt.Errorf("jobconsole: scheduler status of %s: %w", host, err)
	}
	return ok, nil
}

// Heartbeat is called by a running cron process. It returns the pending
// requests and clears them.
func (c *StoreSchedulerControl) Heartbeat(ctx context.Context, host string, ttl time.Duration) (quit, reload bool, err error) {
	if err := c.st.Set(ctx, c.keys.scheduler(host, "heartbeat"), time.Now().UTC().Format(time.RFC3339), ttl); err != nil {
		return false, false, fmt.Errorf("jobconsole: scheduler heartbeat: %w", err)
	}
	if quit, err = c.consume(ctx, c.keys.scheduler(host, "quit")); err != nil {
		return false, false, err
	}
	if reload, err = c.consume(ctx, c.keys.scheduler(host, "reload")); err != nil {
		return quit, false, err
	}
	return quit, reload, nil
}

// Stopped removes the heartbeat of host.
func (c *StoreSchedulerControl) Stopped(ctx context.Context, host string) error {
	return c.st.Delete(ctx, c.keys.scheduler(host, "heartbeat"))
}

func (c *StoreSchedulerControl) consume(ctx context.Context, key string) (bool, error) {
	_, err := c.st.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobconsole: scheduler request: %w", err)
	}
	if err := c.st.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("jobconsole: scheduler request: %w", err)
	}
	return true, nil
}
