// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Console is the administration surface of the job system. It reads and
// writes all state through its Store and holds no state of its own.
// Create a new console via New.
type Console struct {
	logger    Logger
	st        Store
	cfg       Config
	resolver  Resolver
	wctl      WorkerControl
	sctl      SchedulerControl
	clearMode ClearMode

	queues   *Queues
	workers  *Workers
	failures *FailureLog
	statuses *Statuses
	schedule *Schedule
	stats    stats
}

// New creates a new console. Pass options to configure it.
func New(options ...ConsoleOption) *Console {
	c := &Console{
		logger:    stdLogger{},
		st:        NewInMemoryStore(),
		cfg:       DefaultConfig(),
		clearMode: ClearAuto,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.clearMode == ClearAuto {
		c.clearMode = c.cfg.ClearMode
	}
	cfg := c.cfg
	cfg.ClearMode = c.clearMode
	if c.wctl == nil {
		c.wctl = NewStoreWorkerControl(c.st, cfg)
	}
	if c.sctl == nil {
		c.sctl = NewStoreSchedulerControl(c.st, cfg)
	}
	c.queues = NewQueues(c.st, cfg)
	c.workers = NewWorkers(c.st, cfg)
	c.failures = NewFailureLog(c.st, cfg, c.resolver)
	c.failures.logger = c.logger
	c.workers.failures = c.failures
	c.statuses = NewStatuses(c.st, cfg)
	c.schedule = NewSchedule(c.st, cfg, c.resolver, c.sctl)
	c.schedule.logger = c.logger
	c.stats = stats{st: c.st, keys: newKeyspace(cfg.Namespace)}
	return c
}

// -- Configuration --

// ConsoleOption is the signature of an options provider.
type ConsoleOption func(*Console)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) ConsoleOption {
	return func(c *Console) {
		c.logger = logger
	}
}

// SetStore specifies the backing Store implementation.
func SetStore(store Store) ConsoleOption {
	return func(c *Console) {
		c.st = store
	}
}

// SetConfig specifies the configuration.
func SetConfig(cfg Config) ConsoleOption {
	return func(c *Console) {
		c.cfg = cfg
	}
}

// SetResolver specifies how class names map back to job types when
// requeuing failures and triggering schedule entries. Without a resolver
// failures go back to the queue they failed on.
func SetResolver(r Resolver) ConsoleOption {
	return func(c *Console) {
		c.resolver = r
	}
}

// SetWorkerControl specifies how requests reach worker processes. By
// default they are signalled through the store.
func SetWorkerControl(wc WorkerControl) ConsoleOption {
	return func(c *Console) {
		c.wctl = wc
	}
}

// SetSchedulerControl specifies how cron processes are controlled. By
// default they are signalled through the store.
func SetSchedulerControl(sc SchedulerControl) ConsoleOption {
	return func(c *Console) {
		c.sctl = sc
	}
}

// SetClearMode overrides Config.ClearMode.
func SetClearMode(m ClearMode) ConsoleOption {
	return func(c *Console) {
		c.clearMode = m
	}
}

// Store returns the backing store.
func (c *Console) Store() Store { return c.st }

// Config returns the configuration.
func (c *Console) Config() Config { return c.cfg }

// Queues returns the queue engine.
func (c *Console) Queues() *Queues { return c.queues }

// Workers returns the worker registry.
func (c *Console) Workers() *Workers { return c.workers }

// Failures returns the failure log.
func (c *Console) Failures() *FailureLog { return c.failures }

// Statuses returns the status engine.
func (c *Console) Statuses() *Statuses { return c.statuses }

// Schedule returns the schedule.
func (c *Console) Schedule() *Schedule { return c.schedule }

// CheckConnection returns an error wrapping ErrStoreUnavailable if the
// store cannot be reached.
func (c *Console) CheckConnection(ctx context.Context) error {
	err := c.st.Ping(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// -- Queries --

// QueueInfo is a queue and its size.
type QueueInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// QueueSizes returns all known queues with their sizes.
func (c *Console) QueueSizes(ctx context.Context) ([]QueueInfo, error) {
	names, err := c.queues.Names(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]QueueInfo, 0, len(names))
	for _, name := range names {
		n, err := c.queues.Size(ctx, name)
		if err != nil {
			return nil, err
		}
		list = append(list, QueueInfo{Name: name, Size: n})
	}
	return list, nil
}

// Info returns the summary counters.
func (c *Console) Info(ctx context.Context) (*Info, error) {
	queues, err := c.QueueSizes(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{Queues: len(queues)}
	for _, q := range queues {
		info.Pending += q.Size
	}
	if info.Processed, err = c.stats.get(ctx, statProcessed, ""); err != nil {
		return nil, err
	}
	if info.Failed, err = c.stats.get(ctx, statFailed, ""); err != nil {
		return nil, err
	}
	states, err := c.workers.States(ctx)
	if err != nil {
		return nil, err
	}
	info.Workers = len(states)
	for _, s := range states {
		if s.Processing != nil {
			info.Working++
		}
	}
	return info, nil
}

// Overview is what the start page of the console shows.
type Overview struct {
	Info     *Info         `json:"info"`
	Queues   []QueueInfo   `json:"queues"`
	Working  []WorkerState `json:"working"`
	Failures int64         `json:"failures"`
	Statuses []*Status     `json:"statuses"`
}

// Overview reads the overview with parallel requests.
func (c *Console) Overview(ctx context.Context) (*Overview, error) {
	ov := &Overview{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ov.Info, err = c.Info(ctx)
		return
	})
	g.Go(func() (err error) {
		ov.Queues, err = c.QueueSizes(ctx)
		return
	})
	g.Go(func() (err error) {
		ov.Working, err = c.workers.Working(ctx)
		return
	})
	g.Go(func() (err error) {
		ov.Failures, err = c.failures.Count(ctx)
		return
	})
	g.Go(func() (err error) {
		ov.Statuses, err = c.statuses.List(ctx, 0, 20)
		return
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ov, nil
}

// FindWorker returns the state of a worker. Dots of the IP may be
// given as underscores, as they appear in URLs.
func (c *Console) FindWorker(ctx context.Context, s string) (*WorkerState, error) {
	return c.workers.Find(ctx, normalizeWorkerName(s))
}

func normalizeWorkerName(s string) string {
	first, rest, found := strings.Cut(s, ":")
	if i := strings.IndexByte(first, '('); i >= 0 {
		first = first[:i] + strings.ReplaceAll(first[i:], "_", ".")
	}
	if !found {
		return first
	}
	return first + ":" + rest
}

// Status returns the status with the given UUID.
func (c *Console) Status(ctx context.Context, id string) (*Status, error) {
	return c.statuses.Get(ctx, id)
}

// -- Queue commands --

// Enqueue pushes a job of class onto queue.
func (c *Console) Enqueue(ctx context.Context, queue, class string, args ...interface{}) error {
	return c.queues.Enqueue(ctx, queue, NewEnvelope(class, args...))
}

// Dequeue removes all jobs of class with args from queue.
func (c *Console) Dequeue(ctx context.Context, queue, class string, args ...interface{}) (int, error) {
	return c.queues.Dequeue(ctx, queue, NewEnvelope(class, args...), 0)
}

// RemoveJob removes the job listed at index with the given fingerprint.
func (c *Console) RemoveJob(ctx context.Context, queue string, index int64, fingerprint string) error {
	return c.queues.RemoveAt(ctx, queue, index, fingerprint)
}

// -- Failure commands --

// ClearFailures removes the failures selected by filter.
func (c *Console) ClearFailures(ctx context.Context, filter FailureFilter) (int, error) {
	return c.failures.Clear(ctx, filter)
}

// RequeueFailures re-enqueues and removes the failures selected by filter.
func (c *Console) RequeueFailures(ctx context.Context, filter FailureFilter) (int, error) {
	return c.failures.Requeue(ctx, filter)
}

// RetryFailures re-enqueues the failures selected by filter and keeps
// them in the log.
func (c *Console) RetryFailures(ctx context.Context, filter FailureFilter) (int, error) {
	return c.failures.Retry(ctx, filter)
}

// RequeueFailure re-enqueues the failure listed at index.
func (c *Console) RequeueFailure(ctx context.Context, index int64, fingerprint string) error {
	return c.failures.RequeueAt(ctx, index, fingerprint)
}

// RemoveFailure removes the failure listed at index.
func (c *Console) RemoveFailure(ctx context.Context, index int64, fingerprint string) error {
	return c.failures.RemoveAt(ctx, index, fingerprint)
}

// ClearStaleFailures removes failures older than Config.StaleFailureAge.
func (c *Console) ClearStaleFailures(ctx context.Context) (int, error) {
	return c.failures.ClearStale(ctx)
}

// -- Worker commands --

// findWorkerID looks up a registered worker.
func (c *Console) findWorkerID(ctx context.Context, s string) (WorkerID, error) {
	state, err := c.FindWorker(ctx, s)
	if err != nil {
		return WorkerID{}, err
	}
	return state.ID, nil
}

// PauseWorker pauses the process of worker s.
func (c *Console) PauseWorker(ctx context.Context, s string) error {
	id, err := c.findWorkerID(ctx, s)
	if err != nil {
		return err
	}
	return c.wctl.Pause(ctx, id)
}

// ContinueWorker resumes the process of worker s.
func (c *Console) ContinueWorker(ctx context.Context, s string) error {
	id, err := c.findWorkerID(ctx, s)
	if err != nil {
		return err
	}
	return c.wctl.Continue(ctx, id)
}

// QuitWorker asks the process of worker s to exit after its current jobs.
func (c *Console) QuitWorker(ctx context.Context, s string) error {
	id, err := c.findWorkerID(ctx, s)
	if err != nil {
		return err
	}
	return c.wctl.Quit(ctx, id)
}

// RestartWorker quits the process of worker s and starts a new one with
// the queues of all its threads. If the worker control reports that it
// cannot start the new process, the old one is left running.
func (c *Console) RestartWorker(ctx context.Context, s string) error {
	id, err := c.findWorkerID(ctx, s)
	if err != nil {
		return err
	}
	threads, err := c.workers.InPID(ctx, id)
	if err != nil {
		return err
	}
	specs := make([]string, 0, len(threads))
	for _, t := range threads {
		specs = append(specs, t.QueueSpec())
	}
	if len(specs) == 0 {
		specs = append(specs, id.QueueSpec())
	}
	host := id.IP
	if host == "" {
		host = id.Host
	}
	req := StartRequest{
		Hosts:  []string{host},
		Path:   id.Path,
		Queues: strings.Join(specs, "#"),
	}
	if sc, ok := c.wctl.(startChecker); ok {
		if err := sc.CanStart(req); err != nil {
			return err
		}
	}
	if err := c.wctl.Quit(ctx, id); err != nil {
		return err
	}
	return c.wctl.Start(ctx, req)
}

// StartWorker starts worker processes.
func (c *Console) StartWorker(ctx context.Context, req StartRequest) error {
	return c.wctl.Start(ctx, req)
}

// -- Schedule commands --

// AddScheduleEntry adds a recurring job.
func (c *Console) AddScheduleEntry(ctx context.Context, e ScheduleEntry) error {
	return c.schedule.Add(ctx, e)
}

// RemoveScheduleEntry removes a recurring job.
func (c *Console) RemoveScheduleEntry(ctx context.Context, name, host string) (bool, error) {
	return c.schedule.Remove(ctx, name, host)
}

// TriggerScheduleEntry enqueues a recurring job now.
func (c *Console) TriggerScheduleEntry(ctx context.Context, name string) error {
	return c.schedule.TriggerNow(ctx, name)
}

// StartScheduler starts the cron process on host.
func (c *Console) StartScheduler(ctx context.Context, host string) error {
	return c.schedule.Start(ctx, host)
}

// StopScheduler stops the cron process on host.
func (c *Console) StopScheduler(ctx context.Context, host string) error {
	return c.schedule.Stop(ctx, host)
}

// FarmStatus reports the cron process of every scheduled host.
func (c *Console) FarmStatus(ctx context.Context) (map[string]string, error) {
	return c.schedule.FarmStatus(ctx)
}

// -- Status commands --

// KillStatus requests termination of the job of id and marks its status
// killed. Finished jobs are left alone.
func (c *Console) KillStatus(ctx context.Context, id string) error {
	status, err := c.statuses.Get(ctx, id)
	if err != nil {
		return err
	}
	if status.State.Terminal() {
		return nil
	}
	if err := c.statuses.Kill(ctx, id); err != nil {
		return err
	}
	status.State = StatusKilled
	return c.statuses.Set(ctx, status)
}

// ClearStatuses removes the statuses in the states given, or all
// statuses if no state is given.
func (c *Console) ClearStatuses(ctx context.Context, states ...State) (int, error) {
	if len(states) == 0 {
		return c.statuses.Clear(ctx, 0, 0)
	}
	return c.statuses.ClearByState(ctx, states...)
}

// RemoveStatus removes a status. Removing a missing status does nothing.
func (c *Console) RemoveStatus(ctx context.Context, id string) error {
	return c.statuses.Remove(ctx, id)
}
