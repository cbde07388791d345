// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olivere/jobconsole/internal/metrics"
)

func nop() {}

// ProcessLister lists the pids of the processes running on this host.
type ProcessLister interface {
	PIDs(ctx context.Context) ([]int, error)
}

// Worker reserves jobs from its queues and performs them. Create a new
// worker via NewWorker.
type Worker struct {
	id       WorkerID
	logger   Logger
	cfg      Config
	resolver Resolver
	lister   ProcessLister
	backoff  BackoffFunc
	prune    bool

	registry *Workers
	queues   *Queues
	failures *FailureLog
	stats    stats

	mu       sync.Mutex // guards the following block
	paused   bool
	shutdown bool

	testJobStarted   func() // testing hook
	testJobSucceeded func() // testing hook
	testJobFailed    func() // testing hook
	testWorkerIdle   func() // testing hook
}

// WorkerOption is the signature of an options provider.
type WorkerOption func(*Worker)

// SetWorkerLogger specifies the logger of the worker.
func SetWorkerLogger(logger Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// SetWorkerConfig specifies the configuration.
func SetWorkerConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.cfg = cfg
	}
}

// SetWorkerResolver specifies how class names map to job types.
func SetWorkerResolver(r Resolver) WorkerOption {
	return func(w *Worker) {
		w.resolver = r
	}
}

// SetWorkerThread sets the thread tag of the identity.
func SetWorkerThread(thread string) WorkerOption {
	return func(w *Worker) {
		w.id.Thread = thread
	}
}

// SetWorkerIdentity overrides host, ip, and pid of the identity.
func SetWorkerIdentity(host, ip string, pid int) WorkerOption {
	return func(w *Worker) {
		w.id.Host, w.id.IP, w.id.PID = host, ip, pid
	}
}

// SetWorkerProcessLister enables dead worker pruning at startup.
func SetWorkerProcessLister(l ProcessLister) WorkerOption {
	return func(w *Worker) {
		w.lister = l
		w.prune = l != nil
	}
}

// SetWorkerBackoff specifies the backoff after store errors.
func SetWorkerBackoff(fn BackoffFunc) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.backoff = fn
		} else {
			w.backoff = reserveBackoff
		}
	}
}

// NewWorker creates a worker for queues; "*" stands for all known queues
// in alphabetical order. The store and config must match those of the
// producers.
func NewWorker(st Store, queues []string, options ...WorkerOption) *Worker {
	w := &Worker{
		id: WorkerID{
			IP:     localIP(),
			PID:    os.Getpid(),
			Thread: "1",
			Queues: queues,
		},
		logger:           stdLogger{},
		cfg:              DefaultConfig(),
		resolver:         NewRegistry(),
		backoff:          reserveBackoff,
		testJobStarted:   nop,
		testJobSucceeded: nop,
		testJobFailed:    nop,
		testWorkerIdle:   nop,
	}
	for _, opt := range options {
		opt(w)
	}
	if w.id.Host == "" {
		w.id.Host = defaultHost(w.cfg)
	}
	if w.id.Path == "" {
		w.id.Path = defaultPath(w.cfg)
	}
	w.registry = NewWorkers(st, w.cfg)
	w.queues = NewQueues(st, w.cfg)
	w.failures = NewFailureLog(st, w.cfg, w.resolver)
	w.failures.logger = w.logger
	w.stats = stats{st: st, keys: newKeyspace(w.cfg.Namespace)}
	return w
}

func defaultHost(cfg Config) string {
	if cfg.Hostname != "" {
		return cfg.Hostname
	}
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

func defaultPath(cfg Config) string {
	if cfg.WorkerPath != "" {
		return cfg.WorkerPath
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// localIP returns the first non-loopback IPv4 address of this host.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}

// ID returns the identity of the worker.
func (w *Worker) ID() WorkerID {
	return w.id
}

func (w *Worker) String() string {
	return w.id.String()
}

// Paused reports whether the worker was paused locally or via its pause
// key.
func (w *Worker) Paused(ctx context.Context) (bool, error) {
	w.mu.Lock()
	paused := w.paused
	w.mu.Unlock()
	if paused {
		return true, nil
	}
	return w.registry.IsPaused(ctx, w.id)
}

// Pause stops picking up new jobs after the current one and sets the
// pause key so that others can see it.
func (w *Worker) Pause(ctx context.Context) error {
	w.logger.Printf("jobconsole: %s pausing job processing", w.id)
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	return w.registry.Pause(ctx, w.id)
}

// Continue resumes job processing after a pause.
func (w *Worker) Continue(ctx context.Context) error {
	w.logger.Printf("jobconsole: %s resuming job processing", w.id)
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	return w.registry.Continue(ctx, w.id)
}

// SetOverviewMessage attaches msg to the job in progress.
func (w *Worker) SetOverviewMessage(ctx context.Context, msg string) error {
	return w.registry.SetOverviewMessage(ctx, w.id, msg)
}

// Shutdown makes Work return after the current job.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	w.shutdown = true
	w.mu.Unlock()
}

func (w *Worker) shuttingDown(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	w.mu.Lock()
	shutdown := w.shutdown
	w.mu.Unlock()
	if shutdown {
		return true
	}
	quit, err := w.registry.QuitRequested(ctx, w.id)
	if err != nil {
		w.logger.Printf("jobconsole: %s: %v", w.id, err)
		return false
	}
	return quit
}

// Work runs the life cycle of the worker: prune dead workers of this
// host, register, reserve and perform jobs until shutdown, quit request,
// or cancellation of ctx, and unregister. A job in progress is always
// finished. If the poll interval is zero, Work returns as soon as there
// is nothing to do.
func (w *Worker) Work(ctx context.Context) error {
	if w.prune {
		if err := w.pruneDeadWorkers(ctx); err != nil {
			w.logger.Printf("jobconsole: pruning dead workers: %v", err)
		}
	}
	if err := w.registry.Register(ctx, w.id); err != nil {
		return err
	}
	defer func() {
		if err := w.registry.Unregister(context.Background(), w.id); err != nil {
			w.logger.Printf("jobconsole: %s: %v", w.id, err)
		}
	}()

	interval := w.cfg.WorkerPollInterval
	var attempts int
	for !w.shuttingDown(ctx) {
		paused, err := w.Paused(ctx)
		if err != nil {
			w.logger.Printf("jobconsole: %s: %v", w.id, err)
		}
		if !paused && err == nil {
			job, err := w.reserve(ctx)
			if err != nil {
				attempts++
				w.logger.Printf("jobconsole: %s reserving job: %v", w.id, err)
				if !sleep(ctx, w.backoff(attempts)) {
					break
				}
				continue
			}
			attempts = 0
			if job != nil {
				w.process(context.WithoutCancel(ctx), job)
				continue
			}
		}
		w.testWorkerIdle() // testing hook
		if interval <= 0 {
			break
		}
		if !sleep(ctx, interval) {
			break
		}
	}
	return nil
}

// sleep waits for d. It returns false if ctx was done first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) pruneDeadWorkers(ctx context.Context) error {
	pids, err := w.lister.PIDs(ctx)
	if err != nil {
		return err
	}
	pruned, err := w.registry.PruneDeadWorkers(ctx, w.id.Host, pids)
	for _, id := range pruned {
		w.logger.Printf("jobconsole: pruned dead worker %s", id)
	}
	return err
}

// queueNames expands "*" into all known queues.
func (w *Worker) queueNames(ctx context.Context) ([]string, error) {
	for _, q := range w.id.Queues {
		if q == "*" {
			return w.queues.Names(ctx)
		}
	}
	return w.id.Queues, nil
}

// reserve returns the next job from the first non-empty queue.
func (w *Worker) reserve(ctx context.Context) (*Job, error) {
	names, err := w.queueNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		job, err := w.queues.Reserve(ctx, name)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

// process performs a single job and records the outcome.
func (w *Worker) process(ctx context.Context, job *Job) {
	job.Worker = w
	s := w.id.String()
	if err := w.registry.SetWorking(ctx, w.id, job.Queue, job.Envelope()); err != nil {
		w.logger.Printf("jobconsole: %s: %v", s, err)
	}
	defer func() {
		if err := w.stats.incr(ctx, statProcessed, s); err != nil {
			w.logger.Printf("jobconsole: %s: %v", s, err)
		}
		if err := w.registry.DoneWorking(ctx, w.id); err != nil {
			w.logger.Printf("jobconsole: %s: %v", s, err)
		}
	}()

	w.testJobStarted() // testing hook

	start := time.Now()
	err := w.perform(ctx, job)
	metrics.JobDurationSeconds.WithLabelValues(job.Queue).Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Printf("jobconsole: %s: job %s failed with: %v", s, job.Class, err)
		if err := w.failures.Record(ctx, NewFailure(job, err, s)); err != nil {
			w.logger.Printf("jobconsole: %s: %v", s, err)
		}
		if err := w.stats.incr(ctx, statFailed, s); err != nil {
			w.logger.Printf("jobconsole: %s: %v", s, err)
		}
		w.testJobFailed() // testing hook
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues(job.Queue, job.Class).Inc()
	w.testJobSucceeded() // testing hook
}

func (w *Worker) perform(ctx context.Context, job *Job) error {
	jt, err := w.resolver.Resolve(job.Class)
	if err != nil {
		return err
	}
	_, err = jt.Perform(ctx, job)
	return err
}

// ParseQueueSpec splits a queue specification into the queues of each
// thread: threads are separated by '#', queues by ','.
func ParseQueueSpec(spec string) [][]string {
	var threads [][]string
	for _, part := range strings.Split(spec, "#") {
		var queues []string
		for _, q := range strings.Split(part, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queues = append(queues, q)
			}
		}
		if len(queues) > 0 {
			threads = append(threads, queues)
		}
	}
	return threads
}

// Pool runs several worker threads in one process.
type Pool struct {
	workers []*Worker
}

// NewPool creates one worker per thread of spec (see ParseQueueSpec).
// Only the first thread prunes dead workers at startup.
func NewPool(st Store, spec string, options ...WorkerOption) (*Pool, error) {
	threads := ParseQueueSpec(spec)
	if len(threads) == 0 {
		return nil, fmt.Errorf("jobconsole: no queues in %q", spec)
	}
	p := &Pool{}
	for i, queues := range threads {
		opts := append([]WorkerOption{}, options...)
		opts = append(opts, SetWorkerThread(strconv.Itoa(i+1)))
		w := NewWorker(st, queues, opts...)
		if i > 0 {
			w.prune = false
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// Workers returns the threads of the pool.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Work runs all threads and waits for them to return.
func (p *Pool) Work(ctx context.Context) error {
	if len(p.workers) == 0 {
		return nil
	}
	// Prune before any thread registers.
	if first := p.workers[0]; first.prune {
		if err := first.pruneDeadWorkers(ctx); err != nil {
			first.logger.Printf("jobconsole: pruning dead workers: %v", err)
		}
		first.prune = false
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Work(ctx)
		})
	}
	return g.Wait()
}

// Pause pauses all threads.
func (p *Pool) Pause(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Continue resumes all threads.
func (p *Pool) Continue(ctx context.Context) error {
	for _, w := range p.workers {
		if err := w.Continue(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown makes all threads return after their current job.
func (p *Pool) Shutdown() {
	for _, w := range p.workers {
		w.Shutdown()
	}
}
