// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package cronrunner is the scheduler process of a host. It enqueues
// the jobs of every schedule entry assigned to the host when their cron
// expression fires, keeps a heartbeat in the store, and follows stop and
// reload requests from the console.
package cronrunner

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olivere/jobconsole"
)

const defaultHeartbeat = 30 * time.Second

// Runner runs the schedule of one host. Create it via New.
type Runner struct {
	schedule  *jobconsole.Schedule
	control   *jobconsole.StoreSchedulerControl
	host      string
	aliases   map[string]bool
	logger    jobconsole.Logger
	heartbeat time.Duration
	location  *time.Location
}

// Option configures a Runner.
type Option func(*Runner)

// SetLogger specifies the logger to use.
func SetLogger(logger jobconsole.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// SetHeartbeat specifies the interval of heartbeats. The heartbeat key
// lives for three intervals.
func SetHeartbeat(d time.Duration) Option {
	return func(r *Runner) {
		r.heartbeat = d
	}
}

// SetAliases adds names under which schedule entries may refer to this
// host, e.g. its IP address.
func SetAliases(names ...string) Option {
	return func(r *Runner) {
		for _, name := range names {
			r.aliases[name] = true
		}
	}
}

// SetLocation specifies the time zone cron expressions are evaluated in.
func SetLocation(loc *time.Location) Option {
	return func(r *Runner) {
		r.location = loc
	}
}

// New creates a runner for host.
func New(schedule *jobconsole.Schedule, control *jobconsole.StoreSchedulerControl, host string, options ...Option) *Runner {
	r := &Runner{
		schedule:  schedule,
		control:   control,
		host:      host,
		aliases:   map[string]bool{host: true},
		logger:    log.New(os.Stderr, "", log.LstdFlags),
		heartbeat: defaultHeartbeat,
		location:  time.Local,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// entrySchedule evaluates the cron expression of a schedule entry.
type entrySchedule jobconsole.ScheduleEntry

func (e entrySchedule) Next(t time.Time) time.Time {
	next, err := jobconsole.ScheduleEntry(e).Next(t)
	if err != nil {
		return time.Time{}
	}
	return next
}

// entries returns the valid entries assigned to this host.
func (r *Runner) entries(ctx context.Context) ([]jobconsole.ScheduleEntry, error) {
	all, err := r.schedule.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var mine []jobconsole.ScheduleEntry
	for _, e := range all {
		if !r.aliases[e.IP] {
			continue
		}
		if err := e.Validate(); err != nil {
			r.logger.Printf("cronrunner: skipping %s: %v", e.Name, err)
			continue
		}
		mine = append(mine, e)
	}
	return mine, nil
}

func (r *Runner) start(ctx context.Context) (*cron.Cron, error) {
	entries, err := r.entries(ctx)
	if err != nil {
		return nil, err
	}
	clog := cron.PrintfLogger(r.logger)
	c := cron.New(
		cron.WithLocation(r.location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	for _, e := range entries {
		e := e
		c.Schedule(entrySchedule(e), cron.FuncJob(func() {
			if err := r.schedule.Enqueue(ctx, e); err != nil {
				r.logger.Printf("cronrunner: enqueue %s: %v", e.Name, err)
				return
			}
			r.logger.Printf("cronrunner: enqueued %s (%s)", e.Name, e.Class)
		}))
	}
	c.Start()
	r.logger.Printf("cronrunner: running %d entries on %s", len(entries), r.host)
	return c, nil
}

func stop(c *cron.Cron) {
	if c != nil {
		<-c.Stop().Done()
	}
}

// Run enqueues scheduled jobs until ctx is done or the console asks the
// scheduler of this host to stop. A reload request loads the schedule
// again.
func (r *Runner) Run(ctx context.Context) error {
	ttl := 3 * r.heartbeat
	// Clear requests left over from an earlier process.
	if _, _, err := r.control.Heartbeat(ctx, r.host, ttl); err != nil {
		return err
	}
	c, err := r.start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		stop(c)
		if err := r.control.Stopped(context.WithoutCancel(ctx), r.host); err != nil {
			r.logger.Printf("cronrunner: %v", err)
		}
	}()

	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		quit, reload, err := r.control.Heartbeat(ctx, r.host, ttl)
		if err != nil {
			r.logger.Printf("cronrunner: %v", err)
			continue
		}
		if quit {
			r.logger.Printf("cronrunner: stop requested on %s", r.host)
			return nil
		}
		if reload {
			next, err := r.start(ctx)
			if err != nil {
				r.logger.Printf("cronrunner: reloading schedule: %v", err)
				continue
			}
			stop(c)
			c = next
		}
	}
}
