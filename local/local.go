// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package local controls worker and scheduler processes that run on the
// same host as the caller. Workers are signalled like Resque workers:
// SIGQUIT quits after the current job, SIGUSR2 pauses, SIGCONT continues.
// New processes are started through the shell commands configured in
// jobconsole.Config.
package local

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"

	"github.com/olivere/jobconsole"
)

// Option configures the controls of this package.
type Option func(*options)

type options struct {
	hostname string
	logger   jobconsole.Logger
	start    func(command string, env []string) error
	signal   func(pid int, sig os.Signal) error
}

// SetHostname overrides os.Hostname as the name of this host.
func SetHostname(hostname string) Option {
	return func(o *options) {
		o.hostname = hostname
	}
}

// SetLogger specifies the logger to use.
func SetLogger(logger jobconsole.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// SetStarter replaces the function that launches shell commands.
func SetStarter(start func(command string, env []string) error) Option {
	return func(o *options) {
		o.start = start
	}
}

// SetSignaller replaces the function that sends signals to processes.
func SetSignaller(signal func(pid int, sig os.Signal) error) Option {
	return func(o *options) {
		o.signal = signal
	}
}

func newOptions(cfg jobconsole.Config, opts []Option) options {
	o := options{
		hostname: cfg.Hostname,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		start:    startCommand,
		signal:   sendSignal,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hostname == "" {
		o.hostname, _ = os.Hostname()
	}
	return o
}

// isLocal reports whether host names this machine.
func (o options) isLocal(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1", o.hostname:
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.String() == host {
			return true
		}
	}
	return false
}

func (o options) requireLocal(host string) error {
	if !o.isLocal(host) {
		return fmt.Errorf("local: %s is not this host: %w", host, jobconsole.ErrNoController)
	}
	return nil
}

// startCommand runs command in the background with sh.
func startCommand(command string, env []string) error {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// SignalControl implements jobconsole.WorkerControl for workers on this
// host.
type SignalControl struct {
	opts    options
	command string
}

// NewSignalControl creates a SignalControl. Start runs
// cfg.WorkerCommand with QUEUES and JOBCONSOLE_WORKER_PATH set.
func NewSignalControl(cfg jobconsole.Config, opts ...Option) *SignalControl {
	return &SignalControl{
		opts:    newOptions(cfg, opts),
		command: cfg.WorkerCommand,
	}
}

func (c *SignalControl) send(id jobconsole.WorkerID, sig os.Signal) error {
	if id.IP == "" || !c.opts.isLocal(id.IP) {
		if err := c.opts.requireLocal(id.Host); err != nil {
			return err
		}
	}
	c.opts.logger.Printf("local: sending %v to %s", sig, id)
	if err := c.opts.signal(id.PID, sig); err != nil {
		return fmt.Errorf("local: signal %s: %w", id, err)
	}
	return nil
}

// Quit asks the process of id to exit after its current job.
func (c *SignalControl) Quit(ctx context.Context, id jobconsole.WorkerID) error {
	return c.send(id, sigQuit)
}

// Pause asks the process of id to stop picking up jobs.
func (c *SignalControl) Pause(ctx context.Context, id jobconsole.WorkerID) error {
	return c.send(id, sigPause)
}

// Continue resumes a paused process.
func (c *SignalControl) Continue(ctx context.Context, id jobconsole.WorkerID) error {
	return c.send(id, sigContinue)
}

// CanStart returns an error wrapping jobconsole.ErrNoController if no
// worker command is configured or req names another host.
func (c *SignalControl) CanStart(req jobconsole.StartRequest) error {
	if c.command == "" {
		return fmt.Errorf("local: no worker command configured: %w", jobconsole.ErrNoController)
	}
	for _, host := range req.Hosts {
		if err := c.opts.requireLocal(host); err != nil {
			return err
		}
	}
	return nil
}

// Start launches a worker process for req on this host.
func (c *SignalControl) Start(ctx context.Context, req jobconsole.StartRequest) error {
	if err := c.CanStart(req); err != nil {
		return err
	}
	env := []string{"QUEUES=" + req.Queues}
	if req.Path != "" {
		env = append(env, "JOBCONSOLE_WORKER_PATH="+req.Path)
	}
	c.opts.logger.Printf("local: starting worker for %q", req.Queues)
	if err := c.opts.start(c.command, env); err != nil {
		return fmt.Errorf("local: start worker: %w", err)
	}
	return nil
}

// CommandScheduler starts the cron process with cfg.SchedulerCommand and
// talks to running processes through the store.
type CommandScheduler struct {
	*jobconsole.StoreSchedulerControl
	opts    options
	command string
}

// NewCommandScheduler creates a CommandScheduler.
func NewCommandScheduler(st jobconsole.Store, cfg jobconsole.Config, opts ...Option) *CommandScheduler {
	return &CommandScheduler{
		StoreSchedulerControl: jobconsole.NewStoreSchedulerControl(st, cfg),
		opts:                  newOptions(cfg, opts),
		command:               cfg.SchedulerCommand,
	}
}

// Start launches the cron process for host unless one is running.
func (c *CommandScheduler) Start(ctx context.Context, host string) error {
	if c.command == "" {
		return fmt.Errorf("local: no scheduler command configured: %w", jobconsole.ErrNoController)
	}
	if err := c.opts.requireLocal(host); err != nil {
		return err
	}
	running, err := c.IsRunning(ctx, host)
	if err != nil {
		return err
	}
	if running {
		return nil
	}
	c.opts.logger.Printf("local: starting scheduler for %s", host)
	if err := c.opts.start(c.command, []string{"JOBCONSOLE_HOSTNAME=" + host}); err != nil {
		return fmt.Errorf("local: start scheduler: %w", err)
	}
	return nil
}
