// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/olivere/jobconsole/internal/metrics"
)

// Result is the terminal outcome of SafePerform.
type Result int

const (
	ResultCompleted Result = iota
	ResultFailed
	ResultKilled
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	case ResultKilled:
		return "killed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// StatusProcessor performs a status job. It should call Tick or At
// regularly and return ErrKilled when they do.
type StatusProcessor func(ctx context.Context, sj *StatusJob) error

// StatusHooks are called by SafePerform with the outcome of the job.
type StatusHooks struct {
	OnSuccess func(ctx context.Context, sj *StatusJob)
	// OnFailure receives the error of the job. If it is nil, the error
	// is returned from SafePerform and ends up in the failure log.
	OnFailure func(ctx context.Context, sj *StatusJob, err error)
	OnKilled  func(ctx context.Context, sj *StatusJob)
}

// overviewSetter is implemented by workers that show a message with the
// job they perform.
type overviewSetter interface {
	SetOverviewMessage(ctx context.Context, msg string) error
}

// StatusJob is a job that mirrors its life cycle into a status record.
type StatusJob struct {
	UUID    string
	Options map[string]interface{}
	Job     *Job

	statuses *Statuses
}

// NewStatusJob binds job to the status id.
func (s *Statuses) NewStatusJob(id string, options map[string]interface{}, job *Job) *StatusJob {
	if job == nil {
		job = &Job{}
	}
	return &StatusJob{UUID: id, Options: options, Job: job, statuses: s}
}

// Status returns the current status record.
func (sj *StatusJob) Status(ctx context.Context) (*Status, error) {
	return sj.statuses.Get(ctx, sj.UUID)
}

// setStatus changes the state of the record unless it already reached a
// terminal state. messages replace the message. A removed record stays
// removed.
func (sj *StatusJob) setStatus(ctx context.Context, state State, fn func(*Status), messages ...string) error {
	status, err := sj.statuses.Get(ctx, sj.UUID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if status.State.Terminal() && status.State != state {
		return nil
	}
	status.State = state
	if len(messages) > 0 {
		status.Message = strings.Join(messages, " ")
	}
	if fn != nil {
		fn(status)
	}
	return sj.statuses.Set(ctx, status)
}

// Tick is the cooperative checkpoint of a status job. It returns
// ErrKilled if a kill was requested; the job must then return. If the
// worker performing the job is paused, Tick blocks until it continues,
// marking the status paused in the meantime.
func (sj *StatusJob) Tick(ctx context.Context, messages ...string) error {
	return sj.tick(ctx, nil, messages...)
}

// At reports progress num of total, then behaves like Tick.
func (sj *StatusJob) At(ctx context.Context, num, total int64, messages ...string) error {
	return sj.tick(ctx, func(s *Status) {
		s.Num, s.Total = num, total
	}, messages...)
}

func (sj *StatusJob) tick(ctx context.Context, fn func(*Status), messages ...string) error {
	if err := sj.checkKill(ctx); err != nil {
		return err
	}
	if err := sj.setStatus(ctx, StatusWorking, fn, messages...); err != nil {
		return err
	}
	w := sj.Job.Worker
	if w == nil {
		return nil
	}
	paused, err := w.Paused(ctx)
	if err != nil || !paused {
		return err
	}
	for paused {
		status, err := sj.Status(ctx)
		if err != nil {
			return err
		}
		if status.State != StatusPaused {
			if err := sj.pause(ctx); err != nil {
				return err
			}
		}
		if err := sj.checkKill(ctx); err != nil {
			return err
		}
		if !sleep(ctx, sj.statuses.poll) {
			return ctx.Err()
		}
		if paused, err = w.Paused(ctx); err != nil {
			return err
		}
	}
	return sj.setStatus(ctx, StatusWorking, nil, messages...)
}

// checkKill returns ErrKilled, after marking the status killed, if a kill
// was requested or the status already is killed.
func (sj *StatusJob) checkKill(ctx context.Context) error {
	kill, err := sj.statuses.ShouldKill(ctx, sj.UUID)
	if err != nil {
		return err
	}
	if !kill {
		status, err := sj.Status(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if status.State != StatusKilled {
			return nil
		}
	}
	if err := sj.statuses.Killed(ctx, sj.UUID); err != nil {
		return err
	}
	return ErrKilled
}

func (sj *StatusJob) pause(ctx context.Context) error {
	msg := fmt.Sprintf("%v paused at %s", sj.Job.Worker, time.Now().Format(time.RFC1123))
	return sj.setStatus(ctx, StatusPaused, nil, msg)
}

// Completed marks the status completed.
func (sj *StatusJob) Completed(ctx context.Context, messages ...string) error {
	if len(messages) == 0 {
		messages = []string{fmt.Sprintf("Completed at %s", time.Now().Format(time.RFC1123))}
	}
	return sj.setStatus(ctx, StatusCompleted, nil, messages...)
}

// Failed marks the status failed.
func (sj *StatusJob) Failed(ctx context.Context, messages ...string) error {
	return sj.setStatus(ctx, StatusFailed, nil, messages...)
}

// IncrCounter atomically increments the named counter of this status.
func (sj *StatusJob) IncrCounter(ctx context.Context, counter string) (int64, error) {
	return sj.statuses.IncrCounter(ctx, counter, sj.UUID)
}

// Counter returns the named counter of this status.
func (sj *StatusJob) Counter(ctx context.Context, counter string) (int64, error) {
	return sj.statuses.Counter(ctx, counter, sj.UUID)
}

// SetOverviewMessage shows msg with the job on its worker. It does
// nothing when the job runs inline.
func (sj *StatusJob) SetOverviewMessage(ctx context.Context, msg string) error {
	if o, ok := sj.Job.Worker.(overviewSetter); ok {
		return o.SetOverviewMessage(ctx, msg)
	}
	return nil
}

// SafePerform runs fn and resolves the status to a terminal state,
// whatever fn does. A job returning nil without setting a terminal state
// is completed. A job that set the failed state triggers OnFailure. An
// error from fn marks the status failed; it is returned unless OnFailure
// handles it. ErrKilled marks the status killed and triggers OnKilled.
func (sj *StatusJob) SafePerform(ctx context.Context, fn StatusProcessor, hooks StatusHooks) (Result, error) {
	if err := sj.checkKill(ctx); err != nil {
		if errors.Is(err, ErrKilled) {
			return sj.killed(ctx, hooks), nil
		}
		return ResultFailed, err
	}
	if err := sj.setStatus(ctx, StatusWorking, nil); err != nil {
		return ResultFailed, err
	}

	err := sj.run(ctx, fn)
	if errors.Is(err, ErrKilled) {
		return sj.killed(ctx, hooks), nil
	}
	if err != nil {
		if serr := sj.Failed(ctx, fmt.Sprintf("The task failed because of an error: %v", err)); serr != nil {
			return ResultFailed, fmt.Errorf("%w (setting status: %v)", err, serr)
		}
		if hooks.OnFailure != nil {
			hooks.OnFailure(ctx, sj, err)
			return ResultFailed, nil
		}
		return ResultFailed, err
	}

	status, err := sj.Status(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ResultFailed, err
	}
	if status != nil {
		switch status.State {
		case StatusFailed:
			if hooks.OnFailure != nil {
				hooks.OnFailure(ctx, sj, errors.New(status.Message))
			}
			return ResultFailed, nil
		case StatusKilled:
			return sj.killed(ctx, hooks), nil
		case StatusCompleted:
		default:
			if err := sj.Completed(ctx); err != nil {
				return ResultFailed, err
			}
		}
	} else if err := sj.Completed(ctx); err != nil {
		return ResultFailed, err
	}
	if hooks.OnSuccess != nil {
		hooks.OnSuccess(ctx, sj)
	}
	return ResultCompleted, nil
}

// run calls fn and turns a panic into an error.
func (sj *StatusJob) run(ctx context.Context, fn StatusProcessor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, sj)
}

func (sj *StatusJob) killed(ctx context.Context, hooks StatusHooks) Result {
	// Killed may have happened in checkKill already; repeating it keeps
	// the state and clears a pending request.
	_ = sj.statuses.Killed(ctx, sj.UUID)
	metrics.StatusesKilledTotal.Inc()
	if hooks.OnKilled != nil {
		hooks.OnKilled(ctx, sj)
	}
	return ResultKilled
}

// JobType returns a job type for class whose jobs are status jobs. Jobs
// of the type take the arguments [uuid, options] as enqueued by
// EnqueueWithStatus and EnqueueChained.
func (s *Statuses) JobType(class, queue string, fn StatusProcessor, hooks StatusHooks) *JobType {
	return &JobType{
		Class: class,
		Queue: queue,
		Processor: func(ctx context.Context, job *Job) error {
			id, options := statusArgs(job.Args)
			if id == "" {
				id = GenerateUUID()
				if err := s.create(ctx, id, class, nil); err != nil {
					return err
				}
			}
			sj := s.NewStatusJob(id, options, job)
			_, err := sj.SafePerform(ctx, fn, hooks)
			return err
		},
	}
}

func statusArgs(args []interface{}) (string, map[string]interface{}) {
	var (
		id      string
		options map[string]interface{}
	)
	if len(args) > 0 {
		id, _ = args[0].(string)
	}
	if len(args) > 1 {
		options, _ = args[1].(map[string]interface{})
	}
	if options == nil {
		options = map[string]interface{}{}
	}
	return id, options
}
