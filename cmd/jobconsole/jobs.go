// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olivere/jobconsole"
)

// builtinJobs returns the job classes the work command can perform.
//
//	Noop   does nothing.
//	Fail   fails with the message given as first argument.
//	Sleep  is a status job that ticks once a second for options["seconds"].
func builtinJobs(st jobconsole.Store, cfg jobconsole.Config) *jobconsole.Registry {
	r := jobconsole.NewRegistry()
	mustRegister(r, &jobconsole.JobType{
		Class: "Noop",
		Queue: "default",
		Processor: func(ctx context.Context, job *jobconsole.Job) error {
			return nil
		},
	})
	mustRegister(r, &jobconsole.JobType{
		Class: "Fail",
		Queue: "default",
		Processor: func(ctx context.Context, job *jobconsole.Job) error {
			if len(job.Args) > 0 {
				return fmt.Errorf("%v", job.Args[0])
			}
			return errors.New("failed on purpose")
		},
	})
	statuses := jobconsole.NewStatuses(st, cfg)
	mustRegister(r, statuses.JobType("Sleep", "default", sleepJob, jobconsole.StatusHooks{}))
	return r
}

func mustRegister(r *jobconsole.Registry, jt *jobconsole.JobType) {
	if err := r.Register(jt); err != nil {
		panic(err)
	}
}

func sleepJob(ctx context.Context, sj *jobconsole.StatusJob) error {
	var total int64 = 10
	if v, ok := sj.Options["seconds"].(float64); ok && v > 0 {
		total = int64(v)
	}
	for i := int64(0); i < total; i++ {
		if err := sj.At(ctx, i, total, fmt.Sprintf("Slept %d of %d seconds", i, total)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return sj.Completed(ctx, fmt.Sprintf("Slept %d seconds", total))
}
