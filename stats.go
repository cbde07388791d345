// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"strconv"
)

// Info summarizes the state of the job system.
type Info struct {
	Pending   int64 `json:"pending"`   // number of jobs waiting in all queues
	Processed int64 `json:"processed"` // number of jobs performed
	Failed    int64 `json:"failed"`    // number of jobs that failed
	Queues    int   `json:"queues"`    // number of known queues
	Workers   int   `json:"workers"`   // number of registered workers
	Working   int   `json:"working"`   // number of workers busy with a job
}

const (
	statProcessed = "processed"
	statFailed    = "failed"
)

// stats reads and writes the processed and failed counters.
type stats struct {
	st   Store
	keys keyspace
}

// incr increments the global counter and the one of worker, if given.
func (s stats) incr(ctx context.Context, name, worker string) error {
	if _, err := s.st.Incr(ctx, s.keys.stat(name)); err != nil {
		return err
	}
	if worker != "" {
		if _, err := s.st.Incr(ctx, s.keys.stat(name+":"+worker)); err != nil {
			return err
		}
	}
	return nil
}

// get returns the counter name, optionally of worker. Missing counters
// are zero.
func (s stats) get(ctx context.Context, name, worker string) (int64, error) {
	key := s.keys.stat(name)
	if worker != "" {
		key = s.keys.stat(name + ":" + worker)
	}
	v, err := s.st.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// clear removes the counters of worker.
func (s stats) clear(ctx context.Context, worker string) error {
	return s.st.Delete(ctx,
		s.keys.stat(statProcessed+":"+worker),
		s.keys.stat(statFailed+":"+worker),
	)
}
