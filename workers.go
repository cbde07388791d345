// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olivere/jobconsole/internal/metrics"
)

// Processing describes the job a worker is busy with.
type Processing struct {
	Queue           string    `json:"queue"`
	RunAt           time.Time `json:"run_at"`
	Payload         Envelope  `json:"payload"`
	OverviewMessage string    `json:"overview_message,omitempty"`
}

// WorkerState is what the registry knows about a worker.
type WorkerState struct {
	ID         WorkerID    `json:"-"`
	Name       string      `json:"id"`
	Started    time.Time   `json:"started"`
	Paused     bool        `json:"paused"`
	Processing *Processing `json:"processing,omitempty"`
	Processed  int64       `json:"processed"`
	Failed     int64       `json:"failed"`
}

// Workers is the registry of worker threads.
type Workers struct {
	st       Store
	keys     keyspace
	stats    stats
	failures *FailureLog
	now      func() time.Time
}

// NewWorkers returns the worker registry over st.
func NewWorkers(st Store, cfg Config) *Workers {
	keys := newKeyspace(cfg.Namespace)
	return &Workers{
		st:       st,
		keys:     keys,
		stats:    stats{st: st, keys: keys},
		failures: NewFailureLog(st, cfg, nil),
		now:      time.Now,
	}
}

// Register adds id to the registry and records its start time.
func (w *Workers) Register(ctx context.Context, id WorkerID) error {
	s := id.String()
	if err := w.st.SetAdd(ctx, w.keys.workers(), s); err != nil {
		return fmt.Errorf("jobconsole: register worker %s: %w", s, err)
	}
	if err := w.st.Set(ctx, w.keys.workerStarted(s), w.now().UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("jobconsole: register worker %s: %w", s, err)
	}
	return nil
}

// Unregister removes id from the registry. A job still in flight is
// recorded as a DirtyExit failure first. The pause key of the process is
// removed with its last thread.
func (w *Workers) Unregister(ctx context.Context, id WorkerID) error {
	s := id.String()
	if err := w.recordDirtyExit(ctx, s); err != nil {
		return err
	}
	if err := w.st.SetRemove(ctx, w.keys.workers(), s); err != nil {
		return fmt.Errorf("jobconsole: unregister worker %s: %w", s, err)
	}
	if err := w.deleteKeys(ctx, s); err != nil {
		return err
	}
	siblings, err := w.InPID(ctx, id)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		if err := w.st.Delete(ctx, w.keys.pauseKey(id)); err != nil {
			return fmt.Errorf("jobconsole: unregister worker %s: %w", s, err)
		}
	}
	return nil
}

// recordDirtyExit turns the in-flight job of worker s into a failure.
func (w *Workers) recordDirtyExit(ctx context.Context, s string) error {
	p, err := w.processing(ctx, s)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	f := Failure{
		FailedAt:  w.now(),
		Payload:   p.Payload,
		Exception: DirtyExit,
		Error:     ErrDirtyExit.Error(),
		Worker:    s,
		Queue:     p.Queue,
	}
	if err := w.failures.Record(ctx, f); err != nil {
		return err
	}
	if err := w.stats.incr(ctx, statFailed, ""); err != nil {
		return fmt.Errorf("jobconsole: count dirty exit of %s: %w", s, err)
	}
	return nil
}

func (w *Workers) deleteKeys(ctx context.Context, s string) error {
	err := w.st.Delete(ctx,
		w.keys.worker(s),
		w.keys.workerStarted(s),
		w.keys.workerQuit(s),
	)
	if err != nil {
		return fmt.Errorf("jobconsole: delete keys of worker %s: %w", s, err)
	}
	if err := w.stats.clear(ctx, s); err != nil {
		return fmt.Errorf("jobconsole: delete stats of worker %s: %w", s, err)
	}
	return nil
}

// SetWorking records that id started to work on e from queue.
func (w *Workers) SetWorking(ctx context.Context, id WorkerID, queue string, e Envelope) error {
	p := Processing{Queue: queue, RunAt: w.now().UTC(), Payload: e}
	return w.setProcessing(ctx, id.String(), p)
}

func (w *Workers) setProcessing(ctx context.Context, s string, p Processing) error {
	if p.Payload.Args == nil {
		p.Payload.Args = []interface{}{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("jobconsole: encode job of worker %s: %w", s, err)
	}
	if err := w.st.Set(ctx, w.keys.worker(s), string(data), 0); err != nil {
		return fmt.Errorf("jobconsole: set job of worker %s: %w", s, err)
	}
	return nil
}

// DoneWorking clears the in-flight job of id.
func (w *Workers) DoneWorking(ctx context.Context, id WorkerID) error {
	if err := w.st.Delete(ctx, w.keys.worker(id.String())); err != nil {
		return fmt.Errorf("jobconsole: done working %s: %w", id, err)
	}
	return nil
}

// Processing returns the in-flight job of id, or nil if it is idle.
func (w *Workers) Processing(ctx context.Context, id WorkerID) (*Processing, error) {
	return w.processing(ctx, id.String())
}

func (w *Workers) processing(ctx context.Context, s string) (*Processing, error) {
	data, err := w.st.Get(ctx, w.keys.worker(s))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobconsole: get job of worker %s: %w", s, err)
	}
	var p Processing
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("jobconsole: decode job of worker %s: %w", s, err)
	}
	return &p, nil
}

// SetOverviewMessage attaches msg to the in-flight job of id. It does
// nothing if id is idle.
func (w *Workers) SetOverviewMessage(ctx context.Context, id WorkerID, msg string) error {
	p, err := w.Processing(ctx, id)
	if err != nil || p == nil {
		return err
	}
	p.OverviewMessage = msg
	return w.setProcessing(ctx, id.String(), *p)
}

// Pause sets the pause key shared by all threads of the process of id.
func (w *Workers) Pause(ctx context.Context, id WorkerID) error {
	if err := w.st.Set(ctx, w.keys.pauseKey(id), w.now().UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("jobconsole: pause %s: %w", id, err)
	}
	return nil
}

// Continue removes the pause key of the process of id.
func (w *Workers) Continue(ctx context.Context, id WorkerID) error {
	if err := w.st.Delete(ctx, w.keys.pauseKey(id)); err != nil {
		return fmt.Errorf("jobconsole: continue %s: %w", id, err)
	}
	return nil
}

// IsPaused reports whether the pause key of the process of id is set.
func (w *Workers) IsPaused(ctx context.Context, id WorkerID) (bool, error) {
	ok, err := w.st.Exists(ctx, w.keys.pauseKey(id))
	if err != nil {
		return false, fmt.Errorf("jobconsole: paused %s: %w", id, err)
	}
	return ok, nil
}

// RequestQuit asks id to exit after its current job.
func (w *Workers) RequestQuit(ctx context.Context, id WorkerID) error {
	if err := w.st.Set(ctx, w.keys.workerQuit(id.String()), w.now().UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("jobconsole: quit %s: %w", id, err)
	}
	return nil
}

// QuitRequested reports whether RequestQuit was called for id.
func (w *Workers) QuitRequested(ctx context.Context, id WorkerID) (bool, error) {
	ok, err := w.st.Exists(ctx, w.keys.workerQuit(id.String()))
	if err != nil {
		return false, fmt.Errorf("jobconsole: quit requested %s: %w", id, err)
	}
	return ok, nil
}

// All returns the registered workers sorted by identity. Members that
// do not parse as worker identities are skipped.
func (w *Workers) All(ctx context.Context) ([]WorkerID, error) {
	members, err := w.st.SetMembers(ctx, w.keys.workers())
	if err != nil {
		return nil, fmt.Errorf("jobconsole: list workers: %w", err)
	}
	sort.Strings(members)
	ids := make([]WorkerID, 0, len(members))
	for _, m := range members {
		id, err := ParseWorkerID(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Find returns the state of the worker with identity s or ErrNotFound.
func (w *Workers) Find(ctx context.Context, s string) (*WorkerState, error) {
	ok, err := w.st.SetIsMember(ctx, w.keys.workers(), s)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: find worker %s: %w", s, err)
	}
	if !ok {
		return nil, fmt.Errorf("jobconsole: worker %s: %w", s, ErrNotFound)
	}
	id, err := ParseWorkerID(s)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: worker %s: %w", s, ErrNotFound)
	}
	return w.state(ctx, id)
}

func (w *Workers) state(ctx context.Context, id WorkerID) (*WorkerState, error) {
	s := id.String()
	state := &WorkerState{ID: id, Name: s}
	if v, err := w.st.Get(ctx, w.keys.workerStarted(s)); err == nil {
		state.Started, _ = time.Parse(time.RFC3339, v)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("jobconsole: worker %s: %w", s, err)
	}
	var err error
	if state.Paused, err = w.IsPaused(ctx, id); err != nil {
		return nil, err
	}
	if state.Processing, err = w.processing(ctx, s); err != nil {
		return nil, err
	}
	if state.Processed, err = w.stats.get(ctx, statProcessed, s); err != nil {
		return nil, err
	}
	if state.Failed, err = w.stats.get(ctx, statFailed, s); err != nil {
		return nil, err
	}
	return state, nil
}

// States returns the state of every registered worker.
func (w *Workers) States(ctx context.Context) ([]WorkerState, error) {
	ids, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]WorkerState, 0, len(ids))
	for _, id := range ids {
		s, err := w.state(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, *s)
	}
	metrics.WorkersRegistered.Set(float64(len(states)))
	return states, nil
}

// Working returns the states of the workers busy with a job.
func (w *Workers) Working(ctx context.Context) ([]WorkerState, error) {
	states, err := w.States(ctx)
	if err != nil {
		return nil, err
	}
	var working []WorkerState
	for _, s := range states {
		if s.Processing != nil {
			working = append(working, s)
		}
	}
	return working, nil
}

// InPID returns the registered threads of the process of id.
func (w *Workers) InPID(ctx context.Context, id WorkerID) ([]WorkerID, error) {
	ids, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	var same []WorkerID
	for _, o := range ids {
		if o.SameProcess(id) {
			same = append(same, o)
		}
	}
	return same, nil
}

const pauseSuffix = ":all_workers:paused"

// PruneDeadWorkers unregisters the workers of host whose pid is not in
// livePIDs. It also cleans up keys of workers on host that are no longer
// registered, e.g. after a crash interrupted Unregister. Every job found
// in flight becomes a DirtyExit failure. It returns the pruned workers.
func (w *Workers) PruneDeadWorkers(ctx context.Context, host string, livePIDs []int) ([]WorkerID, error) {
	live := make(map[int]bool, len(livePIDs))
	for _, pid := range livePIDs {
		live[pid] = true
	}
	dead := func(id WorkerID) bool {
		return id.Host == host && !live[id.PID]
	}

	ids, err := w.All(ctx)
	if err != nil {
		return nil, err
	}
	registered := make(map[string]bool, len(ids))
	var pruned []WorkerID
	for _, id := range ids {
		registered[id.String()] = true
		if !dead(id) {
			continue
		}
		if err := w.Unregister(ctx, id); err != nil {
			return pruned, err
		}
		pruned = append(pruned, id)
		metrics.WorkersPrunedTotal.Inc()
	}

	prefix := w.keys.workerPrefix()
	keys, err := w.st.Keys(ctx, prefix+"*")
	if err != nil {
		return pruned, fmt.Errorf("jobconsole: list worker keys: %w", err)
	}
	orphans := make(map[string]WorkerID)
	var stalePauseKeys []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		if strings.HasSuffix(rest, pauseSuffix) {
			if id, ok := parseProcess(strings.TrimSuffix(rest, pauseSuffix)); ok && dead(id) {
				stalePauseKeys = append(stalePauseKeys, key)
			}
			continue
		}
		rest = strings.TrimSuffix(rest, ":started")
		rest = strings.TrimSuffix(rest, ":quit")
		if registered[rest] {
			continue
		}
		id, err := ParseWorkerID(rest)
		if err != nil || !dead(id) {
			continue
		}
		orphans[rest] = id
	}
	names := make([]string, 0, len(orphans))
	for s := range orphans {
		names = append(names, s)
	}
	sort.Strings(names)
	for _, s := range names {
		if err := w.recordDirtyExit(ctx, s); err != nil {
			return pruned, err
		}
		if err := w.deleteKeys(ctx, s); err != nil {
			return pruned, err
		}
		pruned = append(pruned, orphans[s])
		metrics.WorkersPrunedTotal.Inc()
	}
	if len(stalePauseKeys) > 0 {
		if err := w.st.Delete(ctx, stalePauseKeys...); err != nil {
			return pruned, fmt.Errorf("jobconsole: delete stale pause keys: %w", err)
		}
	}
	return pruned, nil
}

// parseProcess parses the "host(ip):pid" part of a pause key.
func parseProcess(s string) (WorkerID, bool) {
	id, err := ParseWorkerID(s + ":::")
	if err != nil {
		return WorkerID{}, false
	}
	return id, true
}
