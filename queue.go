// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/olivere/jobconsole/internal/metrics"
)

// Queues manages the named FIFO queues of encoded envelopes.
type Queues struct {
	st   Store
	keys keyspace
}

// NewQueues returns the queue engine over st.
func NewQueues(st Store, cfg Config) *Queues {
	return &Queues{st: st, keys: newKeyspace(cfg.Namespace)}
}

// QueuedJob is a row of a queue listing.
type QueuedJob struct {
	// Index is the position in the queue at the time of the listing.
	Index int64 `json:"index"`
	// Fingerprint identifies the row together with Index.
	Fingerprint string   `json:"fingerprint"`
	Envelope    Envelope `json:"envelope"`
}

// Enqueue appends e to the tail of queue and registers the queue name.
func (q *Queues) Enqueue(ctx context.Context, queue string, e Envelope) error {
	var problems []string
	if queue == "" {
		problems = append(problems, "queue is required")
	}
	if e.Class == "" {
		problems = append(problems, "class is required")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	if err := q.st.SetAdd(ctx, q.keys.queues(), queue); err != nil {
		return fmt.Errorf("jobconsole: register queue %s: %w", queue, err)
	}
	if err := q.st.Push(ctx, q.keys.queue(queue), raw); err != nil {
		return fmt.Errorf("jobconsole: enqueue %s onto %s: %w", e.Class, queue, err)
	}
	return nil
}

// Reserve pops the head of queue. It returns nil, nil if queue is empty.
func (q *Queues) Reserve(ctx context.Context, queue string) (*Job, error) {
	raw, err := q.st.Pop(ctx, q.keys.queue(queue))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobconsole: reserve from %s: %w", queue, err)
	}
	e, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: reserve from %s: %w", queue, err)
	}
	return &Job{Queue: queue, Class: e.Class, Args: e.Args}, nil
}

// Dequeue removes envelopes structurally equal to e from queue. At most
// limit entries are removed; limit <= 0 removes all. It returns the
// number of entries removed.
func (q *Queues) Dequeue(ctx context.Context, queue string, e Envelope, limit int) (int, error) {
	return q.DequeueMatching(ctx, queue, MatchEnvelope(e), limit)
}

// DequeueMatching removes entries of queue whose envelope satisfies
// match, scanning from the head. At most limit entries are removed;
// limit <= 0 removes all.
func (q *Queues) DequeueMatching(ctx context.Context, queue string, match EnvelopeMatcher, limit int) (int, error) {
	key := q.keys.queue(queue)
	items, err := q.st.ListRange(ctx, key, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("jobconsole: dequeue from %s: %w", queue, err)
	}
	var removed int
	for _, raw := range items {
		if limit > 0 && removed >= limit {
			break
		}
		e, err := DecodeEnvelope(raw)
		if err != nil || !match(e) {
			continue
		}
		// The entry may have been reserved since we read the list.
		n, err := q.st.ListRemove(ctx, key, 1, raw)
		if err != nil {
			return removed, fmt.Errorf("jobconsole: dequeue from %s: %w", queue, err)
		}
		removed += int(n)
	}
	return removed, nil
}

// RemoveAt removes the row at index if its fingerprint still matches.
// It returns ErrNotFound if the row moved or changed since it was
// listed.
func (q *Queues) RemoveAt(ctx context.Context, queue string, index int64, fingerprint string) error {
	_, err := removeAt(ctx, q.st, q.keys.queue(queue), index, fingerprint)
	return err
}

// Size returns the number of jobs waiting in queue.
func (q *Queues) Size(ctx context.Context, queue string) (int64, error) {
	n, err := q.st.ListLen(ctx, q.keys.queue(queue))
	if err != nil {
		return 0, fmt.Errorf("jobconsole: size of %s: %w", queue, err)
	}
	metrics.QueueLength.WithLabelValues(queue).Set(float64(n))
	return n, nil
}

// Names returns the known queue names in sorted order.
func (q *Queues) Names(ctx context.Context) ([]string, error) {
	names, err := q.st.SetMembers(ctx, q.keys.queues())
	if err != nil {
		return nil, fmt.Errorf("jobconsole: list queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Peek returns up to count jobs of queue starting at start.
func (q *Queues) Peek(ctx context.Context, queue string, start, count int64) ([]QueuedJob, error) {
	if count <= 0 {
		return nil, nil
	}
	items, err := q.st.ListRange(ctx, q.keys.queue(queue), start, start+count-1)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: peek into %s: %w", queue, err)
	}
	jobs := make([]QueuedJob, 0, len(items))
	for i, raw := range items {
		e, err := DecodeEnvelope(raw)
		if err != nil {
			e = Envelope{Class: "<invalid>"}
		}
		jobs = append(jobs, QueuedJob{
			Index:       start + int64(i),
			Fingerprint: Fingerprint(raw),
			Envelope:    e,
		})
	}
	return jobs, nil
}

// RemoveQueue deletes queue and all jobs in it.
func (q *Queues) RemoveQueue(ctx context.Context, queue string) error {
	if err := q.st.SetRemove(ctx, q.keys.queues(), queue); err != nil {
		return fmt.Errorf("jobconsole: remove queue %s: %w", queue, err)
	}
	if err := q.st.Delete(ctx, q.keys.queue(queue)); err != nil {
		return fmt.Errorf("jobconsole: remove queue %s: %w", queue, err)
	}
	metrics.QueueLength.DeleteLabelValues(queue)
	return nil
}

// Throttle blocks until queue holds fewer than limit jobs, checking every
// interval. It returns ctx.Err() if ctx is done first.
func (q *Queues) Throttle(ctx context.Context, queue string, limit int64, interval time.Duration) error {
	for {
		n, err := q.Size(ctx, queue)
		if err != nil {
			return err
		}
		if n < limit {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// removeAt removes the element at index of the list at key if its
// fingerprint matches, returning the removed element. With a
// ListRewriter the exact position is removed atomically. Otherwise the
// first element with the same bytes is removed, which for duplicates may
// be a different position than index.
func removeAt(ctx context.Context, st Store, key string, index int64, fingerprint string) (string, error) {
	if rw, ok := st.(ListRewriter); ok {
		var removed string
		err := rw.RewriteList(ctx, key, func(items []string) ([]string, error) {
			removed = ""
			if index < 0 || index >= int64(len(items)) || Fingerprint(items[index]) != fingerprint {
				return nil, ErrNotFound
			}
			removed = items[index]
			out := make([]string, 0, len(items)-1)
			out = append(out, items[:index]...)
			return append(out, items[index+1:]...), nil
		})
		if err != nil {
			return "", err
		}
		return removed, nil
	}

	items, err := st.ListRange(ctx, key, index, index)
	if err != nil {
		return "", err
	}
	if len(items) == 0 || Fingerprint(items[0]) != fingerprint {
		return "", ErrNotFound
	}
	n, err := st.ListRemove(ctx, key, 1, items[0])
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrNotFound
	}
	return items[0], nil
}
