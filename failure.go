// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olivere/jobconsole/internal/metrics"
)

// failureTimeFormat is the timestamp layout of failed_at and retried_at.
const failureTimeFormat = "2006/01/02 15:04:05 MST"

// Failure is a record of the failure log.
type Failure struct {
	FailedAt  time.Time
	Payload   Envelope
	Exception string
	Error     string
	Backtrace []string
	Worker    string
	Queue     string
	RetriedAt *time.Time
}

type failureJSON struct {
	FailedAt  string   `json:"failed_at"`
	Payload   Envelope `json:"payload"`
	Exception string   `json:"exception"`
	Error     string   `json:"error"`
	Backtrace []string `json:"backtrace"`
	Worker    string   `json:"worker"`
	Queue     string   `json:"queue"`
	RetriedAt string   `json:"retried_at,omitempty"`
}

// MarshalJSON encodes f in the failure log format.
func (f Failure) MarshalJSON() ([]byte, error) {
	v := failureJSON{
		FailedAt:  f.FailedAt.UTC().Format(failureTimeFormat),
		Payload:   f.Payload,
		Exception: f.Exception,
		Error:     f.Error,
		Backtrace: f.Backtrace,
		Worker:    f.Worker,
		Queue:     f.Queue,
	}
	if v.Payload.Args == nil {
		v.Payload.Args = []interface{}{}
	}
	if v.Backtrace == nil {
		v.Backtrace = []string{}
	}
	if f.RetriedAt != nil {
		v.RetriedAt = f.RetriedAt.UTC().Format(failureTimeFormat)
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes a failure log record.
func (f *Failure) UnmarshalJSON(data []byte) error {
	var v failureJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Failure{
		FailedAt:  parseFailureTime(v.FailedAt),
		Payload:   v.Payload,
		Exception: v.Exception,
		Error:     v.Error,
		Backtrace: v.Backtrace,
		Worker:    v.Worker,
		Queue:     v.Queue,
	}
	if v.RetriedAt != "" {
		t := parseFailureTime(v.RetriedAt)
		f.RetriedAt = &t
	}
	return nil
}

func parseFailureTime(s string) time.Time {
	for _, layout := range []string{failureTimeFormat, time.RFC3339Nano, "2006-01-02 15:04:05 -0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// NewFailure builds the record for a job that failed with err.
func NewFailure(job *Job, err error, worker string) Failure {
	f := Failure{
		FailedAt:  time.Now(),
		Payload:   job.Envelope(),
		Exception: exceptionName(err),
		Error:     err.Error(),
		Worker:    worker,
		Queue:     job.Queue,
	}
	var p *PanicError
	if errors.As(err, &p) {
		f.Backtrace = backtrace(p.Stack)
	}
	return f
}

func backtrace(stack []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(stack), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// IndexedFailure is a failure with its position and fingerprint at the
// time it was read.
type IndexedFailure struct {
	Index       int64   `json:"index"`
	Fingerprint string  `json:"fingerprint"`
	Failure     Failure `json:"failure"`

	raw string
}

// FailureFilter selects failures. Zero fields match everything.
type FailureFilter struct {
	After        time.Time       // only failures at or after this time
	Before       time.Time       // only failures before this time
	Class        string          // only this payload class
	Exception    string          // only this exception name
	Fingerprints map[string]bool // only these fingerprints if non-nil
	Match        func(Failure) bool
}

// matches reports whether the record raw, decoded as f, is selected.
func (ff FailureFilter) matches(raw string, f Failure) bool {
	if !ff.After.IsZero() && f.FailedAt.Before(ff.After) {
		return false
	}
	if !ff.Before.IsZero() && !f.FailedAt.Before(ff.Before) {
		return false
	}
	if ff.Class != "" && f.Payload.Class != ff.Class {
		return false
	}
	if ff.Exception != "" && f.Exception != ff.Exception {
		return false
	}
	if ff.Fingerprints != nil && !ff.Fingerprints[Fingerprint(raw)] {
		return false
	}
	if ff.Match != nil && !ff.Match(f) {
		return false
	}
	return true
}

// Buckets counts failures by age.
type Buckets struct {
	Total int `json:"total"`
	Hour  int `json:"1h"`
	Hour3 int `json:"3h"`
	Day   int `json:"1d"`
	Day3  int `json:"3d"`
	Day7  int `json:"7d"`
}

func (b *Buckets) add(age time.Duration) {
	b.Total++
	if age <= time.Hour {
		b.Hour++
	}
	if age <= 3*time.Hour {
		b.Hour3++
	}
	if age <= 24*time.Hour {
		b.Day++
	}
	if age <= 3*24*time.Hour {
		b.Day3++
	}
	if age <= 7*24*time.Hour {
		b.Day7++
	}
}

// FailureSummary aggregates the selected failures.
type FailureSummary struct {
	Total       Buckets            `json:"total"`
	ByClass     map[string]Buckets `json:"by_class"`
	ByException map[string]int     `json:"by_exception"`
}

// FailureLog is the append-only log of failed jobs.
type FailureLog struct {
	st       Store
	keys     keyspace
	queues   *Queues
	resolver Resolver
	mode     ClearMode
	staleAge time.Duration
	logger   Logger
	now      func() time.Time
}

// NewFailureLog creates the failure log. r resolves classes when
// requeuing; if r is nil, failures go back to the queue they came from.
func NewFailureLog(st Store, cfg Config, r Resolver) *FailureLog {
	return &FailureLog{
		st:       st,
		keys:     newKeyspace(cfg.Namespace),
		queues:   NewQueues(st, cfg),
		resolver: r,
		mode:     selectClearMode(cfg.ClearMode, st),
		staleAge: cfg.StaleFailureAge,
		logger:   stdLogger{},
		now:      time.Now,
	}
}

// selectClearMode resolves ClearAuto and downgrades ClearAtomic if the
// store cannot rewrite lists.
func selectClearMode(m ClearMode, st Store) ClearMode {
	_, ok := st.(ListRewriter)
	switch {
	case m == ClearBestEffort:
		return ClearBestEffort
	case ok:
		return ClearAtomic
	default:
		return ClearBestEffort
	}
}

// Mode returns how Clear, Requeue, and Retry rewrite the log.
func (l *FailureLog) Mode() ClearMode {
	return l.mode
}

// Record appends f to the log.
func (l *FailureLog) Record(ctx context.Context, f Failure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = l.now()
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("jobconsole: encode failure: %w", err)
	}
	if err := l.st.Push(ctx, l.keys.failed(), string(raw)); err != nil {
		return fmt.Errorf("jobconsole: record failure: %w", err)
	}
	metrics.JobsFailedTotal.WithLabelValues(f.Queue, f.Payload.Class).Inc()
	return nil
}

// Count returns the number of records.
func (l *FailureLog) Count(ctx context.Context) (int64, error) {
	n, err := l.st.ListLen(ctx, l.keys.failed())
	if err != nil {
		return 0, fmt.Errorf("jobconsole: count failures: %w", err)
	}
	return n, nil
}

// List returns up to count records starting at start.
func (l *FailureLog) List(ctx context.Context, start, count int64) ([]IndexedFailure, error) {
	if count <= 0 {
		return nil, nil
	}
	items, err := l.st.ListRange(ctx, l.keys.failed(), start, start+count-1)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: list failures: %w", err)
	}
	return decodeFailures(start, items), nil
}

func decodeFailures(start int64, items []string) []IndexedFailure {
	list := make([]IndexedFailure, 0, len(items))
	for i, raw := range items {
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			f = Failure{Exception: "<invalid>", Error: err.Error()}
		}
		list = append(list, IndexedFailure{Index: start + int64(i), Fingerprint: Fingerprint(raw), Failure: f, raw: raw})
	}
	return list
}

// Select returns the records matching filter.
func (l *FailureLog) Select(ctx context.Context, filter FailureFilter) ([]IndexedFailure, error) {
	items, err := l.st.ListRange(ctx, l.keys.failed(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: select failures: %w", err)
	}
	var list []IndexedFailure
	for _, f := range decodeFailures(0, items) {
		if filter.matches(f.raw, f.Failure) {
			list = append(list, f)
		}
	}
	return list, nil
}

// Clear removes the records matching filter and returns how many were
// removed.
func (l *FailureLog) Clear(ctx context.Context, filter FailureFilter) (int, error) {
	var removed int
	err := l.rewrite(ctx, func(items []string) []string {
		removed = 0
		keep := make([]string, 0, len(items))
		for _, f := range decodeFailures(0, items) {
			if filter.matches(f.raw, f.Failure) {
				removed++
				continue
			}
			keep = append(keep, f.raw)
		}
		return keep
	})
	if err != nil {
		return 0, fmt.Errorf("jobconsole: clear failures: %w", err)
	}
	return removed, nil
}

// ClearStale removes records older than the configured StaleFailureAge.
func (l *FailureLog) ClearStale(ctx context.Context) (int, error) {
	if l.staleAge <= 0 {
		return 0, nil
	}
	return l.Clear(ctx, FailureFilter{Before: l.now().Add(-l.staleAge)})
}

// Requeue enqueues the payloads of the matching records and removes them
// from the log. Records whose class cannot be resolved stay in the log.
// It returns the number of requeued jobs.
func (l *FailureLog) Requeue(ctx context.Context, filter FailureFilter) (int, error) {
	matched, err := l.Select(ctx, filter)
	if err != nil {
		return 0, err
	}
	var done []string
	for _, f := range matched {
		if err := l.enqueue(ctx, f.Failure); err != nil {
			if errors.Is(err, ErrNotFound) {
				l.logger.Printf("jobconsole: not requeuing failure of %s: %v", f.Failure.Payload.Class, err)
				continue
			}
			l.dropValues(ctx, done)
			return len(done), err
		}
		done = append(done, f.raw)
	}
	if err := l.dropValues(ctx, done); err != nil {
		return len(done), err
	}
	metrics.FailuresRequeuedTotal.Add(float64(len(done)))
	return len(done), nil
}

// dropValues removes one occurrence of each value from the log.
func (l *FailureLog) dropValues(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	err := l.rewrite(ctx, func(items []string) []string {
		pending := make(map[string]int, len(values))
		for _, v := range values {
			pending[v]++
		}
		keep := make([]string, 0, len(items))
		for _, raw := range items {
			if pending[raw] > 0 {
				pending[raw]--
				continue
			}
			keep = append(keep, raw)
		}
		return keep
	})
	if err != nil {
		return fmt.Errorf("jobconsole: remove requeued failures: %w", err)
	}
	return nil
}

// Retry enqueues the payloads of the matching records and keeps them in
// the log, marked with the retry time.
func (l *FailureLog) Retry(ctx context.Context, filter FailureFilter) (int, error) {
	matched, err := l.Select(ctx, filter)
	if err != nil {
		return 0, err
	}
	now := l.now()
	replace := make(map[string][]string)
	var n int
	for _, f := range matched {
		if err := l.enqueue(ctx, f.Failure); err != nil {
			if errors.Is(err, ErrNotFound) {
				l.logger.Printf("jobconsole: not retrying failure of %s: %v", f.Failure.Payload.Class, err)
				continue
			}
			return n, err
		}
		n++
		f.Failure.RetriedAt = &now
		newRaw, err := json.Marshal(f.Failure)
		if err != nil {
			return n, err
		}
		replace[f.raw] = append(replace[f.raw], string(newRaw))
	}
	if len(replace) == 0 {
		return n, nil
	}
	err = l.rewrite(ctx, func(items []string) []string {
		used := make(map[string]int)
		out := make([]string, len(items))
		for i, raw := range items {
			out[i] = raw
			if repl := replace[raw]; used[raw] < len(repl) {
				out[i] = repl[used[raw]]
				used[raw]++
			}
		}
		return out
	})
	if err != nil {
		return n, fmt.Errorf("jobconsole: mark retried failures: %w", err)
	}
	return n, nil
}

// RemoveAt removes the record at index if its fingerprint matches.
func (l *FailureLog) RemoveAt(ctx context.Context, index int64, fingerprint string) error {
	_, err := removeAt(ctx, l.st, l.keys.failed(), index, fingerprint)
	return err
}

// RequeueAt enqueues the record at index and removes it from the log.
func (l *FailureLog) RequeueAt(ctx context.Context, index int64, fingerprint string) error {
	items, err := l.st.ListRange(ctx, l.keys.failed(), index, index)
	if err != nil {
		return fmt.Errorf("jobconsole: requeue failure: %w", err)
	}
	if len(items) == 0 || Fingerprint(items[0]) != fingerprint {
		return ErrNotFound
	}
	var f Failure
	if err := json.Unmarshal([]byte(items[0]), &f); err != nil {
		return fmt.Errorf("jobconsole: requeue failure: %w", err)
	}
	if err := l.enqueue(ctx, f); err != nil {
		return err
	}
	metrics.FailuresRequeuedTotal.Inc()
	if err := l.RemoveAt(ctx, index, fingerprint); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Summary counts the matching records by age, class, and exception.
func (l *FailureLog) Summary(ctx context.Context, filter FailureFilter) (*FailureSummary, error) {
	matched, err := l.Select(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := l.now()
	s := &FailureSummary{
		ByClass:     make(map[string]Buckets),
		ByException: make(map[string]int),
	}
	for _, f := range matched {
		age := now.Sub(f.Failure.FailedAt)
		s.Total.add(age)
		b := s.ByClass[f.Failure.Payload.Class]
		b.add(age)
		s.ByClass[f.Failure.Payload.Class] = b
		s.ByException[f.Failure.Exception]++
	}
	return s, nil
}

// enqueue puts the payload of f back onto a queue.
func (l *FailureLog) enqueue(ctx context.Context, f Failure) error {
	queue := f.Queue
	if l.resolver != nil {
		jt, err := l.resolver.Resolve(f.Payload.Class)
		if err != nil {
			return err
		}
		if jt.Queue != "" && queue == "" {
			queue = jt.Queue
		}
	}
	return l.queues.Enqueue(ctx, queue, f.Payload)
}

// rewrite replaces the log with the result of fn, atomically if the
// mode is ClearAtomic. fn may run more than once.
func (l *FailureLog) rewrite(ctx context.Context, fn func(items []string) []string) error {
	key := l.keys.failed()
	if l.mode == ClearAtomic {
		if rw, ok := l.st.(ListRewriter); ok {
			return rw.RewriteList(ctx, key, func(items []string) ([]string, error) {
				return fn(items), nil
			})
		}
	}
	items, err := l.st.ListRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	keep := fn(items)
	if len(keep) == len(items) && equalStrings(keep, items) {
		return nil
	}
	// Records appended between ListRange and Delete are lost here.
	if err := l.st.Delete(ctx, key); err != nil {
		return err
	}
	if len(keep) == 0 {
		return nil
	}
	return l.st.Push(ctx, key, keep...)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
