// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var failureEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestFailureLog(st Store, cfg Config, r Resolver) *FailureLog {
	l := NewFailureLog(st, cfg, r)
	l.logger = &stringLogger{}
	l.now = func() time.Time { return failureEpoch }
	return l
}

// seedFailures records failures of SendEmail (3), Report (1) and a
// stale one of Cleanup.
func seedFailures(t *testing.T, l *FailureLog) {
	t.Helper()
	ctx := context.Background()
	records := []Failure{
		{FailedAt: failureEpoch.Add(-time.Minute), Payload: NewEnvelope("SendEmail", 1), Exception: "Net::Timeout", Queue: "mail"},
		{FailedAt: failureEpoch.Add(-2 * time.Hour), Payload: NewEnvelope("SendEmail", 2), Exception: "Net::Timeout", Queue: "mail"},
		{FailedAt: failureEpoch.Add(-2 * 24 * time.Hour), Payload: NewEnvelope("Report"), Exception: "RuntimeError", Queue: "reports"},
		{FailedAt: failureEpoch.Add(-time.Minute), Payload: NewEnvelope("SendEmail", 1), Exception: "Net::Timeout", Queue: "mail"},
		{FailedAt: failureEpoch.Add(-30 * 24 * time.Hour), Payload: NewEnvelope("Cleanup"), Exception: "RuntimeError", Queue: "misc"},
	}
	for _, f := range records {
		if err := l.Record(ctx, f); err != nil {
			t.Fatalf("Record failed with %v", err)
		}
	}
}

func TestFailureEncoding(t *testing.T) {
	f := Failure{
		FailedAt:  failureEpoch,
		Payload:   NewEnvelope("SendEmail", 7),
		Exception: "Net::Timeout",
		Error:     "timed out",
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal failed with %v", err)
	}
	if want := `"failed_at":"2024/03/01 12:00:00 UTC"`; !strings.Contains(string(data), want) {
		t.Fatalf("encoding %s does not contain %s", data, want)
	}
	if strings.Contains(string(data), "retried_at") {
		t.Fatalf("encoding %s contains retried_at", data)
	}
	var g Failure
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatalf("Unmarshal failed with %v", err)
	}
	if !g.FailedAt.Equal(f.FailedAt) {
		t.Fatalf("FailedAt = %v, want %v", g.FailedAt, f.FailedAt)
	}
}

func TestNewFailureFromPanic(t *testing.T) {
	job := &Job{Queue: "q", Class: "Job", Args: []interface{}{1}}
	f := NewFailure(job, &PanicError{Value: "boom", Stack: []byte("goroutine 1 [running]:\nmain.main()\n")}, "w")
	if have, want := f.Exception, "Panic"; have != want {
		t.Fatalf("Exception = %q, want %q", have, want)
	}
	if len(f.Backtrace) == 0 {
		t.Fatal("Backtrace is empty")
	}
	if have, want := f.Queue, "q"; have != want {
		t.Fatalf("Queue = %q, want %q", have, want)
	}
}

func TestFailureLogMode(t *testing.T) {
	cfg := DefaultConfig()
	if have, want := NewFailureLog(NewInMemoryStore(), cfg, nil).Mode(), ClearAtomic; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
	if have, want := NewFailureLog(plainStore{NewInMemoryStore()}, cfg, nil).Mode(), ClearBestEffort; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
	cfg.ClearMode = ClearBestEffort
	if have, want := NewFailureLog(NewInMemoryStore(), cfg, nil).Mode(), ClearBestEffort; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
	cfg.ClearMode = ClearAtomic
	if have, want := NewFailureLog(plainStore{NewInMemoryStore()}, cfg, nil).Mode(), ClearBestEffort; have != want {
		t.Fatalf("Mode = %v, want %v", have, want)
	}
}

func TestFailureLogSelect(t *testing.T) {
	ctx := context.Background()
	l := newTestFailureLog(NewInMemoryStore(), DefaultConfig(), nil)
	seedFailures(t, l)

	tests := []struct {
		Name   string
		Filter FailureFilter
		Want   int
	}{
		{"all", FailureFilter{}, 5},
		{"class", FailureFilter{Class: "SendEmail"}, 3},
		{"exception", FailureFilter{Exception: "RuntimeError"}, 2},
		{"after", FailureFilter{After: failureEpoch.Add(-time.Hour)}, 2},
		{"before", FailureFilter{Before: failureEpoch.Add(-time.Hour)}, 3},
		{"match", FailureFilter{Match: func(f Failure) bool { return f.Queue == "reports" }}, 1},
		{"fingerprints", FailureFilter{Fingerprints: map[string]bool{}}, 0},
	}
	for _, tt := range tests {
		list, err := l.Select(ctx, tt.Filter)
		if err != nil {
			t.Fatalf("%s: Select failed with %v", tt.Name, err)
		}
		if have, want := len(list), tt.Want; have != want {
			t.Errorf("%s: len(Select) = %v, want %v", tt.Name, have, want)
		}
	}
}

func TestFailureLogClear(t *testing.T) {
	for _, tt := range []struct {
		Name string
		New  func() Store
		Mode ClearMode
	}{
		{"atomic", func() Store { return NewInMemoryStore() }, ClearAtomic},
		{"best-effort", func() Store { return plainStore{NewInMemoryStore()} }, ClearBestEffort},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			ctx := context.Background()
			l := newTestFailureLog(tt.New(), DefaultConfig(), nil)
			if have, want := l.Mode(), tt.Mode; have != want {
				t.Fatalf("Mode = %v, want %v", have, want)
			}
			seedFailures(t, l)

			n, err := l.Clear(ctx, FailureFilter{Class: "SendEmail"})
			if err != nil {
				t.Fatalf("Clear failed with %v", err)
			}
			if have, want := n, 3; have != want {
				t.Fatalf("Clear = %v, want %v", have, want)
			}
			n, err = l.Clear(ctx, FailureFilter{Class: "SendEmail"})
			if err != nil {
				t.Fatalf("Clear failed with %v", err)
			}
			if have, want := n, 0; have != want {
				t.Fatalf("second Clear = %v, want %v", have, want)
			}
			count, err := l.Count(ctx)
			if err != nil {
				t.Fatalf("Count failed with %v", err)
			}
			if have, want := count, int64(2); have != want {
				t.Fatalf("Count = %v, want %v", have, want)
			}

			n, err = l.ClearStale(ctx)
			if err != nil {
				t.Fatalf("ClearStale failed with %v", err)
			}
			if have, want := n, 1; have != want {
				t.Fatalf("ClearStale = %v, want %v", have, want)
			}
			list, _ := l.List(ctx, 0, 10)
			if have, want := len(list), 1; have != want {
				t.Fatalf("len(List) = %v, want %v", have, want)
			}
			if have, want := list[0].Failure.Payload.Class, "Report"; have != want {
				t.Fatalf("Class = %q, want %q", have, want)
			}
		})
	}
}

func TestFailureLogRequeue(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	cfg := DefaultConfig()
	l := newTestFailureLog(st, cfg, nil)
	seedFailures(t, l)

	n, err := l.Requeue(ctx, FailureFilter{Class: "SendEmail"})
	if err != nil {
		t.Fatalf("Requeue failed with %v", err)
	}
	if have, want := n, 3; have != want {
		t.Fatalf("Requeue = %v, want %v", have, want)
	}
	q := NewQueues(st, cfg)
	size, _ := q.Size(ctx, "mail")
	if have, want := size, int64(3); have != want {
		t.Fatalf("Size(mail) = %v, want %v", have, want)
	}

	// Nothing left to requeue.
	n, err = l.Requeue(ctx, FailureFilter{Class: "SendEmail"})
	if err != nil {
		t.Fatalf("Requeue failed with %v", err)
	}
	if have, want := n, 0; have != want {
		t.Fatalf("second Requeue = %v, want %v", have, want)
	}
	size, _ = q.Size(ctx, "mail")
	if have, want := size, int64(3); have != want {
		t.Fatalf("Size(mail) = %v, want %v", have, want)
	}
	count, _ := l.Count(ctx)
	if have, want := count, int64(2); have != want {
		t.Fatalf("Count = %v, want %v", have, want)
	}
}

func TestFailureLogRequeueUnknownClassStays(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	cfg := DefaultConfig()
	r := NewRegistry()
	r.Handle("SendEmail", "mail", func(ctx context.Context, job *Job) error { return nil })
	l := newTestFailureLog(st, cfg, r)
	seedFailures(t, l)

	n, err := l.Requeue(ctx, FailureFilter{})
	if err != nil {
		t.Fatalf("Requeue failed with %v", err)
	}
	if have, want := n, 3; have != want {
		t.Fatalf("Requeue = %v, want %v", have, want)
	}
	list, _ := l.List(ctx, 0, 10)
	if have, want := len(list), 2; have != want {
		t.Fatalf("len(List) = %v, want %v", have, want)
	}
	for _, f := range list {
		if f.Failure.Payload.Class == "SendEmail" {
			t.Fatalf("SendEmail failure still in log")
		}
	}
}

func TestFailureLogRetry(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	cfg := DefaultConfig()
	l := newTestFailureLog(st, cfg, nil)
	seedFailures(t, l)

	n, err := l.Retry(ctx, FailureFilter{Class: "Report"})
	if err != nil {
		t.Fatalf("Retry failed with %v", err)
	}
	if have, want := n, 1; have != want {
		t.Fatalf("Retry = %v, want %v", have, want)
	}
	size, _ := NewQueues(st, cfg).Size(ctx, "reports")
	if have, want := size, int64(1); have != want {
		t.Fatalf("Size(reports) = %v, want %v", have, want)
	}
	list, err := l.Select(ctx, FailureFilter{Class: "Report"})
	if err != nil {
		t.Fatalf("Select failed with %v", err)
	}
	if have, want := len(list), 1; have != want {
		t.Fatalf("len(Select) = %v, want %v", have, want)
	}
	if list[0].Failure.RetriedAt == nil || !list[0].Failure.RetriedAt.Equal(failureEpoch) {
		t.Fatalf("RetriedAt = %v, want %v", list[0].Failure.RetriedAt, failureEpoch)
	}
	if have, want := list[0].Index, int64(2); have != want {
		t.Fatalf("Index = %v, want %v", have, want)
	}
}

func TestFailureLogRequeueAtAndRemoveAt(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	cfg := DefaultConfig()
	l := newTestFailureLog(st, cfg, nil)
	seedFailures(t, l)

	list, _ := l.List(ctx, 0, 10)
	if err := l.RequeueAt(ctx, 2, list[2].Fingerprint); err != nil {
		t.Fatalf("RequeueAt failed with %v", err)
	}
	if err := l.RequeueAt(ctx, 2, list[2].Fingerprint); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequeueAt = %v, want ErrNotFound", err)
	}
	size, _ := NewQueues(st, cfg).Size(ctx, "reports")
	if have, want := size, int64(1); have != want {
		t.Fatalf("Size(reports) = %v, want %v", have, want)
	}
	if err := l.RemoveAt(ctx, 0, list[0].Fingerprint); err != nil {
		t.Fatalf("RemoveAt failed with %v", err)
	}
	count, _ := l.Count(ctx)
	if have, want := count, int64(3); have != want {
		t.Fatalf("Count = %v, want %v", have, want)
	}
}

func TestFailureLogSummary(t *testing.T) {
	l := newTestFailureLog(NewInMemoryStore(), DefaultConfig(), nil)
	seedFailures(t, l)

	s, err := l.Summary(context.Background(), FailureFilter{})
	if err != nil {
		t.Fatalf("Summary failed with %v", err)
	}
	want := Buckets{Total: 5, Hour: 2, Hour3: 3, Day: 3, Day3: 4, Day7: 4}
	if have := s.Total; have != want {
		t.Fatalf("Total = %+v, want %+v", have, want)
	}
	if have, want := s.ByClass["SendEmail"].Total, 3; have != want {
		t.Fatalf("ByClass[SendEmail] = %v, want %v", have, want)
	}
	if have, want := s.ByException["RuntimeError"], 2; have != want {
		t.Fatalf("ByException[RuntimeError] = %v, want %v", have, want)
	}
}
