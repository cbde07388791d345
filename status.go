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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the state of a status record.
type State string

const (
	StatusQueued    State = "queued"
	StatusWorking   State = "working"
	StatusPaused    State = "paused"
	StatusCompleted State = "completed"
	StatusFailed    State = "failed"
	StatusKilled    State = "killed"
)

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// Status is the progress record of a long-running job.
type Status struct {
	UUID    string
	State   State
	Name    string
	Message string
	Time    time.Time
	Num     int64
	Total   int64
	Options map[string]interface{}
	// Fields holds any other attributes set by the job.
	Fields map[string]interface{}
}

var statusKeys = map[string]bool{
	"uuid": true, "status": true, "name": true, "message": true,
	"time": true, "num": true, "total": true, "options": true,
}

// Pct returns the progress in percent, or 100 if the job completed.
func (s *Status) Pct() int {
	if s.State == StatusCompleted {
		return 100
	}
	if s.Total <= 0 {
		return 0
	}
	return int(s.Num * 100 / s.Total)
}

// MarshalJSON encodes s as a flat JSON object.
func (s Status) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(s.Fields)+8)
	for k, v := range s.Fields {
		m[k] = v
	}
	m["uuid"] = s.UUID
	m["status"] = s.State
	m["time"] = s.Time.Unix()
	if s.Name != "" {
		m["name"] = s.Name
	}
	if s.Message != "" {
		m["message"] = s.Message
	}
	if s.Num != 0 || s.Total != 0 {
		m["num"] = s.Num
		m["total"] = s.Total
	}
	if s.Options != nil {
		m["options"] = s.Options
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat JSON object.
func (s *Status) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = Status{}
	s.UUID, _ = m["uuid"].(string)
	state, _ := m["status"].(string)
	s.State = State(state)
	s.Name, _ = m["name"].(string)
	s.Message, _ = m["message"].(string)
	if t, ok := m["time"].(float64); ok {
		s.Time = time.Unix(int64(t), 0)
	}
	s.Num = toInt64(m["num"])
	s.Total = toInt64(m["total"])
	s.Options, _ = m["options"].(map[string]interface{})
	for k, v := range m {
		if statusKeys[k] {
			continue
		}
		if s.Fields == nil {
			s.Fields = make(map[string]interface{})
		}
		s.Fields[k] = v
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Statuses stores status records, their chronological index, the kill
// requests, and per-status counters.
type Statuses struct {
	st     Store
	keys   keyspace
	queues *Queues
	expiry time.Duration
	poll   time.Duration
	now    func() time.Time

	mu        sync.Mutex
	lastScore float64
}

// NewStatuses returns the status engine over st.
func NewStatuses(st Store, cfg Config) *Statuses {
	poll := cfg.PausePollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Statuses{
		st:     st,
		keys:   newKeyspace(cfg.Namespace),
		queues: NewQueues(st, cfg),
		expiry: cfg.StatusExpiry,
		poll:   poll,
		now:    time.Now,
	}
}

// GenerateUUID returns a new status identifier.
func GenerateUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// isUUID reports whether id has the format of GenerateUUID: 32
// lower-case hex digits.
func isUUID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// score returns a creation score that grows strictly within a process.
func (s *Statuses) score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := float64(s.now().UnixMicro())
	if score <= s.lastScore {
		score = s.lastScore + 1
	}
	s.lastScore = score
	return score
}

// Create stores a new queued status and returns its UUID.
func (s *Statuses) Create(ctx context.Context, name string, fields map[string]interface{}) (string, error) {
	id := GenerateUUID()
	return id, s.create(ctx, id, name, fields)
}

func (s *Statuses) create(ctx context.Context, id, name string, fields map[string]interface{}) error {
	status := &Status{UUID: id, State: StatusQueued, Name: name}
	for k, v := range fields {
		if statusKeys[k] {
			continue
		}
		if status.Fields == nil {
			status.Fields = make(map[string]interface{})
		}
		status.Fields[k] = v
	}
	if err := s.Set(ctx, status); err != nil {
		return err
	}
	if err := s.st.SortedAdd(ctx, s.keys.statuses(), s.score(), id); err != nil {
		return fmt.Errorf("jobconsole: index status %s: %w", id, err)
	}
	return nil
}

// Get returns the status with the given UUID or ErrNotFound.
func (s *Statuses) Get(ctx context.Context, id string) (*Status, error) {
	data, err := s.st.Get(ctx, s.keys.status(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("jobconsole: status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("jobconsole: get status %s: %w", id, err)
	}
	var status Status
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("jobconsole: decode status %s: %w", id, err)
	}
	if status.UUID == "" {
		status.UUID = id
	}
	return &status, nil
}

// Set stores status and stamps it with the current time.
func (s *Statuses) Set(ctx context.Context, status *Status) error {
	status.Time = s.now()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("jobconsole: encode status %s: %w", status.UUID, err)
	}
	if err := s.st.Set(ctx, s.keys.status(status.UUID), string(data), s.expiry); err != nil {
		return fmt.Errorf("jobconsole: set status %s: %w", status.UUID, err)
	}
	return nil
}

// Update applies fn to the stored status and writes it back. A missing
// status starts out empty.
func (s *Statuses) Update(ctx context.Context, id string, fn func(*Status)) error {
	status, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		status, err = &Status{UUID: id}, nil
	}
	if err != nil {
		return err
	}
	fn(status)
	return s.Set(ctx, status)
}

// IDs returns the UUIDs in reverse chronological order. start and end
// are offsets from the newest status; end <= 0 returns all.
func (s *Statuses) IDs(ctx context.Context, start, end int64) ([]string, error) {
	var (
		ids []string
		err error
	)
	if end <= 0 {
		ids, err = s.st.SortedRange(ctx, s.keys.statuses(), 0, -1)
	} else {
		if start < 0 {
			start = 0
		}
		if start >= end {
			return nil, nil
		}
		ids, err = s.st.SortedRange(ctx, s.keys.statuses(), -end, -(start + 1))
	}
	if err != nil {
		return nil, fmt.Errorf("jobconsole: list statuses: %w", err)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

// List returns the statuses of IDs(start, end). Expired records are
// skipped.
func (s *Statuses) List(ctx context.Context, start, end int64) ([]*Status, error) {
	ids, err := s.IDs(ctx, start, end)
	if err != nil {
		return nil, err
	}
	list := make([]*Status, 0, len(ids))
	for _, id := range ids {
		status, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, status)
	}
	return list, nil
}

// Count returns the number of indexed statuses.
func (s *Statuses) Count(ctx context.Context) (int64, error) {
	n, err := s.st.SortedLen(ctx, s.keys.statuses())
	if err != nil {
		return 0, fmt.Errorf("jobconsole: count statuses: %w", err)
	}
	return n, nil
}

// Remove deletes the status, its counters, and a pending kill request.
// Counters are only looked up for ids in the format of GenerateUUID.
// Removing a missing status does nothing.
func (s *Statuses) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.st.SortedRemove(ctx, s.keys.statuses(), id); err != nil {
		return fmt.Errorf("jobconsole: remove status %s: %w", id, err)
	}
	keys := []string{s.keys.status(id)}
	if isUUID(id) {
		more, err := s.st.Keys(ctx, s.keys.uuidPattern(id))
		if err != nil {
			return fmt.Errorf("jobconsole: remove status %s: %w", id, err)
		}
		keys = append(keys, more...)
	}
	if err := s.st.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("jobconsole: remove status %s: %w", id, err)
	}
	if err := s.st.SetRemove(ctx, s.keys.kill(), id); err != nil {
		return fmt.Errorf("jobconsole: remove status %s: %w", id, err)
	}
	return nil
}

// Clear removes the statuses of IDs(start, end) and returns how many
// were removed.
func (s *Statuses) Clear(ctx context.Context, start, end int64) (int, error) {
	ids, err := s.IDs(ctx, start, end)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.Remove(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// ClearByState removes all statuses in one of states.
func (s *Statuses) ClearByState(ctx context.Context, states ...State) (int, error) {
	want := make(map[State]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	ids, err := s.IDs(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	var n int
	for _, id := range ids {
		status, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if !want[status.State] {
			continue
		}
		if err := s.Remove(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Kill requests cooperative termination of the job of id.
func (s *Statuses) Kill(ctx context.Context, id string) error {
	if err := s.st.SetAdd(ctx, s.keys.kill(), id); err != nil {
		return fmt.Errorf("jobconsole: kill status %s: %w", id, err)
	}
	return nil
}

// ShouldKill reports whether a kill was requested for id.
func (s *Statuses) ShouldKill(ctx context.Context, id string) (bool, error) {
	ok, err := s.st.SetIsMember(ctx, s.keys.kill(), id)
	if err != nil {
		return false, fmt.Errorf("jobconsole: kill status %s: %w", id, err)
	}
	return ok, nil
}

// KillRequests returns the UUIDs with a pending kill request.
func (s *Statuses) KillRequests(ctx context.Context) ([]string, error) {
	ids, err := s.st.SetMembers(ctx, s.keys.kill())
	if err != nil {
		return nil, fmt.Errorf("jobconsole: list kill requests: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Killed consumes the kill request of id and marks it killed.
func (s *Statuses) Killed(ctx context.Context, id string) error {
	if err := s.st.SetRemove(ctx, s.keys.kill(), id); err != nil {
		return fmt.Errorf("jobconsole: killed status %s: %w", id, err)
	}
	return s.Update(ctx, id, func(status *Status) {
		if status.State.Terminal() && status.State != StatusKilled {
			return
		}
		status.State = StatusKilled
		status.Message = fmt.Sprintf("Killed at %s", s.now().Format(time.RFC1123))
	})
}

// Counter returns the value of the named counter of id.
func (s *Statuses) Counter(ctx context.Context, counter, id string) (int64, error) {
	v, err := s.st.Get(ctx, s.keys.counter(counter, id))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("jobconsole: counter %s of %s: %w", counter, id, err)
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

// IncrCounter atomically increments the named counter of id and returns
// the new value. The counter expires with the status records.
func (s *Statuses) IncrCounter(ctx context.Context, counter, id string) (int64, error) {
	key := s.keys.counter(counter, id)
	n, err := s.st.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("jobconsole: increment %s of %s: %w", counter, id, err)
	}
	if s.expiry > 0 {
		if err := s.st.Expire(ctx, key, s.expiry); err != nil {
			return n, fmt.Errorf("jobconsole: expire %s of %s: %w", counter, id, err)
		}
	}
	return n, nil
}

// statusName returns the display name of a status job.
func statusName(class string, options map[string]interface{}) string {
	if len(options) == 0 {
		return class + ": {}"
	}
	data, err := json.Marshal(options)
	if err != nil {
		return class
	}
	return class + ": " + string(data)
}

// EnqueueWithStatus creates a status for a job of class and enqueues it
// with args [uuid, options]. The status is removed again if the job
// cannot be enqueued.
func (s *Statuses) EnqueueWithStatus(ctx context.Context, queue, class string, options map[string]interface{}) (string, error) {
	id := GenerateUUID()
	fields := make(map[string]interface{}, len(options))
	for k, v := range options {
		fields[k] = v
	}
	if err := s.create(ctx, id, statusName(class, options), fields); err != nil {
		return "", err
	}
	if err := s.enqueue(ctx, queue, class, id, options); err != nil {
		if rerr := s.Remove(ctx, id); rerr != nil {
			return "", fmt.Errorf("%w (removing status: %v)", err, rerr)
		}
		return "", err
	}
	return id, nil
}

// EnqueueChained enqueues a job of class that reports into the status of
// its parent, given as options["uuid"].
func (s *Statuses) EnqueueChained(ctx context.Context, queue, class string, options map[string]interface{}) (string, error) {
	id, _ := options["uuid"].(string)
	if id == "" {
		return "", &ValidationError{Problems: []string{"uuid is required to chain a job"}}
	}
	if err := s.enqueue(ctx, queue, class, id, options); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Statuses) enqueue(ctx context.Context, queue, class, id string, options map[string]interface{}) error {
	if options == nil {
		options = map[string]interface{}{}
	}
	return s.queues.Enqueue(ctx, queue, NewEnvelope(class, id, options))
}
