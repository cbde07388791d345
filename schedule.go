// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five field expressions, an optional
// leading seconds field, and descriptors like @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleEntry is a named recurring job.
type ScheduleEntry struct {
	Name        string        `json:"-"`
	Class       string        `json:"class"`
	Cron        string        `json:"cron"`
	IP          string        `json:"ip"`
	Queue       string        `json:"queue,omitempty"`
	Args        []interface{} `json:"args"`
	Description string        `json:"description"`
}

// UnmarshalJSON accepts args that are not a list by wrapping them.
func (e *ScheduleEntry) UnmarshalJSON(data []byte) error {
	var v struct {
		Class       string      `json:"class"`
		Cron        string      `json:"cron"`
		IP          string      `json:"ip"`
		Queue       string      `json:"queue"`
		Args        interface{} `json:"args"`
		Description string      `json:"description"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*e = ScheduleEntry{
		Name:        e.Name,
		Class:       v.Class,
		Cron:        v.Cron,
		IP:          v.IP,
		Queue:       v.Queue,
		Description: v.Description,
	}
	switch args := v.Args.(type) {
	case nil:
	case []interface{}:
		e.Args = args
	default:
		e.Args = []interface{}{args}
	}
	return nil
}

// Validate returns a *ValidationError listing every problem of e.
func (e ScheduleEntry) Validate() error {
	var problems []string
	if e.Name == "" {
		problems = append(problems, "You must enter a name.")
	}
	if e.IP == "" {
		problems = append(problems, "You must enter an ip address for the server you want this job to run on.")
	}
	if e.Cron == "" {
		problems = append(problems, "You must enter the cron schedule.")
	} else if _, err := cronParser.Parse(e.Cron); err != nil {
		problems = append(problems, fmt.Sprintf("Invalid cron schedule %q: %v", e.Cron, err))
	}
	if e.Class == "" {
		problems = append(problems, "You must enter the job class.")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Next returns the first activation of e after t.
func (e ScheduleEntry) Next(t time.Time) (time.Time, error) {
	s, err := cronParser.Parse(e.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobconsole: schedule %s: %w", e.Name, err)
	}
	return s.Next(t), nil
}

// Envelope returns the job the entry enqueues.
func (e ScheduleEntry) Envelope() Envelope {
	return NewEnvelope(e.Class, e.Args...)
}

// Schedule is the list of recurring jobs. Entries are stored as a list
// of single-key objects {"name": entry}.
type Schedule struct {
	st       Store
	keys     keyspace
	queues   *Queues
	resolver Resolver
	control  SchedulerControl
	logger   Logger
}

// NewSchedule returns the schedule over st. control may be nil, in which
// case scheduler processes are not signalled.
func NewSchedule(st Store, cfg Config, r Resolver, control SchedulerControl) *Schedule {
	return &Schedule{
		st:       st,
		keys:     newKeyspace(cfg.Namespace),
		queues:   NewQueues(st, cfg),
		resolver: r,
		control:  control,
		logger:   stdLogger{},
	}
}

type rawEntry struct {
	raw   string
	names []string
	items map[string]ScheduleEntry
}

func (s *Schedule) raw(ctx context.Context) ([]rawEntry, error) {
	items, err := s.st.ListRange(ctx, s.keys.scheduled(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("jobconsole: read schedule: %w", err)
	}
	list := make([]rawEntry, 0, len(items))
	for _, raw := range items {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Printf("jobconsole: skipping invalid schedule entry %q: %v", raw, err)
			continue
		}
		re := rawEntry{raw: raw, items: make(map[string]ScheduleEntry, len(m))}
		for name, data := range m {
			e := ScheduleEntry{Name: name}
			if err := json.Unmarshal(data, &e); err != nil {
				s.logger.Printf("jobconsole: skipping invalid schedule entry %s: %v", name, err)
				continue
			}
			re.names = append(re.names, name)
			re.items[name] = e
		}
		sort.Strings(re.names)
		list = append(list, re)
	}
	return list, nil
}

// Entries returns the entries in the order they were added. If a name
// appears more than once, the last one wins.
func (s *Schedule) Entries(ctx context.Context) ([]ScheduleEntry, error) {
	list, err := s.raw(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var entries []ScheduleEntry
	for _, re := range list {
		for _, name := range re.names {
			if i, found := index[name]; found {
				entries[i] = re.items[name]
				continue
			}
			index[name] = len(entries)
			entries = append(entries, re.items[name])
		}
	}
	return entries, nil
}

// Map returns the entries by name.
func (s *Schedule) Map(ctx context.Context) (map[string]ScheduleEntry, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]ScheduleEntry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return m, nil
}

// Get returns the entry called name or ErrNotFound.
func (s *Schedule) Get(ctx context.Context, name string) (*ScheduleEntry, error) {
	m, err := s.Map(ctx)
	if err != nil {
		return nil, err
	}
	e, found := m[name]
	if !found {
		return nil, fmt.Errorf("jobconsole: schedule entry %s: %w", name, ErrNotFound)
	}
	return &e, nil
}

// Add appends e and asks the scheduler on e.IP to restart. It returns
// ErrDuplicateName if the name is taken and a *ValidationError if e is
// incomplete. A failing restart is logged, not returned.
func (s *Schedule) Add(ctx context.Context, e ScheduleEntry) error {
	m, err := s.Map(ctx)
	if err != nil {
		return err
	}
	if _, found := m[e.Name]; found && e.Name != "" {
		return fmt.Errorf("jobconsole: schedule entry %s: %w", e.Name, ErrDuplicateName)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Args == nil {
		e.Args = []interface{}{}
	}
	data, err := json.Marshal(map[string]ScheduleEntry{e.Name: e})
	if err != nil {
		return fmt.Errorf("jobconsole: encode schedule entry %s: %w", e.Name, err)
	}
	if err := s.st.Push(ctx, s.keys.scheduled(), string(data)); err != nil {
		return fmt.Errorf("jobconsole: add schedule entry %s: %w", e.Name, err)
	}
	s.restart(ctx, e.IP)
	return nil
}

// Remove deletes the entry called name and asks the scheduler on host to
// restart. It reports whether an entry was removed; a missing entry is
// not an error.
func (s *Schedule) Remove(ctx context.Context, name, host string) (bool, error) {
	list, err := s.raw(ctx)
	if err != nil {
		return false, err
	}
	var removed bool
	for _, re := range list {
		if _, found := re.items[name]; !found {
			continue
		}
		n, err := s.st.ListRemove(ctx, s.keys.scheduled(), 0, re.raw)
		if err != nil {
			return removed, fmt.Errorf("jobconsole: remove schedule entry %s: %w", name, err)
		}
		removed = removed || n > 0
	}
	if removed {
		s.restart(ctx, host)
	}
	return removed, nil
}

// TriggerNow enqueues the job of the entry called name right away.
func (s *Schedule) TriggerNow(ctx context.Context, name string) error {
	e, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	return s.Enqueue(ctx, *e)
}

// Enqueue enqueues the job of e onto its queue, or the default queue of
// its class.
func (s *Schedule) Enqueue(ctx context.Context, e ScheduleEntry) error {
	queue := e.Queue
	if queue == "" && s.resolver != nil {
		if jt, err := s.resolver.Resolve(e.Class); err == nil {
			queue = jt.Queue
		}
	}
	if queue == "" {
		return &ValidationError{Problems: []string{fmt.Sprintf("no queue known for class %s", e.Class)}}
	}
	return s.queues.Enqueue(ctx, queue, e.Envelope())
}

// Start starts the scheduler on host.
func (s *Schedule) Start(ctx context.Context, host string) error {
	if s.control == nil {
		return ErrNoController
	}
	return s.control.Start(ctx, host)
}

// Stop stops the scheduler on host.
func (s *Schedule) Stop(ctx context.Context, host string) error {
	if s.control == nil {
		return ErrNoController
	}
	return s.control.Stop(ctx, host)
}

// Restart stops and starts the scheduler on host.
func (s *Schedule) Restart(ctx context.Context, host string) error {
	if s.control == nil {
		return ErrNoController
	}
	if r, ok := s.control.(schedulerRestarter); ok {
		return r.Restart(ctx, host)
	}
	if err := s.control.Stop(ctx, host); err != nil {
		return err
	}
	return s.control.Start(ctx, host)
}

func (s *Schedule) restart(ctx context.Context, host string) {
	if s.control == nil || host == "" {
		return
	}
	if err := s.Restart(ctx, host); err != nil {
		s.logger.Printf("jobconsole: restarting scheduler on %s: %v", host, err)
	}
}

const (
	SchedulerRunning = "Running"
	SchedulerStopped = "Stopped"
)

// FarmStatus reports for every host named in the schedule whether its
// scheduler is running.
func (s *Schedule) FarmStatus(ctx context.Context) (map[string]string, error) {
	if s.control == nil {
		return nil, ErrNoController
	}
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	status := make(map[string]string)
	for _, e := range entries {
		if _, done := status[e.IP]; done || e.IP == "" {
			continue
		}
		running, err := s.control.IsRunning(ctx, e.IP)
		if err != nil {
			return nil, err
		}
		status[e.IP] = SchedulerStopped
		if running {
			status[e.IP] = SchedulerRunning
		}
	}
	return status, nil
}
