// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// Processor performs a job of a certain class.
type Processor func(ctx context.Context, job *Job) error

// PauseChecker is implemented by the worker performing a job.
type PauseChecker interface {
	// Paused reports whether the worker was asked to pause.
	Paused(ctx context.Context) (bool, error)
	String() string
}

// BeforeFunc runs before a job is performed. Returning ErrDontPerform
// skips the job without recording a failure.
type BeforeFunc func(ctx context.Context, job *Job) error

// AroundFunc wraps the job. It must call next to perform the job.
type AroundFunc func(ctx context.Context, job *Job, next func(context.Context) error) error

// AfterFunc runs after the job was performed successfully.
type AfterFunc func(ctx context.Context, job *Job) error

// FailureFunc runs when a before hook, the job, or an after hook fails.
type FailureFunc func(ctx context.Context, job *Job, err error)

// Hooks are the callbacks of a job type. They run in a fixed order:
// all Before hooks, then the Around hooks with the first one outermost
// wrapping the processor, then all After hooks. Failure hooks run on any
// error of the others.
type Hooks struct {
	Before  []BeforeFunc
	Around  []AroundFunc
	After   []AfterFunc
	Failure []FailureFunc
}

// JobType couples a class name with the code that performs it.
type JobType struct {
	Class string
	// Queue is the default queue of the class. It is used when requeuing
	// failures and triggering schedule entries that name no queue.
	Queue     string
	Processor Processor
	Hooks     Hooks
}

// Perform runs job through the hook chain. performed is false if a
// before or around hook chose not to run the processor.
func (jt *JobType) Perform(ctx context.Context, job *Job) (performed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			performed = true
			err = &PanicError{Value: r, Stack: debug.Stack()}
			jt.runFailureHooks(ctx, job, err)
		}
	}()

	for _, fn := range jt.Hooks.Before {
		if err := fn(ctx, job); err != nil {
			if errors.Is(err, ErrDontPerform) {
				return false, nil
			}
			jt.runFailureHooks(ctx, job, err)
			return false, err
		}
	}

	next := func(ctx context.Context) error {
		performed = true
		if jt.Processor == nil {
			return fmt.Errorf("jobconsole: class %s has no processor", jt.Class)
		}
		return jt.Processor(ctx, job)
	}
	for i := len(jt.Hooks.Around) - 1; i >= 0; i-- {
		around, inner := jt.Hooks.Around[i], next
		next = func(ctx context.Context) error {
			return around(ctx, job, inner)
		}
	}
	if err := next(ctx); err != nil {
		if errors.Is(err, ErrDontPerform) {
			return performed, nil
		}
		jt.runFailureHooks(ctx, job, err)
		return performed, err
	}
	if !performed {
		return false, nil
	}

	for _, fn := range jt.Hooks.After {
		if err := fn(ctx, job); err != nil {
			jt.runFailureHooks(ctx, job, err)
			return true, err
		}
	}
	return true, nil
}

func (jt *JobType) runFailureHooks(ctx context.Context, job *Job, err error) {
	for _, fn := range jt.Hooks.Failure {
		fn(ctx, job, err)
	}
}

// Resolver maps a stored class name back to executable code.
type Resolver interface {
	Resolve(class string) (*JobType, error)
}

// Registry is a Resolver backed by a map. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*JobType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*JobType)}
}

// Register adds jt. Registering the same class twice is an error.
func (r *Registry) Register(jt *JobType) error {
	if jt == nil || jt.Class == "" {
		return errors.New("jobconsole: job type needs a class")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.types[jt.Class]; found {
		return fmt.Errorf("jobconsole: class %s already registered", jt.Class)
	}
	r.types[jt.Class] = jt
	return nil
}

// Handle registers a processor without hooks.
func (r *Registry) Handle(class, queue string, p Processor) error {
	return r.Register(&JobType{Class: class, Queue: queue, Processor: p})
}

// Resolve returns the job type of class or ErrNotFound.
func (r *Registry) Resolve(class string) (*JobType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jt, found := r.types[class]
	if !found {
		return nil, fmt.Errorf("jobconsole: class %s: %w", class, ErrNotFound)
	}
	return jt, nil
}

// Classes returns the registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]string, 0, len(r.types))
	for c := range r.types {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}
