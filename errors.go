// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobconsole

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a key, worker, status, or schedule entry
	// does not exist. Store implementations must return it (or wrap it) for
	// lookup misses.
	ErrNotFound = errors.New("jobconsole: not found")

	// ErrStoreUnavailable is wrapped by store implementations when the
	// backend cannot be reached.
	ErrStoreUnavailable = errors.New("jobconsole: store unavailable")

	// ErrDuplicateName is returned when adding a schedule entry whose name
	// is already taken.
	ErrDuplicateName = errors.New("jobconsole: name already exists")

	// ErrKilled is returned from StatusJob.Tick when a kill was requested.
	// Job code must return it (or an error wrapping it) to unwind.
	ErrKilled = errors.New("jobconsole: job killed")

	// ErrDontPerform may be returned from a before hook to skip the job
	// without recording a failure.
	ErrDontPerform = errors.New("jobconsole: don't perform")

	// ErrDirtyExit classifies jobs whose worker died while processing them.
	ErrDirtyExit = errors.New("jobconsole: worker exited while processing the job")

	// ErrNoController is returned when a remote-control operation has no
	// collaborator that could carry it out.
	ErrNoController = errors.New("jobconsole: no controller configured")
)

// DirtyExit is the exception name of failures created for jobs whose
// worker disappeared mid-job.
const DirtyExit = "DirtyExit"

// IsNotFound reports whether err indicates a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStoreUnavailable reports whether err indicates lost connectivity.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// ValidationError lists the problems found with a schedule entry.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "jobconsole: " + strings.Join(e.Problems, "; ")
}

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// exceptioner is implemented by errors that want to choose their own
// exception name in the failure log.
type exceptioner interface {
	Exception() string
}

// exceptionName returns the name under which err is classified in the
// failure log.
func exceptionName(err error) string {
	var e exceptioner
	if errors.As(err, &e) {
		return e.Exception()
	}
	if errors.Is(err, ErrDirtyExit) {
		return DirtyExit
	}
	var p *PanicError
	if errors.As(err, &p) {
		return "Panic"
	}
	return fmt.Sprintf("%T", err)
}
