// Package fetcherrors defines the error taxonomy shared by every component
// of the materialization engine (store, destination, source, platform,
// resource, task).
package fetcherrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", Err...)
// so callers can recover the category with errors.Is.
var (
	// ErrNotFound means a resource, owner, repo, ref, or selector does not
	// exist on the remote platform.
	ErrNotFound = errors.New("not found")

	// ErrInvalid means an action was refused by a precondition, e.g.
	// update on a resource that was never created.
	ErrInvalid = errors.New("invalid")

	// ErrConflict means a destination path is already claimed by a
	// different resource in the store.
	ErrConflict = errors.New("conflict")

	// ErrUserModified means the on-disk file diverged from the stored
	// digest and force was not set.
	ErrUserModified = errors.New("user modified")

	// ErrAlreadyExists means a path exists on disk, is not yet tracked in
	// the store, and its content differs from the new version.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnsafe means an archive member path escapes the output
	// directory and trusted was not set.
	ErrUnsafe = errors.New("unsafe path")

	// ErrUnsupported means the action is not implemented for this
	// source type.
	ErrUnsupported = errors.New("unsupported")

	// errCancel is the internal signal a Destination uses to abort a
	// no-op write silently. It must never escape to a Task caller.
	errCancel = errors.New("cancel")
)

// Cancel returns the sentinel used internally by pkg/destination to signal
// a silent no-op write. It is exported only so pkg/source and pkg/resource,
// which must recognize and swallow it, can do so with errors.Is without a
// dependency cycle.
func Cancel() error { return errCancel }

// IsCancel reports whether err is (or wraps) the internal cancel signal.
func IsCancel(err error) bool { return errors.Is(err, errCancel) }

// ResourceSourceError pairs a failure with the (resource, source) it
// happened on, for TaskError's aggregation.
type ResourceSourceError struct {
	Resource string
	Source   string
	Err      error
}

func (e *ResourceSourceError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Resource, e.Source, e.Err)
}

func (e *ResourceSourceError) Unwrap() error { return e.Err }

// TaskError aggregates every failed (resource, source) pair encountered
// during one task, per spec: "A Task reports a composite error naming
// every failed (resource, source) pair."
type TaskError struct {
	Failures []*ResourceSourceError
}

func (e *TaskError) Add(resource, source string, err error) {
	e.Failures = append(e.Failures, &ResourceSourceError{Resource: resource, Source: source, Err: err})
}

func (e *TaskError) HasFailures() bool { return len(e.Failures) > 0 }

func (e *TaskError) Error() string {
	if len(e.Failures) == 0 {
		return "no failures"
	}
	msg := fmt.Sprintf("%d failure(s):", len(e.Failures))
	for _, f := range e.Failures {
		msg += "\n  - " + f.Error()
	}
	return msg
}

// AsTaskError returns the *TaskError if err is or wraps one.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	ok := errors.As(err, &te)
	return te, ok
}
