package cron

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrInvalidPattern = errors.New("cron: invalid pattern")
	ErrDuplicateJob   = errors.New("cron: job already registered")
	ErrJobNotFound    = errors.New("cron: job not found")
	ErrHandlerFailed  = errors.New("cron: handler failed")
	ErrTaskNotFound   = errors.New("cron: task not registered")
)

// PatternError is returned when a cron expression cannot be parsed.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid cron pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() []error {
	return []error{ErrInvalidPattern, e.Err}
}

// DuplicateJobError is returned when registering a name that is already taken.
type DuplicateJobError struct {
	Name string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("job %s already registered", e.Name)
}

func (e *DuplicateJobError) Unwrap() error {
	return ErrDuplicateJob
}

// NotFoundError is returned by lookups on an unknown job name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrJobNotFound
}

// HandlerError carries a failure raised by a job's own handler, including
// recovered panics.
type HandlerError struct {
	Job string
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s handler failed: %v", e.Job, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}
