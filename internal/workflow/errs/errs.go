// Package errs implements the error taxonomy of spec §7 as concrete Go
// types so the HTTP adapter and the retry layer can dispatch on kind
// without parsing error strings.
package errs

import "fmt"

// ValidationError is rejected input. Surfaced as 400 with field-level
// messages. Never retried.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

func NewValidation(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// NotFoundError is an unknown sample/step/submission. Surfaced as 404.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError is a failed state precondition (e.g. retrying a step that
// is not failed). Surfaced as 409.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func NewConflict(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

// TransientBackendError is database/cache/event-bus unavailability.
// retry.Do retries it with exponential backoff (the Stage Worker Runtime's
// event publishes); the HTTP adapter surfaces it as 503 without retrying.
// This is the only retryable kind in the taxonomy.
type TransientBackendError struct {
	Cause error
}

func (e *TransientBackendError) Error() string {
	if e.Cause == nil {
		return "transient backend error"
	}
	return fmt.Sprintf("transient backend error: %v", e.Cause)
}

func (e *TransientBackendError) Unwrap() error { return e.Cause }

func NewTransient(cause error) *TransientBackendError {
	return &TransientBackendError{Cause: cause}
}

// WorkerError is a stage worker failure or deadline overrun. It is
// recorded on the step, not surfaced to the HTTP caller — it belongs to
// the asynchronous step.failed event, never a request/response cycle.
type WorkerError struct {
	StageName string
	Reason    string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed: %s", e.StageName, e.Reason)
}

func NewWorker(stage, reason string) *WorkerError {
	return &WorkerError{StageName: stage, Reason: reason}
}

// InvariantViolationError is an internal inconsistency (e.g. a completed
// step with an in-progress successor already running). No code path in
// this module constructs it, and nothing pauses a sample on it.
type InvariantViolationError struct {
	Description string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Description)
}

func NewInvariantViolation(desc string) *InvariantViolationError {
	return &InvariantViolationError{Description: desc}
}

// IsRetryable reports whether retry.Do retries err (§7: only
// TransientBackendError qualifies).
func IsRetryable(err error) bool {
	_, ok := err.(*TransientBackendError)
	return ok
}
