package models

import (
	"errors"
	"fmt"

	id "wealthcheck/pkg/domain"
)

// ErrCaseExists is the cause of a Start rejected because the case ID is taken.
// It is distinct from other conflicts such as a busy case lock.
var ErrCaseExists = errors.New("case id already in use")

// CheckExecutionError reports that a check could not produce a verdict.
// It is distinct from a verdict with issues.
type CheckExecutionError struct {
	Kind      CheckKind
	Attempt   int
	Retryable bool
	Err       error
}

func (e *CheckExecutionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("check %s attempt %d failed: %v", e.Kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("check %s failed: %v", e.Kind, e.Err)
}

func (e *CheckExecutionError) Unwrap() error { return e.Err }

// NewCheckExecutionError is used by check implementations to classify failures.
func NewCheckExecutionError(kind CheckKind, err error, retryable bool) *CheckExecutionError {
	return &CheckExecutionError{Kind: kind, Err: err, Retryable: retryable}
}

// IsRetryable reports whether err may succeed on a later attempt.
// Errors that are not CheckExecutionErrors are treated as transient.
func IsRetryable(err error) bool {
	var ce *CheckExecutionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

// InvalidResumeError rejects a resume that does not match the open review.
// The case is left untouched.
type InvalidResumeError struct {
	CaseID id.CaseID
	Reason string
}

func (e *InvalidResumeError) Error() string {
	return fmt.Sprintf("invalid resume for case %s: %s", e.CaseID, e.Reason)
}

// InvariantViolationError aborts an operation that would corrupt case state.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// PersistenceError wraps a store failure. The case did not transition.
type PersistenceError struct {
	Op     string
	CaseID id.CaseID
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s case %s: %v", e.Op, e.CaseID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
