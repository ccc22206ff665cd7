package models

import "fmt"

// allowedTransitions is the case state machine. Terminal states have no exits.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusRunning: {
		StatusRunning:            {},
		StatusSuspendedForReview: {},
		StatusCompleted:          {},
		StatusFailed:             {},
	},
	StatusSuspendedForReview: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidateTransition returns an InvariantViolationError when from -> to is not allowed.
func ValidateTransition(from, to Status) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return &InvariantViolationError{Invariant: "status_transition", Detail: fmt.Sprintf("unknown status %q", from)}
	}
	if _, ok := next[to]; !ok {
		return &InvariantViolationError{Invariant: "status_transition", Detail: fmt.Sprintf("%s -> %s is not allowed", from, to)}
	}
	return nil
}

// TransitionTo moves the case to next if the state machine allows it.
func (c *CaseState) TransitionTo(next Status) error {
	if err := ValidateTransition(c.Status, next); err != nil {
		return err
	}
	c.Status = next
	return nil
}
