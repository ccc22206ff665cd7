package models

import "fmt"

// Validate checks every structural invariant of a case. A step whose result
// fails validation must be discarded, never saved.
func (c *CaseState) Validate() error {
	if c.ID.IsNil() {
		return &InvariantViolationError{Invariant: "case_id", Detail: "case ID is nil"}
	}
	if err := c.validateSequentialGate(); err != nil {
		return err
	}
	if err := c.validatePendingReview(); err != nil {
		return err
	}
	if err := c.validateAuditSequence(); err != nil {
		return err
	}
	return c.validatePlan()
}

// No check other than identity may have a result before identity resolves.
func (c *CaseState) validateSequentialGate() error {
	if c.IdentityResolved() {
		return nil
	}
	for kind := range c.Checks {
		if kind != CheckIdentity {
			return &InvariantViolationError{
				Invariant: "sequential_gate",
				Detail:    fmt.Sprintf("%s has a result before identity was resolved", kind),
			}
		}
	}
	return nil
}

func (c *CaseState) validatePendingReview() error {
	suspended := c.Status == StatusSuspendedForReview
	if suspended != (c.PendingReview != nil) {
		return &InvariantViolationError{
			Invariant: "pending_review",
			Detail:    fmt.Sprintf("status %s with pending review present=%t", c.Status, c.PendingReview != nil),
		}
	}
	return nil
}

func (c *CaseState) validateAuditSequence() error {
	for i, e := range c.Audit {
		if e.Seq != uint64(i)+1 {
			return &InvariantViolationError{
				Invariant: "audit_sequence",
				Detail:    fmt.Sprintf("entry %d has seq %d", i, e.Seq),
			}
		}
	}
	return nil
}

func (c *CaseState) validatePlan() error {
	seen := make(map[CheckKind]struct{}, len(c.Plan))
	for _, kind := range c.Plan {
		if !kind.IsValid() {
			return &InvariantViolationError{Invariant: "plan", Detail: fmt.Sprintf("unknown kind %q", kind)}
		}
		if _, dup := seen[kind]; dup {
			return &InvariantViolationError{Invariant: "plan", Detail: fmt.Sprintf("%s planned twice", kind)}
		}
		seen[kind] = struct{}{}
		if res, ok := c.Checks[kind]; ok && !res.NeedsReview() {
			return &InvariantViolationError{Invariant: "plan", Detail: fmt.Sprintf("%s already completed cleanly", kind)}
		}
	}
	return nil
}
