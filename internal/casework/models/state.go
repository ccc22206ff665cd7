package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	id "wealthcheck/pkg/domain"
)

// CheckResult is the verdict a check produced. Once recorded it is immutable.
type CheckResult struct {
	Verified bool     `json:"verified"`
	Issues   []string `json:"issues"`
	// Evidence is opaque to the orchestrator; only the owning check decodes it.
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NeedsReview reports whether a human must look at this verdict.
func (r CheckResult) NeedsReview() bool {
	return !r.Verified || len(r.Issues) > 0
}

// ReviewReasons returns the reasons shown to a reviewer.
func (r CheckResult) ReviewReasons(kind CheckKind) []string {
	if len(r.Issues) > 0 {
		return slices.Clone(r.Issues)
	}
	if !r.Verified {
		return []string{fmt.Sprintf("%s could not be verified", kind)}
	}
	return nil
}

// ApprovalRecord is the reviewer's decision. It is only set by a resumed review.
type ApprovalRecord struct {
	ForCheck   CheckKind `json:"for_check"`
	Approved   bool      `json:"approved"`
	ReviewedAt time.Time `json:"reviewed_at"`
	Comment    string    `json:"comment,omitempty"`
	Reviewer   string    `json:"reviewer,omitempty"`
	// ReviewSeq, when set, must match the open review's Seq. It lets callers
	// detect approvals prepared against an earlier review.
	ReviewSeq uint64 `json:"review_seq,omitempty"`
}

// ReviewRequest is present iff the case is suspended.
type ReviewRequest struct {
	ForCheck CheckKind `json:"for_check"`
	Reasons  []string  `json:"reasons"`
	OpenedAt time.Time `json:"opened_at"`
	// Seq is the audit sequence number of the review_opened entry.
	Seq uint64 `json:"seq"`
}

// CheckFailure tracks execution failures for a check that has no result yet.
type CheckFailure struct {
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	Exhausted bool   `json:"exhausted,omitempty"`
}

// CaseState is the full serializable record of one verification run.
type CaseState struct {
	ID            id.CaseID                    `json:"case_id"`
	SubjectName   string                       `json:"subject_name"`
	CaseData      json.RawMessage              `json:"case_data,omitempty"`
	Checks        map[CheckKind]CheckResult    `json:"check_results"`
	Plan          []CheckKind                  `json:"plan"`
	Approvals     map[CheckKind]ApprovalRecord `json:"human_approvals"`
	PendingReview *ReviewRequest               `json:"pending_review,omitempty"`
	Failures      map[CheckKind]CheckFailure   `json:"check_failures,omitempty"`
	Audit         []AuditEntry                 `json:"audit_log"`
	Status        Status                       `json:"status"`
	FailureReason string                       `json:"failure_reason,omitempty"`
	Risk          *RiskAssessment              `json:"risk,omitempty"`
	Version       int64                        `json:"version"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// NewCase builds a Running case with empty maps and the given plan.
func NewCase(caseID id.CaseID, subject string, data json.RawMessage, plan []CheckKind, at time.Time) *CaseState {
	return &CaseState{
		ID:          caseID,
		SubjectName: subject,
		CaseData:    slices.Clone(data),
		Checks:      make(map[CheckKind]CheckResult),
		Plan:        slices.Clone(plan),
		Approvals:   make(map[CheckKind]ApprovalRecord),
		Failures:    make(map[CheckKind]CheckFailure),
		Status:      StatusRunning,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Clone returns a deep copy so a step can be applied without touching the original.
func (c *CaseState) Clone() *CaseState {
	if c == nil {
		return nil
	}
	out := *c
	out.CaseData = slices.Clone(c.CaseData)
	out.Checks = make(map[CheckKind]CheckResult, len(c.Checks))
	for k, r := range c.Checks {
		r.Issues = slices.Clone(r.Issues)
		r.Evidence = slices.Clone(r.Evidence)
		out.Checks[k] = r
	}
	out.Plan = slices.Clone(c.Plan)
	out.Approvals = maps.Clone(c.Approvals)
	if out.Approvals == nil {
		out.Approvals = make(map[CheckKind]ApprovalRecord)
	}
	out.Failures = maps.Clone(c.Failures)
	if out.Failures == nil {
		out.Failures = make(map[CheckKind]CheckFailure)
	}
	if c.PendingReview != nil {
		pr := *c.PendingReview
		pr.Reasons = slices.Clone(pr.Reasons)
		out.PendingReview = &pr
	}
	out.Audit = slices.Clone(c.Audit)
	for i := range out.Audit {
		out.Audit[i].Detail = slices.Clone(out.Audit[i].Detail)
	}
	if c.Risk != nil {
		r := *c.Risk
		r.Factors = slices.Clone(r.Factors)
		out.Risk = &r
	}
	return &out
}

// HasResult reports whether kind has a recorded verdict.
func (c *CaseState) HasResult(kind CheckKind) bool {
	_, ok := c.Checks[kind]
	return ok
}

// IdentityResolved reports whether the sequential identity gate is open:
// identity passed cleanly, or a reviewer approved its issues.
func (c *CaseState) IdentityResolved() bool {
	res, ok := c.Checks[CheckIdentity]
	if !ok {
		return false
	}
	if !res.NeedsReview() {
		return true
	}
	approval, ok := c.Approvals[CheckIdentity]
	return ok && approval.Approved
}

// InPlan reports whether kind is still pending.
func (c *CaseState) InPlan(kind CheckKind) bool {
	return slices.Contains(c.Plan, kind)
}

// RemoveFromPlan drops kind from the pending plan.
func (c *CaseState) RemoveFromPlan(kind CheckKind) {
	c.Plan = slices.DeleteFunc(c.Plan, func(k CheckKind) bool { return k == kind })
}

// RecordResult stores the verdict for kind exactly once. A clean verdict
// leaves the plan; a verdict with issues stays until a reviewer resolves it.
func (c *CaseState) RecordResult(kind CheckKind, res CheckResult) error {
	if c.HasResult(kind) {
		return &InvariantViolationError{
			Invariant: "append_only_results",
			Detail:    fmt.Sprintf("result for %s already recorded", kind),
		}
	}
	res.Issues = slices.Clone(res.Issues)
	if res.Issues == nil {
		res.Issues = []string{}
	}
	c.Checks[kind] = res
	delete(c.Failures, kind)
	if !res.NeedsReview() {
		c.RemoveFromPlan(kind)
	}
	return nil
}

// Rejections returns the kinds whose reviews were declined, in priority order.
func (c *CaseState) Rejections() []CheckKind {
	var out []CheckKind
	for kind, a := range c.Approvals {
		if !a.Approved {
			out = append(out, kind)
		}
	}
	SortByPriority(out)
	return out
}
