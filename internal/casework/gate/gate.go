// Package gate implements the review suspend/resume point.
//
// Both functions mutate the state they are given. Callers pass a working
// copy and only persist it if the call returns nil; on error the copy is
// unchanged.
package gate

import (
	"fmt"
	"slices"
	"time"

	"wealthcheck/internal/casework/models"
)

type openedDetail struct {
	Kind    models.CheckKind `json:"kind"`
	Reasons []string         `json:"reasons"`
}

// Open suspends a running case for a human decision on kind.
// Opening the review that is already pending is a no-op.
func Open(state *models.CaseState, kind models.CheckKind, reasons []string, at time.Time) error {
	if pr := state.PendingReview; pr != nil {
		if pr.ForCheck == kind {
			return nil
		}
		return &models.InvariantViolationError{
			Invariant: "single_review",
			Detail:    fmt.Sprintf("review for %s is already open, cannot open %s", pr.ForCheck, kind),
		}
	}
	if err := models.ValidateTransition(state.Status, models.StatusSuspendedForReview); err != nil {
		return err
	}

	reasons = slices.Clone(reasons)
	entry, err := state.AppendAudit(models.ActorSystem, models.ActionReviewOpened, openedDetail{Kind: kind, Reasons: reasons}, at)
	if err != nil {
		return err
	}
	state.Status = models.StatusSuspendedForReview
	state.PendingReview = &models.ReviewRequest{
		ForCheck: kind,
		Reasons:  reasons,
		OpenedAt: at,
		Seq:      entry.Seq,
	}
	return nil
}

// Resume applies a reviewer's decision to the pending review and puts the
// case back to Running. The reviewed kind leaves the plan whatever the
// decision; the router decides what a rejection means.
func Resume(state *models.CaseState, approval models.ApprovalRecord, at time.Time) error {
	if state.Status != models.StatusSuspendedForReview || state.PendingReview == nil {
		return &models.InvalidResumeError{
			CaseID: state.ID,
			Reason: fmt.Sprintf("case is %s, not awaiting review", state.Status),
		}
	}
	pending := state.PendingReview
	if approval.ForCheck != pending.ForCheck {
		return &models.InvalidResumeError{
			CaseID: state.ID,
			Reason: fmt.Sprintf("approval is for %s but the open review is for %s", approval.ForCheck, pending.ForCheck),
		}
	}
	if approval.ReviewSeq != 0 && approval.ReviewSeq != pending.Seq {
		return &models.InvalidResumeError{
			CaseID: state.ID,
			Reason: fmt.Sprintf("approval targets review %d but review %d is open", approval.ReviewSeq, pending.Seq),
		}
	}
	if _, exists := state.Approvals[approval.ForCheck]; exists {
		return &models.InvariantViolationError{
			Invariant: "single_approval",
			Detail:    fmt.Sprintf("%s already has an approval record", approval.ForCheck),
		}
	}

	if approval.ReviewedAt.IsZero() {
		approval.ReviewedAt = at
	}
	approval.ReviewSeq = pending.Seq
	if _, err := state.AppendAudit(models.ActorHuman, models.ActionReviewResolved, approval, at); err != nil {
		return err
	}
	state.Approvals[approval.ForCheck] = approval
	state.PendingReview = nil
	state.Status = models.StatusRunning
	state.RemoveFromPlan(approval.ForCheck)
	return nil
}
