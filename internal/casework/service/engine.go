package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"wealthcheck/internal/casework/gate"
	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
	"wealthcheck/internal/casework/router"
	"wealthcheck/pkg/platform/audit"
)

type checkCompletedDetail struct {
	Kind           models.CheckKind `json:"kind"`
	Attempt        int              `json:"attempt"`
	Verified       bool             `json:"verified"`
	Issues         []string         `json:"issues"`
	EvidenceDigest string           `json:"evidence_digest,omitempty"`
}

type attemptFailedDetail struct {
	Kind      models.CheckKind `json:"kind"`
	Attempt   int              `json:"attempt"`
	Error     string           `json:"error"`
	Retryable bool             `json:"retryable"`
}

type planRevisedDetail struct {
	After models.CheckKind   `json:"after"`
	From  []models.CheckKind `json:"from"`
	To    []models.CheckKind `json:"to"`
}

type completedDetail struct {
	Score    int                `json:"score"`
	Level    models.RiskLevel   `json:"level"`
	Flagged  bool               `json:"flagged"`
	Rejected []models.CheckKind `json:"rejected,omitempty"`
}

type failedDetail struct {
	Reason string `json:"reason"`
}

// drive executes directives until the case leaves Running. Every step is
// persisted before the next directive is computed.
func (s *Service) drive(ctx context.Context, state *models.CaseState) (*models.CaseState, error) {
	for state.Status == models.StatusRunning {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := s.router.Decide(state)
		s.metrics.IncrementDirective(router.Name(d))

		var err error
		switch d := d.(type) {
		case router.RunCheck:
			state, err = s.runCheck(ctx, state, d.Kind)
		case router.OpenReview:
			state, err = s.openReview(ctx, state, d)
		case router.Advance:
			state, err = s.complete(ctx, state)
		case router.Fail:
			state, err = s.terminate(ctx, state, d.Reason, models.ActorSystem, failedDetail{Reason: d.Reason})
		default:
			err = &models.InvariantViolationError{Invariant: "directive", Detail: fmt.Sprintf("unknown directive %T", d)}
		}
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// commit applies mutate to a copy of state, validates and saves it. state is
// returned untouched when any step fails.
func (s *Service) commit(ctx context.Context, state *models.CaseState, mutate func(next *models.CaseState) error) (*models.CaseState, error) {
	next := state.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = state.Version + 1
	if err := s.store.Save(ctx, next); err != nil {
		s.logger.ErrorContext(ctx, "failed to save case",
			"case_id", state.ID,
			"version", next.Version,
			"error", err,
		)
		return nil, &models.PersistenceError{Op: "save", CaseID: state.ID, Err: err}
	}
	s.publishAudit(ctx, next, state.LastSeq())
	return next, nil
}

func (s *Service) runCheck(ctx context.Context, state *models.CaseState, kind models.CheckKind) (*models.CaseState, error) {
	check, ok := s.checks[kind]
	if !ok {
		err := models.NewCheckExecutionError(kind, errors.New("no check registered"), false)
		return s.recordAttemptFailure(ctx, state, kind, state.Failures[kind].Attempts+1, err)
	}
	attempt := state.Failures[kind].Attempts + 1
	if err := s.backoff(ctx, attempt); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "casework.check", trace.WithAttributes(
		attribute.String("case.id", state.ID.String()),
		attribute.String("check.kind", string(kind)),
		attribute.Int("check.attempt", attempt),
	))
	execCtx, cancel := ctx, func() {}
	if s.checkTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, s.checkTimeout)
	}
	start := time.Now()
	res, err := check.Execute(execCtx, ports.CheckInput{
		CaseID:      state.ID,
		SubjectName: state.SubjectName,
		CaseData:    state.CaseData,
		Attempt:     attempt,
	})
	cancel()
	s.metrics.ObserveCheckLatency(string(kind), err == nil, time.Since(start))
	endSpan(span, err)

	if err != nil {
		// Shutting down is not the check's fault; keep the budget for recovery.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.recordAttemptFailure(ctx, state, kind, attempt, err)
	}
	next, err := s.recordResult(ctx, state, kind, attempt, res)
	if err != nil {
		return nil, err
	}
	return s.replan(ctx, next, kind)
}

func (s *Service) backoff(ctx context.Context, attempt int) error {
	if attempt < 2 || s.retryBackoff <= 0 {
		return nil
	}
	delay := s.retryBackoff << (attempt - 2)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) recordAttemptFailure(ctx context.Context, state *models.CaseState, kind models.CheckKind, attempt int, cause error) (*models.CaseState, error) {
	retryable := models.IsRetryable(cause)
	s.metrics.IncrementAttemptFailure(string(kind), retryable)
	s.logger.WarnContext(ctx, "check attempt failed",
		"case_id", state.ID,
		"kind", kind,
		"attempt", attempt,
		"retryable", retryable,
		"error", cause,
	)
	now := s.clock(ctx)
	return s.commit(ctx, state, func(next *models.CaseState) error {
		next.Failures[kind] = models.CheckFailure{
			Attempts:  attempt,
			LastError: cause.Error(),
			Exhausted: !retryable || attempt >= s.router.MaxAttempts(),
		}
		_, err := next.AppendAudit(models.ActorSystem, models.ActionCheckAttemptFailed, attemptFailedDetail{
			Kind:      kind,
			Attempt:   attempt,
			Error:     cause.Error(),
			Retryable: retryable,
		}, now)
		return err
	})
}

func (s *Service) recordResult(ctx context.Context, state *models.CaseState, kind models.CheckKind, attempt int, res models.CheckResult) (*models.CaseState, error) {
	now := s.clock(ctx)
	if res.CompletedAt.IsZero() {
		res.CompletedAt = now
	}
	digest := evidenceDigest(res.Evidence)
	res.Evidence = models.EncodeEvidence(res.Evidence)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		if err := next.RecordResult(kind, res); err != nil {
			return err
		}
		_, err := next.AppendAudit(models.ActorSystem, models.ActionCheckCompleted, checkCompletedDetail{
			Kind:           kind,
			Attempt:        attempt,
			Verified:       res.Verified,
			Issues:         next.Checks[kind].Issues,
			EvidenceDigest: digest,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "check completed",
		"case_id", state.ID,
		"kind", kind,
		"verified", res.Verified,
		"issues", len(res.Issues),
	)
	return next, nil
}

func evidenceDigest(evidence []byte) string {
	if len(evidence) == 0 {
		return ""
	}
	sum := blake2b.Sum256(evidence)
	return hex.EncodeToString(sum[:])
}

// replan lets the replanner revise the remaining plan after a check. A
// revision may reorder or drop pending kinds, but kinds awaiting a review
// and an unresolved identity check always stay, and resolved kinds are never
// added back.
func (s *Service) replan(ctx context.Context, state *models.CaseState, completed models.CheckKind) (*models.CaseState, error) {
	if s.replanner == nil || state.Status != models.StatusRunning {
		return state, nil
	}
	revised := s.sanitizePlan(state, s.replanner.Replan(state.Clone(), completed))
	if slices.Equal(revised, state.Plan) {
		return state, nil
	}

	now := s.clock(ctx)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		detail := planRevisedDetail{After: completed, From: slices.Clone(next.Plan), To: revised}
		next.Plan = revised
		_, err := next.AppendAudit(models.ActorSystem, models.ActionPlanRevised, detail, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "plan revised",
		"case_id", state.ID,
		"after", completed,
		"plan", revised,
	)
	return next, nil
}

func (s *Service) sanitizePlan(state *models.CaseState, proposed []models.CheckKind) []models.CheckKind {
	plan := make([]models.CheckKind, 0, len(proposed))
	for _, k := range proposed {
		if slices.Contains(plan, k) || !k.IsValid() {
			continue
		}
		_, approved := state.Approvals[k]
		if !state.InPlan(k) && (state.HasResult(k) || approved) {
			continue
		}
		plan = append(plan, k)
	}
	for _, k := range state.Plan {
		if slices.Contains(plan, k) {
			continue
		}
		if state.HasResult(k) || (k == models.CheckIdentity && !state.IdentityResolved()) {
			plan = append(plan, k)
		}
	}
	return plan
}

func (s *Service) openReview(ctx context.Context, state *models.CaseState, d router.OpenReview) (*models.CaseState, error) {
	now := s.clock(ctx)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		return gate.Open(next, d.Kind, d.Reasons, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementReviewOpened(string(d.Kind))
	s.logger.InfoContext(ctx, "case suspended for review",
		"case_id", state.ID,
		"kind", d.Kind,
		"reasons", d.Reasons,
	)
	s.notify(ctx, next, d)
	return next, nil
}

// notify runs after the suspension is durable. A failed notification leaves
// the case listable as suspended, so it is logged rather than returned.
func (s *Service) notify(ctx context.Context, state *models.CaseState, d router.OpenReview) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyReviewNeeded(ctx, state.ID, d.Kind, d.Reasons); err != nil {
		s.metrics.IncrementNotifyFailure()
		s.logger.ErrorContext(ctx, "review notification failed",
			"case_id", state.ID,
			"kind", d.Kind,
			"error", err,
		)
	}
}

func (s *Service) resolveReview(ctx context.Context, state *models.CaseState, approval models.ApprovalRecord) (*models.CaseState, error) {
	now := s.clock(ctx)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		return gate.Resume(next, approval, now)
	})
	if err != nil {
		var invalid *models.InvalidResumeError
		if errors.As(err, &invalid) {
			s.metrics.IncrementResumeRejected()
			s.logger.WarnContext(ctx, "resume rejected",
				"case_id", state.ID,
				"kind", approval.ForCheck,
				"reason", invalid.Reason,
			)
		}
		return nil, err
	}
	s.metrics.IncrementReviewResolved(string(approval.ForCheck), approval.Approved)
	s.logger.InfoContext(ctx, "review resolved",
		"case_id", state.ID,
		"kind", approval.ForCheck,
		"approved", approval.Approved,
		"reviewer", approval.Reviewer,
	)
	return next, nil
}

func (s *Service) complete(ctx context.Context, state *models.CaseState) (*models.CaseState, error) {
	now := s.clock(ctx)
	assessment := s.policy.Assess(state, now)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		if err := next.TransitionTo(models.StatusCompleted); err != nil {
			return err
		}
		next.Risk = &assessment
		_, err := next.AppendAudit(models.ActorSystem, models.ActionCaseCompleted, completedDetail{
			Score:    assessment.Score,
			Level:    assessment.Level,
			Flagged:  assessment.Flagged,
			Rejected: next.Rejections(),
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementOutcome(string(models.StatusCompleted), assessment.Flagged)
	s.logger.InfoContext(ctx, "case completed",
		"case_id", state.ID,
		"risk_score", assessment.Score,
		"risk_level", assessment.Level,
		"flagged", assessment.Flagged,
	)
	return next, nil
}

// terminate moves a case to Failed and closes any open review.
func (s *Service) terminate(ctx context.Context, state *models.CaseState, reason, actor string, detail any) (*models.CaseState, error) {
	now := s.clock(ctx)
	next, err := s.commit(ctx, state, func(next *models.CaseState) error {
		if err := next.TransitionTo(models.StatusFailed); err != nil {
			return err
		}
		next.PendingReview = nil
		next.FailureReason = reason
		_, err := next.AppendAudit(actor, models.ActionCaseFailed, detail, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementOutcome(string(models.StatusFailed), false)
	s.logger.WarnContext(ctx, "case failed",
		"case_id", state.ID,
		"reason", reason,
	)
	return next, nil
}

// publishAudit hands entries committed after seq to the audit sink.
func (s *Service) publishAudit(ctx context.Context, state *models.CaseState, seq uint64) {
	if s.auditSink == nil {
		return
	}
	entries := state.EntriesAfter(seq)
	if len(entries) == 0 {
		return
	}
	events := make([]audit.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, audit.Event{
			CaseID:   state.ID.String(),
			Seq:      e.Seq,
			Category: audit.CategoryOf(e.Action),
			Actor:    e.Actor,
			Action:   e.Action,
			Detail:   e.Detail,
			At:       e.At,
		})
	}
	if err := s.auditSink.Publish(ctx, events); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed",
			"case_id", state.ID,
			"events", len(events),
			"error", err,
		)
	}
}
