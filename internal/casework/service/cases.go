package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
	"wealthcheck/pkg/platform/sentinel"
)

// StartRequest describes a new case. A nil CaseID is replaced by a fresh one;
// an empty Checks list plans every check.
type StartRequest struct {
	CaseID      id.CaseID
	SubjectName string
	CaseData    json.RawMessage
	Checks      []models.CheckKind
}

type createdDetail struct {
	SubjectName string             `json:"subject_name"`
	Plan        []models.CheckKind `json:"plan"`
}

type cancelledDetail struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by,omitempty"`
}

const cancelReason = "cancelled"

// Start creates a case, persists it and drives it until it suspends or ends.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.CaseState, error) {
	plan, err := s.validateStart(&req)
	if err != nil {
		return nil, err
	}
	caseID := req.CaseID
	if caseID.IsNil() {
		caseID = id.NewCaseID()
	}

	ctx, span := s.startSpan(ctx, "casework.Start", caseID)
	state, err := s.withLock(ctx, caseID, func(ctx context.Context) (*models.CaseState, error) {
		now := s.clock(ctx)
		state := models.NewCase(caseID, req.SubjectName, req.CaseData, plan, now)
		if _, err := state.AppendAudit(models.ActorSystem, models.ActionCaseCreated, createdDetail{SubjectName: state.SubjectName, Plan: plan}, now); err != nil {
			return nil, err
		}
		if err := state.Validate(); err != nil {
			return nil, err
		}
		state.Version = 1
		if err := s.store.Save(ctx, state); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, dErrors.Wrap(models.ErrCaseExists, dErrors.CodeConflict, "case already exists")
			}
			return nil, &models.PersistenceError{Op: "create", CaseID: caseID, Err: err}
		}
		s.publishAudit(ctx, state, 0)
		s.logger.InfoContext(ctx, "case created",
			"case_id", caseID,
			"plan", plan,
		)
		return s.drive(ctx, state)
	})
	endSpan(span, err)
	return state, err
}

func (s *Service) validateStart(req *StartRequest) ([]models.CheckKind, error) {
	req.SubjectName = strings.TrimSpace(req.SubjectName)
	if req.SubjectName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject name is required")
	}
	if len(bytes.TrimSpace(req.CaseData)) > 0 {
		if !json.Valid(req.CaseData) || bytes.TrimSpace(req.CaseData)[0] != '{' {
			return nil, dErrors.New(dErrors.CodeValidation, "case data must be a JSON object")
		}
	}
	for _, k := range req.Checks {
		if !k.IsValid() {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown check kind %q", k))
		}
	}
	plan := s.router.InitialPlan(req.Checks)
	for _, k := range plan {
		if _, ok := s.checks[k]; !ok {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("check %s is not available", k))
		}
	}
	return plan, nil
}

// Run re-drives a case from its stored state. Suspended and terminal cases
// are returned unchanged.
func (s *Service) Run(ctx context.Context, caseID id.CaseID) (*models.CaseState, error) {
	ctx, span := s.startSpan(ctx, "casework.Run", caseID)
	state, err := s.withLoadedCase(ctx, caseID, func(ctx context.Context, state *models.CaseState) (*models.CaseState, error) {
		if state.Status != models.StatusRunning {
			return state, nil
		}
		return s.drive(ctx, state)
	})
	endSpan(span, err)
	return state, err
}

// Resume applies a reviewer decision to a suspended case and drives it on.
// A decision that does not match the open review is rejected with an
// InvalidResumeError and the case is left as it was.
func (s *Service) Resume(ctx context.Context, caseID id.CaseID, approval models.ApprovalRecord) (*models.CaseState, error) {
	if !approval.ForCheck.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown check kind %q", approval.ForCheck))
	}
	ctx, span := s.startSpan(ctx, "casework.Resume", caseID)
	span.SetAttributes(attribute.String("check.kind", string(approval.ForCheck)))
	state, err := s.withLoadedCase(ctx, caseID, func(ctx context.Context, state *models.CaseState) (*models.CaseState, error) {
		next, err := s.resolveReview(ctx, state, approval)
		if err != nil {
			return nil, err
		}
		return s.drive(ctx, next)
	})
	endSpan(span, err)
	return state, err
}

// Cancel force-fails a case that has not finished yet.
func (s *Service) Cancel(ctx context.Context, caseID id.CaseID, requestedBy string) (*models.CaseState, error) {
	ctx, span := s.startSpan(ctx, "casework.Cancel", caseID)
	state, err := s.withLoadedCase(ctx, caseID, func(ctx context.Context, state *models.CaseState) (*models.CaseState, error) {
		if state.Status.IsTerminal() {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("case is already %s", state.Status))
		}
		detail := cancelledDetail{Reason: cancelReason, RequestedBy: strings.TrimSpace(requestedBy)}
		next, err := s.terminate(ctx, state, cancelReason, models.ActorOperator, detail)
		if err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "case cancelled",
			"case_id", caseID,
			"requested_by", detail.RequestedBy,
		)
		return next, nil
	})
	endSpan(span, err)
	return state, err
}

// Get returns the stored case.
func (s *Service) Get(ctx context.Context, caseID id.CaseID) (*models.CaseState, error) {
	state, err := s.store.Load(ctx, caseID)
	if err != nil {
		return nil, s.translateLoadErr(caseID, err)
	}
	return state, nil
}

// AuditTrail returns every audit entry of a case in sequence order.
func (s *Service) AuditTrail(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	entries, err := s.store.ReadAudit(ctx, caseID)
	if err != nil {
		return nil, s.translateLoadErr(caseID, err)
	}
	return entries, nil
}

// List returns cases in status, least recently updated first so the longest
// waiting case leads the queue. An empty status lists every case.
func (s *Service) List(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error) {
	if status != "" {
		parsed, err := models.ParseStatus(string(status))
		if err != nil {
			return nil, err
		}
		status = parsed
	}
	cases, err := s.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list", Err: err}
	}
	return cases, nil
}

// RecoverRunning re-drives every Running case, for example after a restart.
// A case that fails to recover is logged and skipped. It returns how many
// cases were driven successfully.
func (s *Service) RecoverRunning(ctx context.Context) (int, error) {
	cases, err := s.store.ListByStatus(ctx, models.StatusRunning, 0)
	if err != nil {
		return 0, &models.PersistenceError{Op: "list", Err: err}
	}
	if len(cases) == 0 {
		return 0, nil
	}

	var recovered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.recoveryConcurrency)
	for _, c := range cases {
		caseID := c.ID
		g.Go(func() error {
			if _, err := s.Run(gctx, caseID); err != nil {
				s.logger.WarnContext(gctx, "case recovery failed",
					"case_id", caseID,
					"error", err,
				)
				return nil
			}
			recovered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "running cases recovered",
		"found", len(cases),
		"recovered", recovered.Load(),
	)
	return int(recovered.Load()), ctx.Err()
}

func (s *Service) withLock(ctx context.Context, caseID id.CaseID, fn func(ctx context.Context) (*models.CaseState, error)) (*models.CaseState, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, caseID)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, sentinel.ErrLockHeld) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "case is busy")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to lock case")
	}
	defer unlock()
	return fn(ctx)
}

func (s *Service) withLoadedCase(ctx context.Context, caseID id.CaseID, fn func(ctx context.Context, state *models.CaseState) (*models.CaseState, error)) (*models.CaseState, error) {
	return s.withLock(ctx, caseID, func(ctx context.Context) (*models.CaseState, error) {
		state, err := s.store.Load(ctx, caseID)
		if err != nil {
			return nil, s.translateLoadErr(caseID, err)
		}
		return fn(ctx, state)
	})
}

func (s *Service) translateLoadErr(caseID id.CaseID, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return &models.PersistenceError{Op: "load", CaseID: caseID, Err: err}
}

func (s *Service) startSpan(ctx context.Context, name string, caseID id.CaseID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("case.id", caseID.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
