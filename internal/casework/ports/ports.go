// Package ports declares the collaborators the orchestrator drives.
package ports

import (
	"context"
	"encoding/json"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// CheckInput is what a check receives. CaseData is opaque to the orchestrator.
type CheckInput struct {
	CaseID      id.CaseID
	SubjectName string
	CaseData    json.RawMessage
	Attempt     int
}

// Check produces a verdict for one evidentiary category. Execute must be safe
// to call more than once for the same case.
type Check interface {
	Kind() models.CheckKind
	Execute(ctx context.Context, in CheckInput) (models.CheckResult, error)
}

// Store persists whole case snapshots.
//
// Save is version-checked: a state with Version 1 is inserted (sentinel.ErrConflict
// if the case exists); any later version replaces the stored snapshot only if the
// stored version is Version-1 (sentinel.ErrConflict otherwise). A save is all or
// nothing. ListByStatus orders by last update, oldest first.
type Store interface {
	Save(ctx context.Context, state *models.CaseState) error
	Load(ctx context.Context, caseID id.CaseID) (*models.CaseState, error)
	ReadAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error)
}

// Locker serializes mutation of one case across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, caseID id.CaseID) (unlock func(), err error)
}

// Notifier tells the review surface a decision is needed.
type Notifier interface {
	NotifyReviewNeeded(ctx context.Context, caseID id.CaseID, kind models.CheckKind, reasons []string) error
}

// AuditSink receives audit entries after they are durably committed.
type AuditSink interface {
	Publish(ctx context.Context, events []audit.Event) error
}

// Replanner may reorder or prune the remaining plan after a check completes.
// It must not add kinds that already have results.
type Replanner interface {
	Replan(state *models.CaseState, completed models.CheckKind) []models.CheckKind
}
