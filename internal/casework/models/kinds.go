package models

import (
	"slices"
	"strings"

	dErrors "wealthcheck/pkg/domain-errors"
)

// CheckKind names one verification step.
type CheckKind string

const (
	CheckIdentity         CheckKind = "identity"
	CheckPayslip          CheckKind = "payslip"
	CheckWebReferences    CheckKind = "web_references"
	CheckFinancialReports CheckKind = "financial_reports"
)

// checkPriority is the fixed tie-break order: lower runs first.
var checkPriority = map[CheckKind]int{
	CheckIdentity:         0,
	CheckPayslip:          1,
	CheckWebReferences:    2,
	CheckFinancialReports: 3,
}

// AllCheckKinds returns every kind in priority order.
func AllCheckKinds() []CheckKind {
	return []CheckKind{CheckIdentity, CheckPayslip, CheckWebReferences, CheckFinancialReports}
}

// ParseCheckKind validates a kind received at a trust boundary.
func ParseCheckKind(s string) (CheckKind, error) {
	k := CheckKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown check kind: "+s)
	}
	return k, nil
}

func (k CheckKind) IsValid() bool {
	_, ok := checkPriority[k]
	return ok
}

func (k CheckKind) String() string { return string(k) }

// Priority returns the kind's tie-break rank.
func (k CheckKind) Priority() int {
	if p, ok := checkPriority[k]; ok {
		return p
	}
	return len(checkPriority)
}

// SortByPriority orders kinds by the fixed tie-break order, in place.
func SortByPriority(kinds []CheckKind) {
	slices.SortStableFunc(kinds, func(a, b CheckKind) int {
		return a.Priority() - b.Priority()
	})
}

// Status is the case lifecycle position.
type Status string

const (
	StatusRunning            Status = "running"
	StatusSuspendedForReview Status = "suspended_for_review"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusRunning, StatusSuspendedForReview, StatusCompleted, StatusFailed}
}

// ParseStatus validates a status received at a trust boundary.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusRunning, StatusSuspendedForReview, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown status: "+s)
}

// IsTerminal reports whether no further directive may be executed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string { return string(s) }
