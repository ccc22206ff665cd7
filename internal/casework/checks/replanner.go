package checks

import (
	"slices"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
)

// WebEvidenceReplanner drops the financial reports check when web evidence
// shows the subject is employed and shows no investment activity.
type WebEvidenceReplanner struct{}

func (WebEvidenceReplanner) Replan(state *models.CaseState, completed models.CheckKind) []models.CheckKind {
	plan := slices.Clone(state.Plan)
	if completed != models.CheckWebReferences {
		return plan
	}
	res, ok := state.Checks[models.CheckWebReferences]
	if !ok {
		return plan
	}
	ev, ok := DecodeWebEvidence(res.Evidence)
	if !ok {
		return plan
	}
	if ev.EmploymentSignals > 0 && ev.InvestmentSignals == 0 {
		plan = slices.DeleteFunc(plan, func(k models.CheckKind) bool {
			return k == models.CheckFinancialReports
		})
	}
	return plan
}

// Default returns the built-in check set in priority order.
func Default(opts ...Option) []ports.Check {
	return []ports.Check{
		NewIdentity(opts...),
		NewPayslip(opts...),
		NewWebReferences(opts...),
		NewFinancialReports(opts...),
	}
}
