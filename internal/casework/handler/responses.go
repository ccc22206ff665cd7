package handler

import (
	"encoding/json"
	"time"

	"wealthcheck/internal/casework/models"
)

// CaseResponse is the HTTP representation of a case.
type CaseResponse struct {
	CaseID         string                         `json:"case_id"`
	SubjectName    string                         `json:"subject_name"`
	Status         string                         `json:"status"`
	Plan           []string                       `json:"plan"`
	CheckResults   map[string]CheckResultResponse `json:"check_results"`
	HumanApprovals map[string]ApprovalResponse    `json:"human_approvals"`
	PendingReview  *PendingReviewResponse         `json:"pending_review,omitempty"`
	FailureReason  string                         `json:"failure_reason,omitempty"`
	Risk           *models.RiskAssessment         `json:"risk,omitempty"`
	Version        int64                          `json:"version"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

type CheckResultResponse struct {
	Verified    bool            `json:"verified"`
	Issues      []string        `json:"issues"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

type ApprovalResponse struct {
	Approved   bool      `json:"approved"`
	Reviewer   string    `json:"reviewer,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

type PendingReviewResponse struct {
	ForCheck  string    `json:"for_check"`
	Reasons   []string  `json:"reasons"`
	OpenedAt  time.Time `json:"opened_at"`
	ReviewSeq uint64    `json:"review_seq"`
}

// CaseSummary is one row of GET /cases.
type CaseSummary struct {
	CaseID      string    `json:"case_id"`
	SubjectName string    `json:"subject_name"`
	Status      string    `json:"status"`
	PendingFor  string    `json:"pending_for,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListCasesResponse struct {
	Cases []CaseSummary `json:"cases"`
}

type AuditEntryResponse struct {
	Seq    uint64          `json:"seq"`
	Actor  string          `json:"actor"`
	Action string          `json:"action"`
	Detail json.RawMessage `json:"detail,omitempty"`
	At     time.Time       `json:"at"`
}

type AuditTrailResponse struct {
	CaseID  string               `json:"case_id"`
	Entries []AuditEntryResponse `json:"entries"`
}

// FromCase converts a domain case to its HTTP response.
func FromCase(state *models.CaseState) *CaseResponse {
	resp := &CaseResponse{
		CaseID:         state.ID.String(),
		SubjectName:    state.SubjectName,
		Status:         string(state.Status),
		Plan:           make([]string, 0, len(state.Plan)),
		CheckResults:   make(map[string]CheckResultResponse, len(state.Checks)),
		HumanApprovals: make(map[string]ApprovalResponse, len(state.Approvals)),
		FailureReason:  state.FailureReason,
		Risk:           state.Risk,
		Version:        state.Version,
		CreatedAt:      state.CreatedAt,
		UpdatedAt:      state.UpdatedAt,
	}
	for _, k := range state.Plan {
		resp.Plan = append(resp.Plan, string(k))
	}
	for k, r := range state.Checks {
		resp.CheckResults[string(k)] = CheckResultResponse{
			Verified:    r.Verified,
			Issues:      r.Issues,
			Evidence:    r.Evidence,
			CompletedAt: r.CompletedAt,
		}
	}
	for k, a := range state.Approvals {
		resp.HumanApprovals[string(k)] = ApprovalResponse{
			Approved:   a.Approved,
			Reviewer:   a.Reviewer,
			Comment:    a.Comment,
			ReviewedAt: a.ReviewedAt,
		}
	}
	if pr := state.PendingReview; pr != nil {
		resp.PendingReview = &PendingReviewResponse{
			ForCheck:  string(pr.ForCheck),
			Reasons:   pr.Reasons,
			OpenedAt:  pr.OpenedAt,
			ReviewSeq: pr.Seq,
		}
	}
	return resp
}

func fromCaseList(cases []*models.CaseState) *ListCasesResponse {
	resp := &ListCasesResponse{Cases: make([]CaseSummary, 0, len(cases))}
	for _, c := range cases {
		summary := CaseSummary{
			CaseID:      c.ID.String(),
			SubjectName: c.SubjectName,
			Status:      string(c.Status),
			UpdatedAt:   c.UpdatedAt,
		}
		if c.PendingReview != nil {
			summary.PendingFor = string(c.PendingReview.ForCheck)
		}
		resp.Cases = append(resp.Cases, summary)
	}
	return resp
}

func fromAudit(caseID string, entries []models.AuditEntry) *AuditTrailResponse {
	resp := &AuditTrailResponse{CaseID: caseID, Entries: make([]AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryResponse{
			Seq:    e.Seq,
			Actor:  e.Actor,
			Action: e.Action,
			Detail: e.Detail,
			At:     e.At,
		})
	}
	return resp
}
