package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
)

const (
	maxSubjectNameLength = 200
	maxCommentLength     = 2000
	defaultListLimit     = 50
	maxListLimit         = 500
)

// StartCaseRequest is the HTTP request body for POST /cases.
type StartCaseRequest struct {
	CaseID      string          `json:"case_id,omitempty"`
	SubjectName string          `json:"subject_name"`
	CaseData    json.RawMessage `json:"case_data,omitempty"`
	Checks      []string        `json:"checks,omitempty"`

	parsedCaseID id.CaseID
	parsedChecks []models.CheckKind
}

// Validate implements httputil.Validatable.
func (r *StartCaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	if r.SubjectName == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_name is required")
	}
	if len(r.SubjectName) > maxSubjectNameLength {
		return dErrors.New(dErrors.CodeValidation, "subject_name is too long")
	}
	if trimmed := bytes.TrimSpace(r.CaseData); len(trimmed) > 0 && trimmed[0] != '{' {
		return dErrors.New(dErrors.CodeValidation, "case_data must be a JSON object")
	}
	if r.CaseID != "" {
		caseID, err := id.ParseCaseID(r.CaseID)
		if err != nil {
			return err
		}
		r.parsedCaseID = caseID
	}
	r.parsedChecks = r.parsedChecks[:0]
	for _, c := range r.Checks {
		kind, err := models.ParseCheckKind(c)
		if err != nil {
			return err
		}
		r.parsedChecks = append(r.parsedChecks, kind)
	}
	return nil
}

// ReviewDecisionRequest is the HTTP request body for POST /cases/{id}/review.
type ReviewDecisionRequest struct {
	ForCheck  string `json:"for_check"`
	Approved  *bool  `json:"approved"`
	Comment   string `json:"comment,omitempty"`
	ReviewSeq uint64 `json:"review_seq,omitempty"`

	parsedKind models.CheckKind
}

// Validate implements httputil.Validatable.
func (r *ReviewDecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	kind, err := models.ParseCheckKind(r.ForCheck)
	if err != nil {
		return err
	}
	r.parsedKind = kind
	if r.Approved == nil {
		return dErrors.New(dErrors.CodeValidation, "approved is required")
	}
	r.Comment = strings.TrimSpace(r.Comment)
	if len(r.Comment) > maxCommentLength {
		return dErrors.New(dErrors.CodeValidation, "comment is too long")
	}
	return nil
}
