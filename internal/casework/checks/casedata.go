// Package checks holds the built-in verification checks. Each check decodes
// only its own section of the case data; the orchestrator never looks inside.
package checks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wealthcheck/internal/casework/models"
)

// CaseData is the document bundle submitted with a case.
type CaseData struct {
	Identity         *IdentityDocument `json:"identity,omitempty"`
	Payslips         []PayslipDocument `json:"payslips,omitempty"`
	DeclaredIncome   float64           `json:"declared_annual_income,omitempty"`
	WebReferences    []WebReference    `json:"web_references,omitempty"`
	FinancialReports []FinancialReport `json:"financial_reports,omitempty"`
}

type IdentityDocument struct {
	FullName       string `json:"full_name"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	ExpiryDate     string `json:"expiry_date"` // YYYY-MM-DD
	SignatureMatch *bool  `json:"signature_match,omitempty"`
}

type PayslipDocument struct {
	EmployeeName string  `json:"employee_name"`
	Employer     string  `json:"employer"`
	Period       string  `json:"period"`
	GrossPay     float64 `json:"gross_pay"`
	NetPay       float64 `json:"net_pay"`
}

type WebReference struct {
	Source  string `json:"source"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet"`
	Adverse bool   `json:"adverse,omitempty"`
}

type FinancialReport struct {
	Company      string  `json:"company"`
	Year         int     `json:"year"`
	Revenue      float64 `json:"revenue"`
	NetProfit    float64 `json:"net_profit"`
	OwnershipPct float64 `json:"ownership_pct,omitempty"`
}

// decodeCaseData is shared by every check; malformed data can never succeed on
// retry so the error is marked non-retryable.
func decodeCaseData(kind models.CheckKind, raw json.RawMessage) (CaseData, error) {
	var data CaseData
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, models.NewCheckExecutionError(kind, fmt.Errorf("decode case data: %w", err), false)
	}
	return data, nil
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Option configures a check.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
