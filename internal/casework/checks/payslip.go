package checks

import (
	"context"
	"fmt"
	"math"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
)

// DefaultIncomeTolerance is how far declared income may drift from payslips.
const DefaultIncomeTolerance = 0.2

// Payslip checks payslips for consistency with the subject and their declared income.
type Payslip struct {
	opts      options
	tolerance float64
}

func NewPayslip(opts ...Option) *Payslip {
	return &Payslip{opts: newOptions(opts), tolerance: DefaultIncomeTolerance}
}

func (c *Payslip) Kind() models.CheckKind { return models.CheckPayslip }

type payslipEvidence struct {
	Employers       []string `json:"employers"`
	Months          int      `json:"months"`
	AverageGross    float64  `json:"average_gross"`
	AnnualisedGross float64  `json:"annualised_gross"`
	DeclaredIncome  float64  `json:"declared_income,omitempty"`
}

func (c *Payslip) Execute(ctx context.Context, in ports.CheckInput) (models.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CheckResult{}, models.NewCheckExecutionError(c.Kind(), err, true)
	}
	data, err := decodeCaseData(c.Kind(), in.CaseData)
	if err != nil {
		return models.CheckResult{}, err
	}
	now := c.opts.now()
	if len(data.Payslips) == 0 {
		return models.CheckResult{
			Verified:    false,
			Issues:      []string{"No payslips provided"},
			CompletedAt: now,
		}, nil
	}

	issues := []string{}
	var employers []string
	seen := make(map[string]bool)
	var gross float64
	for _, p := range data.Payslips {
		if !sameName(p.EmployeeName, in.SubjectName) {
			issues = append(issues, fmt.Sprintf("Payslip for %s is issued to a different name", p.Period))
		}
		if p.GrossPay <= 0 {
			issues = append(issues, fmt.Sprintf("Payslip for %s has no gross pay", p.Period))
		}
		if p.NetPay > p.GrossPay {
			issues = append(issues, fmt.Sprintf("Payslip for %s has net pay above gross pay", p.Period))
		}
		if p.Employer != "" && !seen[p.Employer] {
			seen[p.Employer] = true
			employers = append(employers, p.Employer)
		}
		gross += p.GrossPay
	}

	avg := gross / float64(len(data.Payslips))
	annual := avg * 12
	if data.DeclaredIncome > 0 && annual > 0 {
		drift := math.Abs(data.DeclaredIncome-annual) / annual
		if drift > c.tolerance {
			issues = append(issues, fmt.Sprintf("Declared income deviates from payslips by %.0f%%", drift*100))
		}
	}

	return models.CheckResult{
		Verified: len(issues) == 0,
		Issues:   issues,
		Evidence: mustJSON(payslipEvidence{
			Employers:       employers,
			Months:          len(data.Payslips),
			AverageGross:    math.Round(avg*100) / 100,
			AnnualisedGross: math.Round(annual*100) / 100,
			DeclaredIncome:  data.DeclaredIncome,
		}),
		CompletedAt: now,
	}, nil
}
