package checks

import (
	"context"
	"fmt"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
)

// FinancialReports sanity-checks company filings that back investment income.
type FinancialReports struct {
	opts options
}

func NewFinancialReports(opts ...Option) *FinancialReports {
	return &FinancialReports{opts: newOptions(opts)}
}

func (c *FinancialReports) Kind() models.CheckKind { return models.CheckFinancialReports }

type financialEvidence struct {
	Companies    []string `json:"companies"`
	TotalRevenue float64  `json:"total_revenue"`
	TotalProfit  float64  `json:"total_profit"`
}

func (c *FinancialReports) Execute(ctx context.Context, in ports.CheckInput) (models.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CheckResult{}, models.NewCheckExecutionError(c.Kind(), err, true)
	}
	data, err := decodeCaseData(c.Kind(), in.CaseData)
	if err != nil {
		return models.CheckResult{}, err
	}
	now := c.opts.now()
	if len(data.FinancialReports) == 0 {
		return models.CheckResult{
			Verified:    false,
			Issues:      []string{"No financial reports provided"},
			CompletedAt: now,
		}, nil
	}

	issues := []string{}
	ev := financialEvidence{}
	for _, r := range data.FinancialReports {
		label := fmt.Sprintf("%s %d", r.Company, r.Year)
		ev.Companies = append(ev.Companies, label)
		ev.TotalRevenue += r.Revenue
		ev.TotalProfit += r.NetProfit
		if r.Revenue < 0 {
			issues = append(issues, fmt.Sprintf("Report %s has negative revenue", label))
		}
		if r.NetProfit > r.Revenue {
			issues = append(issues, fmt.Sprintf("Report %s declares profit above revenue", label))
		}
		if r.OwnershipPct < 0 || r.OwnershipPct > 100 {
			issues = append(issues, fmt.Sprintf("Report %s has an impossible ownership share", label))
		}
	}

	return models.CheckResult{
		Verified:    len(issues) == 0,
		Issues:      issues,
		Evidence:    mustJSON(ev),
		CompletedAt: now,
	}, nil
}
