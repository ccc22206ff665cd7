package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
)

var (
	adverseTerms = []string{
		"fraud", "sanction", "lawsuit", "bankruptcy", "money laundering",
		"indicted", "convicted", "embezzle",
	}
	employmentTerms = []string{
		"employee", "employed", "works at", "engineer", "manager", "director",
		"salary", "linkedin",
	}
	investmentTerms = []string{
		"investor", "investment", "shareholder", "dividend", "stocks", "bonds",
		"portfolio", "financial report",
	}
)

// WebReferences screens public references for adverse media and classifies
// the subject's visible sources of income.
type WebReferences struct {
	opts options
}

func NewWebReferences(opts ...Option) *WebReferences {
	return &WebReferences{opts: newOptions(opts)}
}

func (c *WebReferences) Kind() models.CheckKind { return models.CheckWebReferences }

// WebEvidence is the evidence payload of a WebReferences result.
type WebEvidence struct {
	Sources           []string `json:"sources"`
	EmploymentSignals int      `json:"employment_signals"`
	InvestmentSignals int      `json:"investment_signals"`
	AdverseMentions   int      `json:"adverse_mentions"`
}

func (c *WebReferences) Execute(ctx context.Context, in ports.CheckInput) (models.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CheckResult{}, models.NewCheckExecutionError(c.Kind(), err, true)
	}
	data, err := decodeCaseData(c.Kind(), in.CaseData)
	if err != nil {
		return models.CheckResult{}, err
	}
	now := c.opts.now()
	if len(data.WebReferences) == 0 {
		return models.CheckResult{
			Verified:    false,
			Issues:      []string{"No web references found"},
			CompletedAt: now,
		}, nil
	}

	issues := []string{}
	ev := WebEvidence{Sources: make([]string, 0, len(data.WebReferences))}
	for _, ref := range data.WebReferences {
		text := strings.ToLower(ref.Title + " " + ref.Snippet)
		ev.Sources = append(ev.Sources, ref.Source)
		if ref.Adverse || containsAny(text, adverseTerms) {
			ev.AdverseMentions++
			issues = append(issues, fmt.Sprintf("Adverse media in %s", ref.Source))
		}
		if containsAny(text, employmentTerms) {
			ev.EmploymentSignals++
		}
		if containsAny(text, investmentTerms) {
			ev.InvestmentSignals++
		}
	}

	return models.CheckResult{
		Verified:    len(issues) == 0,
		Issues:      issues,
		Evidence:    mustJSON(ev),
		CompletedAt: now,
	}, nil
}

// DecodeWebEvidence reads the evidence written by WebReferences.
func DecodeWebEvidence(raw json.RawMessage) (WebEvidence, bool) {
	var ev WebEvidence
	if len(raw) == 0 {
		return ev, false
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, false
	}
	return ev, true
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
