package checks

import (
	"context"
	"time"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
)

// Identity verifies the subject's identity document.
type Identity struct {
	opts options
}

func NewIdentity(opts ...Option) *Identity {
	return &Identity{opts: newOptions(opts)}
}

func (c *Identity) Kind() models.CheckKind { return models.CheckIdentity }

type identityEvidence struct {
	DocumentType string `json:"document_type,omitempty"`
	ExpiresOn    string `json:"expires_on,omitempty"`
	NameMatches  bool   `json:"name_matches"`
}

func (c *Identity) Execute(ctx context.Context, in ports.CheckInput) (models.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CheckResult{}, models.NewCheckExecutionError(c.Kind(), err, true)
	}
	data, err := decodeCaseData(c.Kind(), in.CaseData)
	if err != nil {
		return models.CheckResult{}, err
	}
	now := c.opts.now()
	doc := data.Identity
	if doc == nil {
		return models.CheckResult{
			Verified:    false,
			Issues:      []string{"No ID document provided"},
			CompletedAt: now,
		}, nil
	}

	issues := []string{}
	nameMatches := sameName(doc.FullName, in.SubjectName)
	if !nameMatches {
		issues = append(issues, "Name on ID document does not match subject")
	}
	if doc.ExpiryDate == "" {
		issues = append(issues, "ID document has no expiry date")
	} else if expiry, perr := time.Parse(time.DateOnly, doc.ExpiryDate); perr != nil {
		issues = append(issues, "ID document expiry date is unreadable")
	} else if !expiry.After(now) {
		issues = append(issues, "ID document has expired")
	}
	if doc.SignatureMatch != nil && !*doc.SignatureMatch {
		issues = append(issues, "Signature mismatch")
	}

	return models.CheckResult{
		Verified: len(issues) == 0,
		Issues:   issues,
		Evidence: mustJSON(identityEvidence{
			DocumentType: doc.DocumentType,
			ExpiresOn:    doc.ExpiryDate,
			NameMatches:  nameMatches,
		}),
		CompletedAt: now,
	}, nil
}
