package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "wealthcheck/pkg/domain-errors"
)

// CaseID identifies one end-to-end verification run.
// It is a distinct type so case IDs cannot be confused with other UUIDs.
type CaseID uuid.UUID

// NewCaseID returns a fresh random CaseID.
func NewCaseID() CaseID {
	return CaseID(uuid.New())
}

// ParseCaseID parses and validates a CaseID at a trust boundary.
// Empty, malformed and nil UUIDs are rejected with CodeInvalidInput.
func ParseCaseID(s string) (CaseID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CaseID{}, dErrors.New(dErrors.CodeInvalidInput, "case ID is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return CaseID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid case ID")
	}
	if parsed == uuid.Nil {
		return CaseID{}, dErrors.New(dErrors.CodeInvalidInput, "case ID must not be nil")
	}
	return CaseID(parsed), nil
}

func (id CaseID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the ID is the zero UUID.
func (id CaseID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText encodes the ID in canonical UUID form.
func (id CaseID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a canonical UUID.
func (id *CaseID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid case ID")
	}
	*id = CaseID(parsed)
	return nil
}
