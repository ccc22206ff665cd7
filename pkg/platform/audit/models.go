package audit

import (
	"context"
	"encoding/json"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route or retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: case
	// creation, human decisions and terminal outcomes.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine progress: check results, retries, replanning.
	CategoryOperations EventCategory = "operations"
)

var complianceActions = map[string]struct{}{
	"case_created":    {},
	"review_opened":   {},
	"review_resolved": {},
	"case_completed":  {},
	"case_failed":     {},
}

// CategoryOf derives the category from an action name.
func CategoryOf(action string) EventCategory {
	if _, ok := complianceActions[action]; ok {
		return CategoryCompliance
	}
	return CategoryOperations
}

// Event is one committed case audit entry in transport-agnostic form.
type Event struct {
	CaseID   string          `json:"case_id"`
	Seq      uint64          `json:"seq"`
	Category EventCategory   `json:"category"`
	Actor    string          `json:"actor"`
	Action   string          `json:"action"`
	Detail   json.RawMessage `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
}

// Sink is a destination for committed audit events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}
