package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Audit actors.
const (
	ActorSystem   = "system"
	ActorHuman    = "human"
	ActorOperator = "operator"
)

// Audit actions.
const (
	ActionCaseCreated        = "case_created"
	ActionCheckCompleted     = "check_completed"
	ActionCheckAttemptFailed = "check_attempt_failed"
	ActionPlanRevised        = "plan_revised"
	ActionReviewOpened       = "review_opened"
	ActionReviewResolved     = "review_resolved"
	ActionCaseCompleted      = "case_completed"
	ActionCaseFailed         = "case_failed"
)

// AuditEntry is one immutable record of a transition or external input.
type AuditEntry struct {
	Seq    uint64          `json:"seq"`
	Actor  string          `json:"actor"`
	Action string          `json:"action"`
	Detail json.RawMessage `json:"detail,omitempty"`
	At     time.Time       `json:"at"`
}

// LastSeq returns the sequence number of the newest entry, or 0.
func (c *CaseState) LastSeq() uint64 {
	if len(c.Audit) == 0 {
		return 0
	}
	return c.Audit[len(c.Audit)-1].Seq
}

// AppendAudit appends an entry with the next gap-free sequence number.
func (c *CaseState) AppendAudit(actor, action string, detail any, at time.Time) (AuditEntry, error) {
	var raw json.RawMessage
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return AuditEntry{}, fmt.Errorf("marshal audit detail: %w", err)
		}
		raw = b
	}
	entry := AuditEntry{
		Seq:    c.LastSeq() + 1,
		Actor:  actor,
		Action: action,
		Detail: raw,
		At:     at,
	}
	c.Audit = append(c.Audit, entry)
	c.UpdatedAt = at
	return entry, nil
}

// EntriesAfter returns the entries with Seq > seq.
func (c *CaseState) EntriesAfter(seq uint64) []AuditEntry {
	for i, e := range c.Audit {
		if e.Seq > seq {
			out := make([]AuditEntry, len(c.Audit)-i)
			copy(out, c.Audit[i:])
			return out
		}
	}
	return nil
}

// CountActions returns how many entries carry action.
func (c *CaseState) CountActions(action string) int {
	n := 0
	for _, e := range c.Audit {
		if e.Action == action {
			n++
		}
	}
	return n
}
