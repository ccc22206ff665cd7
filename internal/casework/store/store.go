// Package store holds the case snapshot stores. Every implementation applies
// the same optimistic version rule so the orchestrator can swap backends.
package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"wealthcheck/internal/casework/models"
	"wealthcheck/pkg/platform/sentinel"
)

// checkVersion enforces the save contract: version 1 creates, any later
// version must directly follow the stored one.
func checkVersion(exists bool, stored, next int64) error {
	switch {
	case next < 1:
		return fmt.Errorf("invalid version %d: %w", next, sentinel.ErrConflict)
	case next == 1 && exists:
		return fmt.Errorf("case already exists: %w", sentinel.ErrConflict)
	case next > 1 && !exists:
		return fmt.Errorf("case not found for version %d: %w", next, sentinel.ErrConflict)
	case next > 1 && stored != next-1:
		return fmt.Errorf("stored version %d, saving %d: %w", stored, next, sentinel.ErrConflict)
	}
	return nil
}

// marshalSnapshot encodes the case without its audit log, which the SQL
// stores keep in their own table.
func marshalSnapshot(state *models.CaseState) ([]byte, error) {
	snap := *state
	snap.Audit = nil
	b, err := json.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("marshal case snapshot: %w", err)
	}
	return b, nil
}

func unmarshalSnapshot(raw []byte) (*models.CaseState, error) {
	var state models.CaseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal case snapshot: %w", err)
	}
	if state.Checks == nil {
		state.Checks = make(map[models.CheckKind]models.CheckResult)
	}
	if state.Approvals == nil {
		state.Approvals = make(map[models.CheckKind]models.ApprovalRecord)
	}
	if state.Failures == nil {
		state.Failures = make(map[models.CheckKind]models.CheckFailure)
	}
	return &state, nil
}

func statusesFor(status models.Status) []models.Status {
	if status == "" {
		return models.AllStatuses()
	}
	return []models.Status{status}
}

func sortByUpdated(cases []*models.CaseState) {
	slices.SortStableFunc(cases, func(a, b *models.CaseState) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}
