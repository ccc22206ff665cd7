package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

// InMemoryStore keeps deep copies of each case so callers can never alias
// stored state.
type InMemoryStore struct {
	mu    sync.RWMutex
	cases map[id.CaseID]*models.CaseState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cases: make(map[id.CaseID]*models.CaseState)}
}

func (s *InMemoryStore) Save(_ context.Context, state *models.CaseState) error {
	if state == nil {
		return fmt.Errorf("save case: state is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cases[state.ID]
	var stored int64
	if ok {
		stored = existing.Version
	}
	if err := checkVersion(ok, stored, state.Version); err != nil {
		return err
	}
	s.cases[state.ID] = state.Clone()
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, caseID id.CaseID) (*models.CaseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) ReadAudit(_ context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return state.Clone().Audit, nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status models.Status, limit int) ([]*models.CaseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statuses := statusesFor(status)
	var out []*models.CaseState
	for _, state := range s.cases {
		if slices.Contains(statuses, state.Status) {
			out = append(out, state.Clone())
		}
	}
	sortByUpdated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
