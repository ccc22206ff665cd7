package memory

import (
	"context"
	"slices"
	"sync"

	audit "wealthcheck/pkg/platform/audit"
)

// InMemoryStore is an audit.Sink that keeps events per case for inspection
// in publisher tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]audit.Event)}
}

func (s *InMemoryStore) Write(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.CaseID] = append(s.events[e.CaseID], e)
	}
	return nil
}

// ListByCase returns the events received for one case, in arrival order.
func (s *InMemoryStore) ListByCase(_ context.Context, caseID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[caseID]), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]audit.Event)
}
