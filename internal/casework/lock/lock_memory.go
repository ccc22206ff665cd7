// Package lock provides the per-case mutual exclusion the orchestrator holds
// while it mutates a case.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

// InMemoryLocker serializes work on a case within one process.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[id.CaseID]*lockEntry
}

type lockEntry struct {
	held chan struct{}
	refs int
}

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{locks: make(map[id.CaseID]*lockEntry)}
}

// Lock blocks until the case is free or ctx ends.
func (l *InMemoryLocker) Lock(ctx context.Context, caseID id.CaseID) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[caseID]
	if !ok {
		e = &lockEntry{held: make(chan struct{}, 1)}
		l.locks[caseID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.held <- struct{}{}:
	case <-ctx.Done():
		l.release(caseID, e)
		return nil, fmt.Errorf("lock case %s: %w", caseID, errors.Join(sentinel.ErrLockHeld, ctx.Err()))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.held
			l.release(caseID, e)
		})
	}, nil
}

func (l *InMemoryLocker) release(caseID id.CaseID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, caseID)
	}
}
