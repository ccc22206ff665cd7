package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

// =============================================================================
// Case Store Contract Suite
// =============================================================================
// Justification: the orchestrator relies on every backend rejecting stale
// versions and returning the audit log gap-free. Each backend embeds this
// suite and provides its own store factory.

type storeContractSuite struct {
	suite.Suite
	store ports.Store
	now   time.Time
}

func (s *storeContractSuite) newCase() *models.CaseState {
	state := models.NewCase(id.NewCaseID(), "Jane Doe", []byte(`{"identity":{}}`), models.AllCheckKinds(), s.now)
	_, err := state.AppendAudit(models.ActorSystem, models.ActionCaseCreated, map[string]any{"plan": state.Plan}, s.now)
	s.Require().NoError(err)
	state.Version = 1
	return state
}

// advance applies one step the way the orchestrator does: clone, append, bump.
func (s *storeContractSuite) advance(state *models.CaseState, action string) *models.CaseState {
	next := state.Clone()
	at := state.UpdatedAt.Add(time.Second)
	_, err := next.AppendAudit(models.ActorSystem, action, map[string]any{"n": next.LastSeq() + 1}, at)
	s.Require().NoError(err)
	next.Version++
	return next
}

func (s *storeContractSuite) TestSaveAndLoad() {
	ctx := context.Background()
	state := s.newCase()
	s.Require().NoError(s.store.Save(ctx, state))

	loaded, err := s.store.Load(ctx, state.ID)
	s.Require().NoError(err)
	s.Equal(state.ID, loaded.ID)
	s.Equal(state.SubjectName, loaded.SubjectName)
	s.Equal(state.Plan, loaded.Plan)
	s.Equal(models.StatusRunning, loaded.Status)
	s.Equal(int64(1), loaded.Version)
	s.True(state.CreatedAt.Equal(loaded.CreatedAt))
	s.JSONEq(string(state.CaseData), string(loaded.CaseData))
	s.NotNil(loaded.Checks)
	s.NotNil(loaded.Approvals)
	s.Require().Len(loaded.Audit, 1)
	s.Equal(uint64(1), loaded.Audit[0].Seq)
	s.Equal(models.ActionCaseCreated, loaded.Audit[0].Action)
}

func (s *storeContractSuite) TestVersionRules() {
	ctx := context.Background()
	state := s.newCase()
	s.Require().NoError(s.store.Save(ctx, state))

	s.Run("creating an existing case conflicts", func() {
		s.ErrorIs(s.store.Save(ctx, state), sentinel.ErrConflict)
	})

	next := s.advance(state, models.ActionCheckCompleted)
	s.Require().NoError(s.store.Save(ctx, next))

	s.Run("stale version conflicts", func() {
		stale := s.advance(state, models.ActionCaseFailed)
		s.ErrorIs(s.store.Save(ctx, stale), sentinel.ErrConflict)
	})

	s.Run("skipped version conflicts", func() {
		skipped := s.advance(next, models.ActionCaseFailed)
		skipped.Version++
		s.ErrorIs(s.store.Save(ctx, skipped), sentinel.ErrConflict)
	})

	s.Run("updating a missing case conflicts", func() {
		ghost := s.advance(s.newCase(), models.ActionCheckCompleted)
		s.ErrorIs(s.store.Save(ctx, ghost), sentinel.ErrConflict)
	})

	loaded, err := s.store.Load(ctx, state.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), loaded.Version)
	s.Len(loaded.Audit, 2)
}

func (s *storeContractSuite) TestAuditIsGapFree() {
	ctx := context.Background()
	state := s.newCase()
	s.Require().NoError(s.store.Save(ctx, state))
	for _, action := range []string{models.ActionCheckCompleted, models.ActionReviewOpened, models.ActionReviewResolved} {
		state = s.advance(state, action)
		s.Require().NoError(s.store.Save(ctx, state))
	}

	entries, err := s.store.ReadAudit(ctx, state.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	for i, e := range entries {
		s.Equal(uint64(i+1), e.Seq)
	}
	s.Equal(models.ActionReviewResolved, entries[3].Action)
	s.JSONEq(`{"n":4}`, string(entries[3].Detail))
}

func (s *storeContractSuite) TestMissingCase() {
	ctx := context.Background()
	_, err := s.store.Load(ctx, id.NewCaseID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.ReadAudit(ctx, id.NewCaseID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *storeContractSuite) TestLoadReturnsIndependentCopy() {
	ctx := context.Background()
	state := s.newCase()
	s.Require().NoError(s.store.Save(ctx, state))

	loaded, err := s.store.Load(ctx, state.ID)
	s.Require().NoError(err)
	loaded.Plan = nil
	loaded.Checks[models.CheckIdentity] = models.CheckResult{Verified: true}
	state.Plan = nil

	again, err := s.store.Load(ctx, state.ID)
	s.Require().NoError(err)
	s.Equal(models.AllCheckKinds(), again.Plan)
	s.Empty(again.Checks)
}

func (s *storeContractSuite) TestListByStatus() {
	ctx := context.Background()
	running := s.newCase()
	s.Require().NoError(s.store.Save(ctx, running))

	failed := s.newCase()
	s.Require().NoError(s.store.Save(ctx, failed))
	failedNext := s.advance(failed, models.ActionCaseFailed)
	failedNext.Status = models.StatusFailed
	s.Require().NoError(s.store.Save(ctx, failedNext))

	got, err := s.store.ListByStatus(ctx, models.StatusFailed, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(failed.ID, got[0].ID)

	got, err = s.store.ListByStatus(ctx, models.StatusRunning, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(running.ID, got[0].ID)

	all, err := s.store.ListByStatus(ctx, "", 0)
	s.Require().NoError(err)
	s.Len(all, 2)

	limited, err := s.store.ListByStatus(ctx, "", 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *storeContractSuite) TestListByStatusOrdersOldestUpdateFirst() {
	ctx := context.Background()
	touched := s.newCase()
	s.Require().NoError(s.store.Save(ctx, touched))
	waiting := s.newCase()
	s.Require().NoError(s.store.Save(ctx, waiting))
	s.Require().NoError(s.store.Save(ctx, s.advance(touched, models.ActionCheckCompleted)))

	got, err := s.store.ListByStatus(ctx, models.StatusRunning, 0)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(waiting.ID, got[0].ID)
	s.Equal(touched.ID, got[1].ID)
}

func (s *storeContractSuite) TestConcurrentSavesOfSameVersion() {
	ctx := context.Background()
	state := s.newCase()
	s.Require().NoError(s.store.Save(ctx, state))

	const writers = 8
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	candidates := make([]*models.CaseState, writers)
	for i := range candidates {
		candidates[i] = s.advance(state, models.ActionCheckCompleted)
	}
	for _, candidate := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Save(ctx, candidate)
			switch {
			case err == nil:
				ok.Add(1)
			case isConflict(err):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load(), "exactly one writer wins")
	s.Equal(int32(writers-1), conflicts.Load())
	entries, err := s.store.ReadAudit(ctx, state.ID)
	s.Require().NoError(err)
	s.Len(entries, 2)
}
