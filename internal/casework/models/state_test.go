package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
)

// =============================================================================
// Case State Test Suite
// =============================================================================
// Justification: CaseState carries the structural invariants every store and
// orchestrator step relies on. Tests pin the append-only and ordering rules.

type CaseStateSuite struct {
	suite.Suite
	now time.Time
}

func TestCaseStateSuite(t *testing.T) {
	suite.Run(t, new(CaseStateSuite))
}

func (s *CaseStateSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *CaseStateSuite) newCase() *CaseState {
	return NewCase(id.NewCaseID(), "Jane Doe", json.RawMessage(`{"k":"v"}`), AllCheckKinds(), s.now)
}

func (s *CaseStateSuite) TestAppendAudit() {
	s.Run("assigns gap-free sequence numbers from one", func() {
		c := s.newCase()
		for i := 0; i < 3; i++ {
			_, err := c.AppendAudit(ActorSystem, ActionCheckCompleted, map[string]int{"i": i}, s.now)
			s.Require().NoError(err)
		}
		s.Equal([]uint64{1, 2, 3}, []uint64{c.Audit[0].Seq, c.Audit[1].Seq, c.Audit[2].Seq})
		s.Equal(uint64(3), c.LastSeq())
		s.NoError(c.Validate())
	})

	s.Run("EntriesAfter returns only newer entries", func() {
		c := s.newCase()
		for i := 0; i < 4; i++ {
			_, _ = c.AppendAudit(ActorSystem, ActionCheckCompleted, nil, s.now)
		}
		after := c.EntriesAfter(2)
		s.Len(after, 2)
		s.Equal(uint64(3), after[0].Seq)
		s.Empty(c.EntriesAfter(4))
	})
}

func (s *CaseStateSuite) TestRecordResult() {
	s.Run("clean result leaves the plan", func() {
		c := s.newCase()
		s.Require().NoError(c.RecordResult(CheckIdentity, CheckResult{Verified: true, CompletedAt: s.now}))
		s.False(c.InPlan(CheckIdentity))
		s.True(c.IdentityResolved())
	})

	s.Run("result with issues stays planned until reviewed", func() {
		c := s.newCase()
		s.Require().NoError(c.RecordResult(CheckIdentity, CheckResult{Verified: false, Issues: []string{"expired document"}}))
		s.True(c.InPlan(CheckIdentity))
		s.False(c.IdentityResolved())
	})

	s.Run("second result for the same kind is rejected", func() {
		c := s.newCase()
		s.Require().NoError(c.RecordResult(CheckIdentity, CheckResult{Verified: true}))
		err := c.RecordResult(CheckIdentity, CheckResult{Verified: false})
		var iv *InvariantViolationError
		s.Require().ErrorAs(err, &iv)
		s.Equal("append_only_results", iv.Invariant)
		s.True(c.Checks[CheckIdentity].Verified)
	})
}

func (s *CaseStateSuite) TestClone() {
	c := s.newCase()
	s.Require().NoError(c.RecordResult(CheckIdentity, CheckResult{Verified: false, Issues: []string{"a"}}))
	c.Status = StatusSuspendedForReview
	c.PendingReview = &ReviewRequest{ForCheck: CheckIdentity, Reasons: []string{"a"}}
	_, _ = c.AppendAudit(ActorSystem, ActionReviewOpened, nil, s.now)

	cp := c.Clone()
	cp.Plan[0] = CheckFinancialReports
	cp.PendingReview.Reasons[0] = "changed"
	res := cp.Checks[CheckIdentity]
	res.Issues[0] = "changed"
	cp.Approvals[CheckIdentity] = ApprovalRecord{Approved: true}
	cp.Audit[0].Action = "changed"

	s.Equal(CheckIdentity, c.Plan[0])
	s.Equal("a", c.PendingReview.Reasons[0])
	s.Equal("a", c.Checks[CheckIdentity].Issues[0])
	s.Empty(c.Approvals)
	s.Equal(ActionReviewOpened, c.Audit[0].Action)
}

func (s *CaseStateSuite) TestValidate() {
	s.Run("sequential gate rejects early non-identity results", func() {
		c := s.newCase()
		c.Checks[CheckPayslip] = CheckResult{Verified: true}
		var iv *InvariantViolationError
		s.Require().ErrorAs(c.Validate(), &iv)
		s.Equal("sequential_gate", iv.Invariant)
	})

	s.Run("approved identity opens the gate", func() {
		c := s.newCase()
		c.Checks[CheckIdentity] = CheckResult{Verified: false, Issues: []string{"expired"}}
		c.Approvals[CheckIdentity] = ApprovalRecord{ForCheck: CheckIdentity, Approved: true}
		c.RemoveFromPlan(CheckIdentity)
		c.Checks[CheckPayslip] = CheckResult{Verified: true}
		c.RemoveFromPlan(CheckPayslip)
		s.NoError(c.Validate())
	})

	s.Run("pending review must match status", func() {
		c := s.newCase()
		c.PendingReview = &ReviewRequest{ForCheck: CheckIdentity}
		var iv *InvariantViolationError
		s.Require().ErrorAs(c.Validate(), &iv)
		s.Equal("pending_review", iv.Invariant)
	})

	s.Run("audit sequence gaps are rejected", func() {
		c := s.newCase()
		c.Audit = []AuditEntry{{Seq: 1}, {Seq: 3}}
		var iv *InvariantViolationError
		s.Require().ErrorAs(c.Validate(), &iv)
		s.Equal("audit_sequence", iv.Invariant)
	})

	s.Run("plan may not repeat a kind", func() {
		c := s.newCase()
		c.Plan = append(c.Plan, CheckPayslip)
		var iv *InvariantViolationError
		s.Require().ErrorAs(c.Validate(), &iv)
		s.Equal("plan", iv.Invariant)
	})

	s.Run("plan may not hold a cleanly completed kind", func() {
		c := s.newCase()
		c.Checks[CheckIdentity] = CheckResult{Verified: true}
		var iv *InvariantViolationError
		s.Require().ErrorAs(c.Validate(), &iv)
		s.Equal("plan", iv.Invariant)
	})
}

func (s *CaseStateSuite) TestTransitions() {
	s.Run("terminal states accept nothing", func() {
		for _, terminal := range []Status{StatusCompleted, StatusFailed} {
			for _, next := range []Status{StatusRunning, StatusSuspendedForReview, StatusCompleted, StatusFailed} {
				s.Error(ValidateTransition(terminal, next), "%s -> %s", terminal, next)
			}
		}
	})

	s.Run("suspended case cannot complete directly", func() {
		c := s.newCase()
		c.Status = StatusSuspendedForReview
		s.Error(c.TransitionTo(StatusCompleted))
		s.Equal(StatusSuspendedForReview, c.Status)
	})

	s.Run("running case may suspend", func() {
		c := s.newCase()
		s.NoError(c.TransitionTo(StatusSuspendedForReview))
	})
}

func (s *CaseStateSuite) TestParsing() {
	kind, err := ParseCheckKind(" Payslip ")
	s.Require().NoError(err)
	s.Equal(CheckPayslip, kind)

	_, err = ParseCheckKind("horoscope")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	status, err := ParseStatus("suspended_for_review")
	s.Require().NoError(err)
	s.Equal(StatusSuspendedForReview, status)

	kinds := []CheckKind{CheckFinancialReports, CheckIdentity, CheckWebReferences, CheckPayslip}
	SortByPriority(kinds)
	s.Equal(AllCheckKinds(), kinds)
}

func (s *CaseStateSuite) TestEncodeEvidence() {
	s.Run("json evidence is stored unchanged", func() {
		out := EncodeEvidence([]byte(`{"score":0.9}`))
		s.JSONEq(`{"score":0.9}`, string(out))
	})

	s.Run("empty evidence is dropped", func() {
		s.Nil(EncodeEvidence(nil))
		s.Nil(EncodeEvidence([]byte("  ")))
	})

	s.Run("non-json evidence is wrapped and round-trips", func() {
		raw := []byte("\x00%PDF-1.4 not json")
		out := EncodeEvidence(raw)
		s.True(json.Valid(out))
		s.Contains(string(out), `"encoding":"base64"`)

		back, err := DecodeEvidence(out)
		s.Require().NoError(err)
		s.Equal(raw, back)
	})

	s.Run("json evidence decodes to itself", func() {
		back, err := DecodeEvidence(json.RawMessage(`[1,2]`))
		s.Require().NoError(err)
		s.Equal([]byte(`[1,2]`), back)
	})
}
