package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
)

func newCase() *models.CaseState {
	return models.NewCase(id.NewCaseID(), "Jane Doe", nil, models.AllCheckKinds(), time.Now())
}

func TestAssess(t *testing.T) {
	p := DefaultPolicy()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("clean case is low risk", func(t *testing.T) {
		c := newCase()
		for _, k := range models.AllCheckKinds() {
			c.Checks[k] = models.CheckResult{Verified: true}
		}
		got := p.Assess(c, at)
		assert.Equal(t, 0, got.Score)
		assert.Equal(t, models.RiskLow, got.Level)
		assert.False(t, got.Flagged)
		assert.Equal(t, at, got.AssessedAt)
	})

	t.Run("approved identity issues still score", func(t *testing.T) {
		c := newCase()
		c.Checks[models.CheckIdentity] = models.CheckResult{Verified: false, Issues: []string{"expired"}}
		c.Approvals[models.CheckIdentity] = models.ApprovalRecord{ForCheck: models.CheckIdentity, Approved: true}
		got := p.Assess(c, at)
		assert.Equal(t, 30, got.Score)
		assert.Equal(t, models.RiskMedium, got.Level)
		assert.False(t, got.Flagged)
	})

	t.Run("rejected payslip with web flags is flagged", func(t *testing.T) {
		c := newCase()
		c.Checks[models.CheckIdentity] = models.CheckResult{Verified: true}
		c.Checks[models.CheckPayslip] = models.CheckResult{Verified: false, Issues: []string{"employer mismatch"}}
		c.Approvals[models.CheckPayslip] = models.ApprovalRecord{ForCheck: models.CheckPayslip, Approved: false}
		c.Checks[models.CheckWebReferences] = models.CheckResult{Verified: true, Issues: []string{"adverse media", "sanctions mention"}}

		got := p.Assess(c, at)
		// payslip 25 + two web flags 20 + rejection 15
		assert.Equal(t, 60, got.Score)
		assert.Equal(t, models.RiskMediumHigh, got.Level)
		assert.True(t, got.Flagged)
		assert.Len(t, got.Factors, 4)
	})
}

func TestLevel(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, models.RiskLow, p.Level(0))
	assert.Equal(t, models.RiskMediumLow, p.Level(29))
	assert.Equal(t, models.RiskMedium, p.Level(30))
	assert.Equal(t, models.RiskMediumHigh, p.Level(69))
	assert.Equal(t, models.RiskHigh, p.Level(70))
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		p, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), p)
	})

	t.Run("file overrides selected weights", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "risk.yaml")
		require.NoError(t, os.WriteFile(path, []byte("per_rejection: 40\ncheck_failed:\n  payslip: 5\n"), 0o600))

		p, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, 40, p.PerRejection)
		assert.Equal(t, 5, p.CheckFailed[models.CheckPayslip])
		assert.Equal(t, 30, p.CheckFailed[models.CheckIdentity])
		assert.Equal(t, 10, p.PerWebFlag)
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "risk.yaml")
		require.NoError(t, os.WriteFile(path, []byte("check_failed:\n  horoscope: 5\n"), 0o600))

		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})
}
