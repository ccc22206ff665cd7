// Package risk scores a case once every required check is resolved.
package risk

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wealthcheck/internal/casework/models"
)

// Policy holds scoring weights and level thresholds.
type Policy struct {
	// CheckFailed is added when a check ran and did not verify.
	CheckFailed map[models.CheckKind]int `yaml:"check_failed"`
	// PerWebFlag is added for every issue raised by the web references check.
	PerWebFlag int `yaml:"per_web_flag"`
	// PerRejection is added for every review a human rejected.
	PerRejection int `yaml:"per_rejection"`
	// Thresholds are exclusive upper bounds for medium_low, medium and medium_high.
	Thresholds Thresholds `yaml:"thresholds"`
}

type Thresholds struct {
	MediumLow  int `yaml:"medium_low"`
	Medium     int `yaml:"medium"`
	MediumHigh int `yaml:"medium_high"`
}

// DefaultPolicy returns the standard weights.
func DefaultPolicy() Policy {
	return Policy{
		CheckFailed: map[models.CheckKind]int{
			models.CheckIdentity:         30,
			models.CheckPayslip:          25,
			models.CheckWebReferences:    15,
			models.CheckFinancialReports: 20,
		},
		PerWebFlag:   10,
		PerRejection: 15,
		Thresholds:   Thresholds{MediumLow: 30, Medium: 50, MediumHigh: 70},
	}
}

// LoadPolicy reads a YAML policy. Fields absent from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read risk policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse risk policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	for kind, w := range p.CheckFailed {
		if !kind.IsValid() {
			return fmt.Errorf("risk policy: unknown check kind %q", kind)
		}
		if w < 0 {
			return fmt.Errorf("risk policy: negative weight for %s", kind)
		}
	}
	t := p.Thresholds
	if !(0 < t.MediumLow && t.MediumLow < t.Medium && t.Medium < t.MediumHigh) {
		return fmt.Errorf("risk policy: thresholds must be positive and increasing")
	}
	return nil
}

// Level buckets a score.
func (p Policy) Level(score int) models.RiskLevel {
	switch {
	case score <= 0:
		return models.RiskLow
	case score < p.Thresholds.MediumLow:
		return models.RiskMediumLow
	case score < p.Thresholds.Medium:
		return models.RiskMedium
	case score < p.Thresholds.MediumHigh:
		return models.RiskMediumHigh
	default:
		return models.RiskHigh
	}
}

// Assess scores a case. Checks that never ran contribute nothing.
func (p Policy) Assess(state *models.CaseState, at time.Time) models.RiskAssessment {
	var factors []models.RiskFactor
	for _, kind := range models.AllCheckKinds() {
		res, ran := state.Checks[kind]
		if !ran {
			continue
		}
		if !res.Verified {
			if w := p.CheckFailed[kind]; w > 0 {
				factors = append(factors, models.RiskFactor{Reason: fmt.Sprintf("%s not verified", kind), Points: w})
			}
		}
		if kind == models.CheckWebReferences && p.PerWebFlag > 0 {
			for _, issue := range res.Issues {
				factors = append(factors, models.RiskFactor{Reason: "web flag: " + issue, Points: p.PerWebFlag})
			}
		}
	}

	rejected := state.Rejections()
	for _, kind := range rejected {
		factors = append(factors, models.RiskFactor{Reason: fmt.Sprintf("reviewer rejected %s", kind), Points: p.PerRejection})
	}

	score := 0
	for _, f := range factors {
		score += f.Points
	}
	return models.RiskAssessment{
		Score:      score,
		Level:      p.Level(score),
		Factors:    factors,
		Flagged:    len(rejected) > 0,
		AssessedAt: at,
	}
}
