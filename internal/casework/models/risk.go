package models

import "time"

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow        RiskLevel = "low"
	RiskMediumLow  RiskLevel = "medium_low"
	RiskMedium     RiskLevel = "medium"
	RiskMediumHigh RiskLevel = "medium_high"
	RiskHigh       RiskLevel = "high"
)

// RiskFactor is one scored contribution.
type RiskFactor struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// RiskAssessment is the synthesis output attached to a completed case.
type RiskAssessment struct {
	Score      int          `json:"score"`
	Level      RiskLevel    `json:"level"`
	Factors    []RiskFactor `json:"factors,omitempty"`
	Flagged    bool         `json:"flagged"`
	AssessedAt time.Time    `json:"assessed_at"`
}
