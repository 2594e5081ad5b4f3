package services

import "github.com/beacongate/backend/internal/models"

const (
	riskBaseScore   = 10
	riskMaxScore    = 100
	riskHighWeight  = 50
	riskMedWeight   = 25
	riskLowWeight   = 10
	riskMediumFloor = 40
	riskHighFloor   = 70
)

// ComputeRiskScore turns a set of rule evaluations into a bounded score.
// Only triggered rules contribute; severities add fixed weights on top
// of the base score and the total is capped.
func ComputeRiskScore(runs []models.RuleRun, severities map[string]models.Severity) int {
	score := riskBaseScore
	for _, run := range runs {
		if !run.Triggered {
			continue
		}
		switch severities[run.RuleID] {
		case models.SeverityHigh:
			score += riskHighWeight
		case models.SeverityMedium:
			score += riskMedWeight
		case models.SeverityLow:
			score += riskLowWeight
		}
	}
	if score > riskMaxScore {
		score = riskMaxScore
	}
	return score
}

// TierForScore maps a risk score onto a review tier.
func TierForScore(score int) models.RiskTier {
	switch {
	case score >= riskHighFloor:
		return models.TierHigh
	case score >= riskMediumFloor:
		return models.TierMedium
	default:
		return models.TierLow
	}
}
