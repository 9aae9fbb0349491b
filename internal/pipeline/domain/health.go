package domain

import "time"

const (
	healthBase            = 50
	healthOrderWeight     = 3
	healthOrderCap        = 30
	healthRecentActivity  = 10
	healthHighValue       = 10
	healthStalePenalty    = 15
	recentActivityWindow  = 7
	highValueThreshold    = 1_000_000
	defaultWarningPenalty = 30
)

// HealthScore computes the 0..100 health of a deal in its current stage.
// lastActivity may be nil when the deal has no logged activity.
func HealthScore(deal Deal, def StageDefinition, lastActivity *time.Time, now time.Time) int {
	score := healthBase

	score += min(healthOrderCap, def.Order*healthOrderWeight)

	if lastActivity != nil && DaysBetween(*lastActivity, now) <= recentActivityWindow {
		score += healthRecentActivity
	}
	if deal.DealValue > highValueThreshold {
		score += healthHighValue
	}
	if DaysBetween(deal.StageEnteredAt, now) > def.WarningThreshold(defaultWarningPenalty) {
		score -= healthStalePenalty
	}

	return max(0, min(100, score))
}
