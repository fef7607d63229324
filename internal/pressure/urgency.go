// Package pressure implements workload pressure scoring: a piecewise
// deadline-urgency model, a per-user pressure calculator with threshold
// classification, and the periodic sweep that records history and raises
// overload alerts.
package pressure

import "time"

// UrgencyFactor maps whole days until a deadline to a pressure multiplier.
// Brackets are inclusive at their upper bound: exactly 1 day is 3.0,
// exactly 3 days is 2.0, exactly 7 days is 1.5.
func UrgencyFactor(daysRemaining int) float64 {
	switch {
	case daysRemaining < 0:
		return 3.5
	case daysRemaining <= 1:
		return 3.0
	case daysRemaining <= 3:
		return 2.0
	case daysRemaining <= 7:
		return 1.5
	default:
		return 1.0
	}
}

// TaskPressureScore is the pressure contributed by one outstanding task.
func TaskPressureScore(difficultyWeight int, urgency float64) float64 {
	return float64(difficultyWeight) * urgency
}

// daysUntil returns the whole days from now to the deadline, comparing
// calendar dates rather than instants.
func daysUntil(now, deadline time.Time) int {
	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	deadlineDate := time.Date(deadline.Year(), deadline.Month(), deadline.Day(), 0, 0, 0, 0, deadline.Location())
	return int(deadlineDate.Sub(nowDate).Hours() / 24)
}
