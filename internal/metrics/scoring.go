package metrics

import (
	"math"

	"github.com/pavelanni/analytics/internal/model"
)

const (
	retryPenaltyStep  = 0.1
	retryPenaltyFloor = 0.5
)

// FinalScore maps a correct-answer count to a score in [0,1] under the
// named policy. Unknown policies score as linear. A non-positive exercise
// count always scores 0.
func FinalScore(policy model.ScoringPolicy, correct, exerciseCount, attempts int) float64 {
	if exerciseCount <= 0 {
		return 0.0
	}
	base := float64(correct) / float64(exerciseCount)

	switch policy {
	case model.PolicyNonLinear:
		return base * RetryPenalty(attempts)
	default:
		return base
	}
}

// RetryPenalty is the non-linear multiplier: 10% off per attempt beyond the
// first, never below 0.5 and never above 1.
func RetryPenalty(attempts int) float64 {
	if attempts <= 1 {
		return 1.0
	}
	return math.Max(retryPenaltyFloor, 1.0-retryPenaltyStep*float64(attempts-1))
}
