package metrics

import (
	"strings"

	"github.com/pavelanni/analytics/internal/model"
)

// Qualitative collects the non-blank rationales of the most recent attempt,
// in answer order. Earlier attempts are ignored.
func Qualitative(sub model.Submission) model.QualitativeMetrics {
	rationales := []string{}
	if last := sub.LastAttempt(); last != nil {
		for _, qa := range last.Answers {
			if strings.TrimSpace(qa.Answer.Rationale) == "" {
				continue
			}
			rationales = append(rationales, qa.Answer.Rationale)
		}
	}
	return model.QualitativeMetrics{AnswerRationale: rationales}
}
