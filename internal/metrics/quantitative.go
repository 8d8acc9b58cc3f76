package metrics

import (
	"strings"
	"time"

	"github.com/pavelanni/analytics/internal/model"
)

// TimeSource reports how TotalTime arrived at its value.
type TimeSource string

const (
	// TimeNone means there were no attempts.
	TimeNone TimeSource = "none"
	// TimeExplicit means every attempt carried its own elapsed seconds.
	TimeExplicit TimeSource = "explicit"
	// TimeUnknown means a single attempt without elapsed seconds.
	TimeUnknown TimeSource = "unknown"
	// TimeFromTimestamps means the first-to-last submission span was used.
	TimeFromTimestamps TimeSource = "timestamps"
	// TimeLimitFallback means timestamps could not be parsed and the
	// configured time limit was used instead.
	TimeLimitFallback TimeSource = "limit_fallback"
)

// Breakdown is the quantitative result plus how it was obtained.
type Breakdown struct {
	Metrics        model.QuantitativeMetrics
	TimeSource     TimeSource
	SkippedAnswers int
}

// Quantitative derives the numeric metrics of a submission.
func Quantitative(sub model.Submission, act model.Activity) Breakdown {
	last := sub.LastAttempt()
	if last == nil {
		return Breakdown{TimeSource: TimeNone}
	}

	attempts := len(sub.Attempts)
	total, src := TotalTime(sub, act)
	correct, skipped := CountCorrect(*last, act.Exercises)
	score := FinalScore(act.ScoringPolicy, correct, act.NumberOfExercises, attempts)

	return Breakdown{
		Metrics: model.QuantitativeMetrics{
			TotalAttempts:          attempts,
			TotalTimeSeconds:       total,
			AverageTimePerAttempt:  averageTime(total, attempts),
			NumberOfCorrectAnswers: correct,
			FinalScore:             score,
			ActivitySuccess:        score >= act.Threshold(),
		},
		TimeSource:     src,
		SkippedAnswers: skipped,
	}
}

func averageTime(total, attempts int) float64 {
	if attempts == 0 {
		return 0.0
	}
	return float64(total) / float64(attempts)
}

// TotalTime returns the seconds spent on the activity. Explicit per-attempt
// durations win; otherwise the span between the first and last submission
// is used, capped at the activity's time limit. It never fails: unparsable
// timestamps yield the full configured limit.
func TotalTime(sub model.Submission, act model.Activity) (int, TimeSource) {
	if len(sub.Attempts) == 0 {
		return 0, TimeNone
	}

	sum, explicit := 0, true
	for _, a := range sub.Attempts {
		if a.TimeSpentSeconds == nil {
			explicit = false
			break
		}
		sum += *a.TimeSpentSeconds
	}
	if explicit {
		return sum, TimeExplicit
	}

	if len(sub.Attempts) == 1 {
		return 0, TimeUnknown
	}

	limit := act.TimeLimitSeconds()
	first, firstZoned, err := parseTimestamp(sub.Attempts[0].SubmittedAt)
	if err != nil {
		return limit, TimeLimitFallback
	}
	last, lastZoned, err := parseTimestamp(sub.Attempts[len(sub.Attempts)-1].SubmittedAt)
	if err != nil || firstZoned != lastZoned {
		return limit, TimeLimitFallback
	}

	elapsed := int(last.Sub(first) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if limit > 0 && elapsed > limit {
		elapsed = limit
	}
	return elapsed, TimeFromTimestamps
}

var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z0700",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// parseTimestamp accepts ISO-8601 timestamps with or without a zone
// ("Z" included). zoned reports whether an offset was present; zone-less
// values are read as UTC.
func parseTimestamp(s string) (t time.Time, zoned bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, err
}

// CountCorrect counts answers in one attempt whose selected option equals
// the designated correct option of the exercise their question id points
// at. Answers with an unparsable or out-of-range id are skipped and counted
// separately.
func CountCorrect(attempt model.AttemptResult, exercises []model.Exercise) (correct, skipped int) {
	for _, qa := range attempt.Answers {
		idx, ok := model.ParseQuestionIndex(qa.QuestionID)
		if !ok || idx >= len(exercises) {
			skipped++
			continue
		}
		if qa.Answer.SelectedOption == exercises[idx].CorrectOptions {
			correct++
		}
	}
	return correct, skipped
}
