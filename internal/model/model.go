package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ScoringPolicy names the formula that maps correctness to a final score.
type ScoringPolicy string

const (
	// PolicyLinear scores correct answers over the configured exercise count.
	PolicyLinear ScoringPolicy = "linear"
	// PolicyNonLinear applies a retry penalty on top of the linear score.
	PolicyNonLinear ScoringPolicy = "non-linear"
)

// DefaultApprovalThreshold is used when an activity does not configure one.
const DefaultApprovalThreshold = 0.5

// Answer is one student response to one exercise.
type Answer struct {
	SelectedOption string `json:"selectedOption"`
	Rationale      string `json:"rationale"`
}

// QuestionAnswer pairs a question id with the answer given to it.
type QuestionAnswer struct {
	QuestionID string
	Answer     Answer
}

// Answers is a question-id keyed answer mapping that keeps the key order
// of the JSON object it was decoded from.
type Answers []QuestionAnswer

// UnmarshalJSON decodes a JSON object, preserving key order.
// A later duplicate key replaces the earlier value in place.
func (a *Answers) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}
	om := orderedmap.New[string, Answer]()
	if err := om.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("answers: %w", err)
	}
	out := make(Answers, 0, om.Len())
	for p := om.Oldest(); p != nil; p = p.Next() {
		out = append(out, QuestionAnswer{QuestionID: p.Key, Answer: p.Value})
	}
	*a = out
	return nil
}

// MarshalJSON encodes the answers as a JSON object in stored order.
func (a Answers) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, Answer](len(a))
	for _, qa := range a {
		om.Set(qa.QuestionID, qa.Answer)
	}
	return om.MarshalJSON()
}

// ParseQuestionIndex extracts the exercise index embedded in a question id
// such as "q3". Every "q" is dropped before parsing, so "qq1" and "1q" both
// yield 1. ok is false when what remains is not a non-negative integer.
func ParseQuestionIndex(questionID string) (index int, ok bool) {
	s := strings.ReplaceAll(strings.TrimSpace(questionID), "q", "")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// AttemptResult is one full pass through an activity.
type AttemptResult struct {
	AttemptIndex     int     `json:"attemptIndex"`
	Answers          Answers `json:"answers"`
	Result           float64 `json:"result"`
	SubmittedAt      string  `json:"submittedAt"`
	TimeSpentSeconds *int    `json:"timeSpentSeconds,omitempty"`
}

// Submission is a student's entire attempt history for one instance.
// Attempts are ordered oldest to newest.
type Submission struct {
	SubmissionID     string          `json:"submission_id"`
	InstanceID       string          `json:"instance_id"`
	StudentID        string          `json:"student_id"`
	NumberOfAttempts int             `json:"number_of_attempts"`
	Attempts         []AttemptResult `json:"attempts" validate:"unique=AttemptIndex"`
	CreatedAt        string          `json:"created_at"`
}

// LastAttempt returns the most recent attempt, or nil when there are none.
func (s Submission) LastAttempt() *AttemptResult {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}

// Exercise is one question definition inside an activity.
type Exercise struct {
	Question       string   `json:"question"`
	Options        []string `json:"options" validate:"min=1"`
	CorrectOptions string   `json:"correct_options"`
	CorrectAnswer  string   `json:"correct_answer"`
}

// Activity is the scoring configuration shared by all instances of it.
type Activity struct {
	ActivityID                 string        `json:"activity_id"`
	CreatedAt                  string        `json:"created_at"`
	Title                      string        `json:"title"`
	Grade                      int           `json:"grade"`
	Modules                    string        `json:"modules"`
	NumberOfExercises          int           `json:"number_of_exercises"`
	TotalTimeMinutes           int           `json:"total_time_minutes"`
	NumberOfRetries            int           `json:"number_of_retries"`
	RelativeTolerancePct       *float64      `json:"relative_tolerance_pct,omitempty"`
	AbsoluteTolerance          *float64      `json:"absolute_tolerance,omitempty"`
	ShowAnswersAfterSubmission *bool         `json:"show_answers_after_submission,omitempty"`
	ScoringPolicy              ScoringPolicy `json:"scoring_policy,omitempty"`
	ApprovalThreshold          *float64      `json:"approval_threshold,omitempty"`
	Exercises                  []Exercise    `json:"exercises" validate:"dive"`
}

// TimeLimitSeconds is the configured time limit converted to seconds.
func (a Activity) TimeLimitSeconds() int {
	return a.TotalTimeMinutes * 60
}

// Threshold returns the approval threshold, falling back to the default.
func (a Activity) Threshold() float64 {
	if a.ApprovalThreshold == nil {
		return DefaultApprovalThreshold
	}
	return *a.ApprovalThreshold
}

// DeploymentInstance is one deployed occurrence of an activity.
type DeploymentInstance struct {
	InstanceID    string         `json:"instance_id"`
	ActivityID    string         `json:"activity_id"`
	CreatedAt     string         `json:"created_at"`
	ExpiresAt     *string        `json:"expires_at,omitempty"`
	SessionParams map[string]any `json:"session_params,omitempty"`
}

// QuantitativeMetrics is the derived numeric summary of a submission.
type QuantitativeMetrics struct {
	TotalAttempts          int     `json:"total_attempts"`
	TotalTimeSeconds       int     `json:"total_time_seconds"`
	AverageTimePerAttempt  float64 `json:"average_time_per_attempt"`
	NumberOfCorrectAnswers int     `json:"number_of_correct_answers"`
	FinalScore             float64 `json:"final_score"`
	ActivitySuccess        bool    `json:"activity_success"`
}

// QualitativeMetrics holds the free-text rationales of the last attempt.
type QualitativeMetrics struct {
	AnswerRationale []string `json:"answer_rationale"`
}

// AnalyticsMetrics is the persisted computation result for one student
// in one instance.
type AnalyticsMetrics struct {
	InstanceID   string              `json:"instance_id"`
	StudentID    string              `json:"student_id"`
	Metrics      QuantitativeMetrics `json:"metrics"`
	Qualitative  QualitativeMetrics  `json:"qualitative"`
	CalculatedAt string              `json:"calculated_at"`
}
