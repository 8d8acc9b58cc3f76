package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/analytics/internal/model"
)

// ContractStore persists analytics contracts. CurrentContract returns nil
// with a nil error when nothing has been saved yet.
type ContractStore interface {
	CurrentContract(ctx context.Context) (*model.AnalyticsContract, error)
	SaveContract(ctx context.Context, c model.AnalyticsContract) (model.AnalyticsContract, error)
}

// Contracts reads and replaces the current analytics contract.
type Contracts struct {
	store    ContractStore
	validate *validator.Validate
}

// NewContracts creates a contract accessor over the store.
func NewContracts(s ContractStore) *Contracts {
	return &Contracts{store: s, validate: newValidator()}
}

// Current returns the most recently saved contract.
func (c *Contracts) Current(ctx context.Context) (model.AnalyticsContract, error) {
	contract, err := c.store.CurrentContract(ctx)
	if err != nil {
		return model.AnalyticsContract{}, fmt.Errorf("read contract: %w", err)
	}
	if contract == nil {
		return model.AnalyticsContract{}, fmt.Errorf("analytics contract: %w", model.ErrNotFound)
	}
	return *contract, nil
}

// Save validates the contract and stores it as the new current version.
func (c *Contracts) Save(ctx context.Context, contract model.AnalyticsContract) (model.AnalyticsContract, error) {
	if err := c.Validate(contract); err != nil {
		return model.AnalyticsContract{}, err
	}
	if contract.Qualitative == nil {
		contract.Qualitative = []model.MetricDefinition{}
	}
	if contract.Quantitative == nil {
		contract.Quantitative = []model.MetricDefinition{}
	}
	saved, err := c.store.SaveContract(ctx, contract)
	if err != nil {
		return model.AnalyticsContract{}, fmt.Errorf("save contract: %w", err)
	}
	return saved, nil
}

// Validate checks every metric definition. Failures are returned as a
// *model.ValidationError.
func (c *Contracts) Validate(contract model.AnalyticsContract) error {
	err := c.validate.Struct(contract)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate contract: %w", err)
	}
	out := &model.ValidationError{}
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		out.Fields = append(out.Fields, model.FieldError{
			Field:   field,
			Message: fmt.Sprintf("must satisfy %s constraint", constraint(fe)),
		})
	}
	return out
}

func constraint(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// DefaultContract lists the metrics this service computes. describe maps a
// message id to the localized metric description; nil leaves descriptions
// empty.
func DefaultContract(describe func(msgID string) string) model.AnalyticsContract {
	def := func(name, typ, msgID string) model.MetricDefinition {
		d := model.MetricDefinition{Name: name, Type: typ}
		if describe != nil {
			d.Description = describe(msgID)
		}
		return d
	}
	return model.AnalyticsContract{
		Qualitative: []model.MetricDefinition{
			def("answer_rationale", "array", "MetricAnswerRationale"),
		},
		Quantitative: []model.MetricDefinition{
			def("total_attempts", "integer", "MetricTotalAttempts"),
			def("total_time_seconds", "integer", "MetricTotalTimeSeconds"),
			def("average_time_per_attempt", "number", "MetricAverageTimePerAttempt"),
			def("number_of_correct_answers", "integer", "MetricNumberOfCorrectAnswers"),
			def("final_score", "number", "MetricFinalScore"),
			def("activity_success", "boolean", "MetricActivitySuccess"),
		},
	}
}
