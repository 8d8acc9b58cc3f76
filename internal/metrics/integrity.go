package metrics

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/analytics/internal/model"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// dataIssues lists constraint violations in source data, such as an exercise
// without options or a repeated attempt index. The calculators tolerate all
// of them; the result only feeds diagnostics.
func dataIssues(v *validator.Validate, sub model.Submission, act model.Activity) []string {
	var issues []string
	for _, s := range []any{sub, act} {
		var verrs validator.ValidationErrors
		if err := v.Struct(s); errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, fe.Namespace()+": "+constraint(fe))
			}
		}
	}
	return issues
}
