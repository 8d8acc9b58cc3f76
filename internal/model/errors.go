package model

import "errors"

var (
	// ErrNotFound marks data absent at the source or in the store.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable marks a transport failure, timeout or bad
	// response from the activity component.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidInput marks a request that failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// FieldError is a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level details and matches ErrInvalidInput.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	return ErrInvalidInput.Error() + ": " + e.Fields[0].Field + " " + e.Fields[0].Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
