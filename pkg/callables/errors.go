package callables

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/phasec/pkg/model"
)

// Error codes.
const (
	ErrCodeMissingOutput         = "MISSING_OUTPUT"
	ErrCodeParameterIncompatible = "PARAMETER_INCOMPATIBLE"
	ErrCodeUnknownPhase          = "UNKNOWN_PHASE"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeCompile               = "COMPILE_FAILED"
	ErrCodeCanceled              = "CANCELED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrMissingOutput         = &Error{Code: ErrCodeMissingOutput}
	ErrParameterIncompatible = &Error{Code: ErrCodeParameterIncompatible}
	ErrUnknownPhase          = &Error{Code: ErrCodeUnknownPhase}
)

// Error is a build failure with context.
type Error struct {
	// Code is the error code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Phase is the phase being compiled, if any.
	Phase string `json:"phase,omitempty"`

	// Property is the requested output property, if relevant.
	Property string `json:"property,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Phase != "" {
		msg += fmt.Sprintf(" (phase=%s)", e.Phase)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewMissingOutputError reports a model that cannot produce property.
func NewMissingOutputError(phase, property string, err error) *Error {
	return &Error{
		Code:     ErrCodeMissingOutput,
		Message:  fmt.Sprintf("model does not provide output %s", property),
		Phase:    phase,
		Property: property,
		Err:      err,
	}
}

// NewParameterIncompatibleError reports a record whose parameter vector
// length differs from the supplied values.
func NewParameterIncompatibleError(phase string, have, want int) *Error {
	return &Error{
		Code:    ErrCodeParameterIncompatible,
		Message: fmt.Sprintf("cached callables take %d parameters, got %d values", have, want),
		Phase:   phase,
		Details: map[string]interface{}{"have": have, "want": want},
	}
}

// NewValidationError reports invalid build options.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// classify converts collaborator errors into *Error values.
func classify(phase, property string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var missing *model.MissingOutputError
	switch {
	case errors.As(err, &missing):
		return NewMissingOutputError(missing.Phase, missing.Property, err)
	case errors.Is(err, model.ErrUnknownPhase):
		return &Error{Code: ErrCodeUnknownPhase, Message: "phase is not defined", Phase: phase, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: ErrCodeCanceled, Message: "build canceled", Phase: phase, Err: err}
	}
	return &Error{Code: ErrCodeCompile, Message: "compilation failed", Phase: phase, Property: property, Err: err}
}
