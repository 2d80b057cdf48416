package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrValidation            = errors.New("validation failed")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrProviderTransient     = errors.New("provider transient failure")
	ErrProviderParse         = errors.New("provider payload malformed")
	ErrProviderRejected      = errors.New("provider rejected request")
	ErrDuplicateCharge       = errors.New("duplicate charge")
	ErrDuplicateTask         = errors.New("duplicate external task")
	ErrPersistence           = errors.New("persistence failure")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrWebhookUnsupported    = errors.New("webhook not supported")
)

// ValidationError reports bad caller input on a specific field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is a shorthand for constructing a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError describes a failed call to an external provider. Kind is one
// of ErrProviderTransient, ErrProviderParse or ErrProviderRejected.
type ProviderError struct {
	Provider   ProviderName
	Op         string
	StatusCode int
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsTransient reports whether err is worth retrying at the provider boundary.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

// Persistence wraps a storage driver error so callers can classify it.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
