package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers records that are absent, soft-deleted or owned by someone
	// else. Callers cannot tell these apart.
	ErrNotFound = errors.New("experiment not found")

	// ErrStoreUnavailable is matched by every StoreError.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConflict reports a lost compare-and-swap on Revision.
	ErrConflict = errors.New("experiment was modified concurrently")

	// ErrInsightsUnavailable reports that no insight generator is configured or
	// that the configured one failed.
	ErrInsightsUnavailable = errors.New("insights are not configured")
)

// ValidationError describes malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError wraps a failed call to the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// StoreFailure wraps err as a StoreError unless it is already a domain error.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
