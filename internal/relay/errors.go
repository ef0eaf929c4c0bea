package relay

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel for permanent, non-retryable failures:
// malformed or incomplete payloads that will never succeed no matter how
// often they are redelivered. Every other handler error is treated as
// transient infrastructure trouble.
var ErrValidation = errors.New("validation error")

// WrapValidation annotates an error as a permanent validation failure.
func WrapValidation(err error) error {
	if err == nil {
		return ErrValidation
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// Validationf builds a permanent validation failure from a format string.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
