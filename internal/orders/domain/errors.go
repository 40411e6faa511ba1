package domain

import (
	"errors"
	"fmt"
)

// ErrValidation marks input that breaks order rules.
var ErrValidation = errors.New("invalid order")

// InvalidStatusError is returned for status strings outside the closed set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("unrecognized order status %q", e.Value)
}

// Is lets callers match InvalidStatusError against ErrValidation.
func (e *InvalidStatusError) Is(target error) bool {
	return target == ErrValidation
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
