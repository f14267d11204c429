// Package domain holds error types shared by the domain aggregates.
package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrMissingField is matched by every MissingFieldError.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError reports a required input field that was empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Is lets errors.Is(err, ErrMissingField) match any missing field.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// RequireFields returns a MissingFieldError for the first empty value, in
// the order given. Pairs are (name, value).
func RequireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return &MissingFieldError{Field: pairs[i]}
		}
	}
	return nil
}
