package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField     = errors.New("required field is missing")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrHashComputation  = errors.New("password hash computation failed")
	ErrNotFound         = errors.New("user not found")
)

// ValidationError names the field that failed. Err is one of the sentinel
// errors above so callers can use errors.Is.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
