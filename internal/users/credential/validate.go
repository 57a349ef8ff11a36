package credential

import (
	"errors"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
)

const (
	tagPasswordMin = "pwmin"
	tagPasswordMax = "pwmax"
)

func newValidator(minRunes, maxBytes int) (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation(tagPasswordMin, func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) >= minRunes
	}); err != nil {
		return nil, err
	}

	// bcrypt rejects input over 72 bytes; report that as bad input rather
	// than as a hash failure.
	if err := v.RegisterValidation(tagPasswordMax, func(fl validator.FieldLevel) bool {
		return maxBytes <= 0 || len(fl.Field().String()) <= maxBytes
	}); err != nil {
		return nil, err
	}

	return v, nil
}

func (m *Manager) validateUsername(username string) error {
	return m.check("username", username, "required")
}

func (m *Manager) validateEmail(email string) error {
	return m.check("email", email, "required,email")
}

func (m *Manager) validatePassword(password string) error {
	return m.check("password", password, "required,"+tagPasswordMin+","+tagPasswordMax)
}

// check runs tags against value and converts the first failure into a
// *domain.ValidationError. The value itself is never part of the error.
func (m *Manager) check(field, value, tags string) error {
	err := m.validate.Var(value, tags)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	var cause error
	switch fieldErrs[0].Tag() {
	case "required":
		cause = domain.ErrMissingField
	case "email":
		cause = domain.ErrInvalidEmail
	case tagPasswordMin:
		cause = domain.ErrPasswordTooShort
	case tagPasswordMax:
		cause = domain.ErrPasswordTooLong
	default:
		cause = errors.New(fieldErrs[0].Tag())
	}
	return &domain.ValidationError{Field: field, Err: cause}
}
