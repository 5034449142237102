package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinPasswordLength = 6
	maxNameLength     = 200
	maxEmailLength    = 254
)

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,})+$`)

var (
	nameRules     = fmt.Sprintf("required,max=%d", maxNameLength)
	emailRules    = fmt.Sprintf("required,max=%d,account_email", maxEmailLength)
	passwordRules = fmt.Sprintf("min=%d", MinPasswordLength)
)

// fields checks single values against validator tags. account_email is the
// address pattern accounts have always been registered with.
var fields = newFieldValidator()

func newFieldValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("account_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// failedRule returns the first tag value violates, or "" when it passes.
func failedRule(value, rules string) string {
	err := fields.Var(value, rules)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return "invalid"
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return normalizeEmail(email)
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch failedRule(name, nameRules) {
	case "":
		return name, nil
	case "required":
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	default:
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrValidation, maxNameLength)
	}
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	switch failedRule(email, emailRules) {
	case "":
		return email, nil
	case "required":
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	default:
		return "", fmt.Errorf("%w: email is invalid", ErrValidation)
	}
}

func validatePassword(password string) error {
	if failedRule(password, passwordRules) != "" {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}

// validateMatrix rejects module/action pairs outside the schema.
func validateMatrix(m Matrix) error {
	for module, actions := range m {
		for action := range actions {
			if !KnownPermission(module, action) {
				return fmt.Errorf("%w: unknown permission %s.%s", ErrValidation, module, action)
			}
		}
	}
	return nil
}
