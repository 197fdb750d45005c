package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct tags and the cross-field rules tags cannot express.
func (f *File) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(f); err != nil {
		return formatValidationErrors(err)
	}

	if f.JWT.PrivateKey == "" && f.JWT.PrivateKeyFile == "" {
		return errors.New("jwt: private_key or private_key_file is required")
	}
	if f.JWT.PrivateKey != "" && f.JWT.PrivateKeyFile != "" {
		return errors.New("jwt: specify private_key OR private_key_file, not both")
	}
	if f.JWT.SigningMethod == "ed25519" && f.JWT.PublicKey == "" && f.JWT.PublicKeyFile == "" {
		return errors.New("jwt: ed25519 requires public_key or public_key_file")
	}

	seen := make(map[string]int, len(f.Users))
	for i, u := range f.Users {
		email := strings.ToLower(u.Email)
		if j, ok := seen[email]; ok {
			return fmt.Errorf("users[%d]: email %s already used by users[%d]", i, u.Email, j)
		}
		seen[email] = i
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "len":
		return fmt.Sprintf("%s must have exactly %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "timezone":
		return fmt.Sprintf("%s must be an IANA time zone", field)
	case "email":
		return fmt.Sprintf("%s must be an email address", field)
	case "file":
		return fmt.Sprintf("%s must name an existing file", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
