package handlers

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// RegisterValidators installs the custom form rules on gin's validator.
// Registering again replaces the same functions.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	rules := map[string]validator.Func{
		"username":  validateUsername,
		"has_upper": containsAny("ABCDEFGHIJKLMNOPQRSTUVWXYZ"),
		"has_lower": containsAny("abcdefghijklmnopqrstuvwxyz"),
		"has_digit": containsAny("0123456789"),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func validateUsername(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

// containsAny passes when the field holds at least one ASCII char from set.
func containsAny(set string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return strings.ContainsAny(fl.Field().String(), set)
	}
}
