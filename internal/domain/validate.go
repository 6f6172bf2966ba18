package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json names so messages match what clients sent.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg after normalisation. Failures come back as an *Error
// of KindInvalidConfig listing every offending field.
func (c StreamConfig) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewError(KindInvalidConfig, "validate", err.Error(), nil)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, translate(fe))
	}
	return NewError(KindInvalidConfig, "validate", strings.Join(msgs, "; "), nil)
}

var messages = map[string]string{
	"required":         "%s is required",
	"required_without": "media_key or playlist is required",
	"required_if":      "%s is required when the schedule is enabled",
	"datetime":         "%s must be HH:MM",
	"startswith":       "%s must be an rtmp:// or rtmps:// URL",
}

var paramMessages = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be at least %s",
	"lte":   "%s must be at most %s",
	"min":   "%s must have at least %s entries",
	"max":   "%s must be at most %s long",
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	if fe.Namespace() != "" {
		if parts := strings.SplitN(fe.Namespace(), ".", 2); len(parts) == 2 {
			field = parts[1]
		}
	}
	// Alternatives ("a=x|b=y") report the whole group as their tag.
	tag := strings.SplitN(fe.Tag(), "=", 2)[0]
	if tpl, ok := messages[tag]; ok {
		if strings.Contains(tpl, "%s") {
			return fmt.Sprintf(tpl, field)
		}
		return tpl
	}
	if tpl, ok := paramMessages[tag]; ok {
		return fmt.Sprintf(tpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
