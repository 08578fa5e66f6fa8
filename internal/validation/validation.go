package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MaxURLLength = 2048
	MaxListLimit = 200
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// SubmitRequest is the body of a job submission. Any well-formed absolute
// URL passes; whether the source is supported is decided by the pipeline.
type SubmitRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

func ValidateSubmit(req SubmitRequest) ValidationErrors {
	req.URL = strings.TrimSpace(req.URL)
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	var out ValidationErrors
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out = append(out, ValidationError{Field: field, Message: "is required"})
		case "url":
			out = append(out, ValidationError{Field: field, Message: "must be an absolute URL"})
		case "max":
			out = append(out, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxURLLength),
			})
		default:
			out = append(out, ValidationError{Field: field, Message: fmt.Sprintf("failed %q constraint", fe.Tag())})
		}
	}
	return out
}

// ParseLimit reads an optional list limit query value.
func ParseLimit(raw string, def int) (int, ValidationErrors) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxListLimit {
		return 0, ValidationErrors{{
			Field:   "limit",
			Message: fmt.Sprintf("must be an integer between 1 and %d", MaxListLimit),
		}}
	}
	return n, nil
}

// ParseBool reads an optional boolean query flag.
func ParseBool(field, raw string, def bool) (bool, ValidationErrors) {
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, ValidationErrors{{Field: field, Message: "must be true or false"}}
	}
	return b, nil
}
