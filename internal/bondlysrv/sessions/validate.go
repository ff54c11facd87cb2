package sessions

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/go-playground/validator/v10"
)

// Emotions are the emotion tags a participant may pick.
var Emotions = []string{
	"Frustrated",
	"Sad",
	"Angry",
	"Hurt",
	"Confused",
	"Anxious",
	"Hopeful",
	"In Love",
	"Disappointed",
	"Overwhelmed",
}

var (
	requestValidator     *validator.Validate
	requestValidatorOnce sync.Once
)

// V returns the validator for request payloads.
func V() *validator.Validate {
	requestValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("emotion", emotionValidator)
		requestValidator = v
	})
	return requestValidator
}

func emotionValidator(fl validator.FieldLevel) bool {
	return slices.Contains(Emotions, fl.Field().String())
}

// validate checks a payload and reports every failing field in one error.
func validate(payload any) apperrors.Error {
	err := V().Struct(payload)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ErrInvalidInput.Err(err)
	}
	var ves apperrors.ValidationErrors
	for _, fe := range fieldErrs {
		ves = append(ves, apperrors.ValidationError{
			Field:  fieldPath(fe),
			Value:  fe.Value(),
			ErrStr: describe(fe),
		})
	}
	return ErrInvalidInput.MsgErr(ves.Error(), ves)
}

// fieldPath drops the top level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "unique":
		return "must not repeat entries"
	case "emotion":
		return "must be one of " + strings.Join(Emotions, ", ")
	}
	return "is invalid"
}
