package apperrors

import (
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field  string
	Value  any
	ErrStr string
}

func (ve ValidationError) Error() string {
	if len(ve.Field) > 0 {
		return ve.Field + ": " + ve.ErrStr
	}
	return ve.ErrStr
}

// ValidationErrors is a collection of field errors reported together.
type ValidationErrors []ValidationError

func (ves ValidationErrors) Error() string {
	parts := make([]string, 0, len(ves))
	for _, ve := range ves {
		parts = append(parts, ve.Error())
	}
	return strings.Join(parts, "; ")
}
