package models

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks a rejected precondition; nothing was committed.
	ErrValidation = errors.New("validation error")
	// ErrForbidden is returned when the actor does not own the resource.
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
	// ErrConflict is returned when the resource is in a state that forbids
	// the operation (already cancelled, already departed, has reservations).
	ErrConflict = errors.New("conflict")
)

type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

// ValidationError collects every field rejected during one operation.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Add(field, code string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code})
}

func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Code)
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// HasField reports whether field was rejected.
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
