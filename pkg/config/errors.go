package config

import (
	"errors"
	"strings"
)

// Validation errors.
var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidValue = errors.New("invalid value")
)

// LoadError describes a configuration loading failure.
type LoadError struct {
	// File is the path of the configuration file, if any.
	File string

	// Field is the offending YAML key (empty for file-level errors).
	Field string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil && e.Cause != ErrMissingField && e.Cause != ErrInvalidValue {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func missing(field string) *LoadError {
	return &LoadError{Field: field, Message: "is required", Cause: ErrMissingField}
}

func invalid(field, msg string) *LoadError {
	return &LoadError{Field: field, Message: msg, Cause: ErrInvalidValue}
}
