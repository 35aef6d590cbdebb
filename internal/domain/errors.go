package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// FieldErrors lists validation messages per input field. It matches
// ErrValidation with errors.Is.
type FieldErrors map[string][]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		messages = append(messages, e[field]...)
	}
	return ErrValidation.Error() + ": " + strings.Join(messages, "; ")
}

func (e FieldErrors) Unwrap() error {
	return ErrValidation
}
