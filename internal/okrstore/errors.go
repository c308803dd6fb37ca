package okrstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound matches any error about a missing cycle, objective, key result or milestone.
	ErrNotFound = errors.New("not found")
	// ErrValidation matches any error about input that breaks an engine rule.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict matches any error about an operation the current lifecycle state forbids.
	ErrStateConflict = errors.New("state conflict")
)

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError for the given entity kind and id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	Source  string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	switch {
	case e.Source != "" && e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Field, e.Message)
	case e.Source != "":
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

func (errs ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a single-entry ValidationErrors.
func Invalid(field, format string, args ...any) error {
	return ValidationErrors{{Field: field, Message: fmt.Sprintf(format, args...)}}
}

// StateConflictError reports an operation rejected by lifecycle state.
type StateConflictError struct {
	Entity string
	ID     string
	State  string
	Action string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s %q in state %s", e.Action, e.Entity, e.ID, e.State)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
