package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrInvalid matches every ValidationError via errors.Is.
	ErrInvalid = errors.New("invalid input")
)

// ValidationError reports input rejected before anything was persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Invalid is shorthand for a field level ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFoundError reports an id that does not refer to an existing row.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TaskNotFound builds the NotFoundError for a task id.
func TaskNotFound(id int64) error { return &NotFoundError{Entity: "task", ID: id} }

// LabelNotFound builds the NotFoundError for a label id.
func LabelNotFound(id int64) error { return &NotFoundError{Entity: "label", ID: id} }
