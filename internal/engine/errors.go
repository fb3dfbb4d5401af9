package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"taskroom/internal/repo"
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UnauthorizedError reports a call without a usable principal.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// NotFoundError is returned for missing entities and for entities that live
// in another org.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ConflictError reports a concurrent write that could not be resolved.
type ConflictError struct {
	Entity string
	Err    error
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s was modified concurrently: %v", e.Entity, e.Err)
}

func (e ConflictError) Unwrap() error { return e.Err }

// InternalError wraps storage failures. Its message is not meant for callers.
type InternalError struct {
	Op  string
	Err error
}

func (e InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e InternalError) Unwrap() error { return e.Err }

// storeErr classifies a repo error.
func storeErr(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return InternalError{Op: op, Err: err}
}

func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return InternalError{Op: op, Err: err}
}

// validationErr converts validator output into a ValidationError naming the
// first failing field.
func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	msg := fe.Tag()
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		msg = "must be at most " + fe.Param() + " characters"
	}
	return ValidationError{Field: fe.Field(), Message: msg}
}
