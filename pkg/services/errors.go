package services

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Service error contract. Handlers translate these into HTTP status codes.
var (
	// ErrNotFound means the addressed entity does not exist or is soft
	// deleted.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is the root of every input rejection. ValidationError
	// unwraps to it, so errors.Is(err, ErrInvalidInput) matches both.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError names the field an input rejection is about.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Postgres error code for unique constraint violations.
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. Get-or-create paths use it to recover from insert races, and
// the dedup gate uses it to detect webhook redeliveries.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
