// Package ddberrors defines the typed errors returned by the schema, reconcile
// and model packages. Every typed error matches its sentinel with errors.Is.
package ddberrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownTable is returned when a table is not declared in the schema config.
	ErrUnknownTable = errors.New("ddbmodel: unknown table")

	// ErrConfiguration is returned for malformed or incomplete configuration.
	ErrConfiguration = errors.New("ddbmodel: configuration error")

	// ErrValidation is returned when a document or a key lookup fails validation.
	ErrValidation = errors.New("ddbmodel: validation error")

	// ErrPrimaryKeyUpdate is returned when a partial update would change the primary key.
	ErrPrimaryKeyUpdate = errors.New("ddbmodel: cannot change primary key")

	// ErrTableAlreadyExists is returned when creating a table the store already has.
	ErrTableAlreadyExists = errors.New("ddbmodel: table already exists")

	// ErrUpdateTable is returned when the live primary key differs from the declared one.
	ErrUpdateTable = errors.New("ddbmodel: cannot update table")

	// ErrNotFound is returned when a direct key lookup finds no item.
	ErrNotFound = errors.New("ddbmodel: item not found")
)

// UnknownTableError names a table missing from the schema config.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table: %s", e.Table)
}

func (e *UnknownTableError) Is(target error) bool {
	return target == ErrUnknownTable
}

// ConfigurationError describes a configuration problem.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ValidationError represents a field or input validation failure.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// PrimaryKeyUpdateError is returned by a partial update after a key field changed.
type PrimaryKeyUpdateError struct {
	Table  string
	Fields []string
}

func (e *PrimaryKeyUpdateError) Error() string {
	return fmt.Sprintf("cannot change primary key (%s) of %s with a partial update, save with overwrite instead",
		strings.Join(e.Fields, ", "), e.Table)
}

func (e *PrimaryKeyUpdateError) Is(target error) bool {
	return target == ErrPrimaryKeyUpdate
}

// TableAlreadyExistsError carries the raw store error for diagnostics.
type TableAlreadyExistsError struct {
	Table    string
	Response error
}

func (e *TableAlreadyExistsError) Error() string {
	if e.Response != nil {
		return fmt.Sprintf("table %s already exists: %v", e.Table, e.Response)
	}
	return fmt.Sprintf("table %s already exists", e.Table)
}

func (e *TableAlreadyExistsError) Is(target error) bool {
	return target == ErrTableAlreadyExists
}

func (e *TableAlreadyExistsError) Unwrap() error {
	return e.Response
}

// UpdateTableError reports a primary key mismatch between the declared and the live table.
type UpdateTableError struct {
	Table    string
	Declared []string
	Live     []string
}

func (e *UpdateTableError) Error() string {
	return fmt.Sprintf("primary key of %s differs: declared [%s], live [%s]; primary key changes are not migrated",
		e.Table, strings.Join(e.Declared, ", "), strings.Join(e.Live, ", "))
}

func (e *UpdateTableError) Is(target error) bool {
	return target == ErrUpdateTable
}

// NotFoundError is returned when GetItem returns no item.
type NotFoundError struct {
	Table string
	Key   map[string]any
}

func (e *NotFoundError) Error() string {
	keys := make([]string, 0, len(e.Key))
	for k, v := range e.Key {
		keys = append(keys, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s item with key {%s} not found", e.Table, strings.Join(keys, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewConfigurationError creates a ConfigurationError from a format string.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTableAlreadyExists reports whether err is a table already exists error.
func IsTableAlreadyExists(err error) bool {
	return errors.Is(err, ErrTableAlreadyExists)
}
