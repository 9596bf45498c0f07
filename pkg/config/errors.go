package config

import (
	"errors"
	"fmt"
)

// Sentinels returned (wrapped) by Initialize and the validator.
var (
	ErrConfigNotFound       = errors.New("configuration file not found")
	ErrInvalidYAML          = errors.New("invalid YAML syntax")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")

	// ErrInvalidReference marks a name that matches nothing the server
	// knows, such as a rule override for a rule that is not shipped.
	ErrInvalidReference = errors.New("invalid reference")
)

// ValidationError locates a rejected value in hearth.yaml.
type ValidationError struct {
	Section string // system, auth, hub, scanner, rule, retention, client
	Name    string // rule name; equal to Section for singleton sections
	Field   string
	Err     error
}

// Error renders the location as section[name].field.
func (e *ValidationError) Error() string {
	where := e.Section
	if e.Name != "" && e.Name != e.Section {
		where += "[" + e.Name + "]"
	}
	if e.Field != "" {
		where += "." + e.Field
	}
	return fmt.Sprintf("%s: %v", where, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(section, name, field string, err error) *ValidationError {
	return &ValidationError{Section: section, Name: name, Field: field, Err: err}
}

// LoadError reports which file could not be read or parsed.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
