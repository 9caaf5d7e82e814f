package schema

import (
	"fmt"
	"strings"
)

// Reasons reported in FieldError.Reason.
const (
	ReasonRequired   = "is required"
	ReasonNull       = "must not be null"
	ReasonNotEmpty   = "must not be empty"
	ReasonString     = "must be a string"
	ReasonNumber     = "must be a number"
	ReasonInteger    = "must be an integer"
	ReasonBool       = "must be a boolean"
	ReasonObject     = "must be an object"
	ReasonArray      = "must be an array"
	ReasonFinite     = "must be a finite number"
	ReasonMalformed  = "is not valid JSON"
	ReasonConflicted = "conflicts with another field"
)

// FieldError describes a single field that failed validation.
type FieldError struct {
	// Field is the dotted path of the field, e.g. "customers[0].items[1].item_id".
	// An empty path refers to the document itself.
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

// ValidationError holds every field error found while validating one entity.
// A ValidationError with no field errors is never returned to callers.
type ValidationError struct {
	Entity string       `json:"entity"`
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates an empty error collector for the named entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity}
}

// Add records a field error.
func (e *ValidationError) Add(field, reason string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Reason: reason})
}

// Addf records a field error with a formatted reason.
func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// Has reports whether a field error was recorded for the exact path.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Err returns e as an error, or nil when no field errors were recorded.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	if e.Entity == "" {
		return "validation failed: " + strings.Join(msgs, "; ")
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(msgs, "; "))
}

// Join appends a field name to a path.
func Join(path, name string) string {
	switch {
	case path == "":
		return name
	case name == "":
		return path
	case strings.HasPrefix(name, "["):
		return path + name
	default:
		return path + "." + name
	}
}

// Index appends a sequence index to a path.
func Index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
