package schema

import "fmt"

// ValidationError reports a record that violates the declared schema.
type ValidationError struct {
	Kind  string // record kind, e.g. "library item"
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Msg)
}

func invalid(kind, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}
