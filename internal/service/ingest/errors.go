package ingest

import "fmt"

// ValidationError reports a missing or malformed required field. Surfaced
// to the caller as a 400; never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func requiredField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// NotFoundError reports an update targeting an id absent from the store.
// Surfaced as a 404; idempotent callers treat it as "already gone or never
// existed".
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}
