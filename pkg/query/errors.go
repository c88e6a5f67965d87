package query

import "errors"

// Standardized query error types. Callers rely on distinguishing "absent"
// from "ambiguous": Get keeps the dual-failure contract exactly.
var (
	// ErrDocumentNotFound is returned by Get when zero documents match.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMultipleDocumentsFound is returned by Get when more than one
	// document matches.
	ErrMultipleDocumentsFound = errors.New("multiple documents found")

	// ErrInvalidQuery is returned when a query description fails
	// validation before execution.
	ErrInvalidQuery = errors.New("invalid query description")

	// ErrInvalidUpdate is returned when an update spec cannot be
	// normalized into operator form.
	ErrInvalidUpdate = errors.New("invalid update spec")
)
