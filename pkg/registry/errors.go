package registry

import "errors"

// Standardized registry error types.
var (
	// ErrUnknownAlias is returned when resolving an alias no connection was
	// registered under.
	ErrUnknownAlias = errors.New("unknown connection alias")

	// ErrNestedTransaction is returned when a transaction scope is opened
	// for an alias that already has one bound to the current context.
	// Nesting for a different alias is independent and permitted. This is a
	// programming error: fail fast, never retry.
	ErrNestedTransaction = errors.New("nested transaction scope for the same alias")
)
