package odm

import "errors"

// ErrUnknownCollection is returned by C when the named collection has no
// registered meta in the schema.
var ErrUnknownCollection = errors.New("unknown collection")
