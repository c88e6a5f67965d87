package document

import "fmt"

// DeleteRule governs what happens to documents referencing a document that is
// being deleted.
type DeleteRule int

const (
	// DoNothing leaves referrers untouched; their links dangle.
	DoNothing DeleteRule = iota

	// Nullify clears the back-reference field on every referrer.
	Nullify

	// Cascade deletes every referrer, recursively.
	Cascade

	// Deny refuses the delete while any referrer exists.
	Deny

	// Pull removes the deleted identity from list-valued back-reference
	// fields on referrers.
	Pull
)

// String returns the rule name for logs and error messages.
func (r DeleteRule) String() string {
	switch r {
	case DoNothing:
		return "do_nothing"
	case Nullify:
		return "nullify"
	case Cascade:
		return "cascade"
	case Deny:
		return "deny"
	case Pull:
		return "pull"
	}
	return "unknown"
}

// Reference declares a reference field on a document type: which field, which
// collection it points at, and what happens to the owning document when the
// target is deleted.
type Reference struct {
	Field    string
	Target   string
	OnDelete DeleteRule

	// List marks the field as list-valued (a slice of links). Required for
	// the Pull rule to make sense.
	List bool
}

// Meta describes one document type: its collection and its declared
// reference fields. Field typing and validation are deliberately out of
// scope; remora treats field values as opaque.
type Meta struct {
	Collection string
	References []Reference
}

// ReverseRef is one entry of the reverse reference index: "documents of
// Owner reference this collection through Field, with Rule on delete".
type ReverseRef struct {
	Owner *Meta
	Field string
	Rule  DeleteRule
	List  bool
}

// Schema is the registry of document types. Building a schema computes the
// reverse reference index consumed by the cascade-delete engine.
type Schema struct {
	metas   map[string]*Meta
	reverse map[string][]ReverseRef
}

// NewSchema builds a schema from the given metas. It fails if two metas share
// a collection name, if a reference targets an unregistered collection, or if
// a Pull rule is declared on a non-list field.
func NewSchema(metas ...*Meta) (*Schema, error) {
	s := &Schema{
		metas:   make(map[string]*Meta, len(metas)),
		reverse: map[string][]ReverseRef{},
	}
	for _, m := range metas {
		if m.Collection == "" {
			return nil, fmt.Errorf("schema: meta with empty collection name")
		}
		if _, dup := s.metas[m.Collection]; dup {
			return nil, fmt.Errorf("schema: duplicate collection %q", m.Collection)
		}
		s.metas[m.Collection] = m
	}
	for _, m := range metas {
		for _, ref := range m.References {
			if _, ok := s.metas[ref.Target]; !ok {
				return nil, fmt.Errorf("schema: %s.%s references unregistered collection %q",
					m.Collection, ref.Field, ref.Target)
			}
			if ref.OnDelete == Pull && !ref.List {
				return nil, fmt.Errorf("schema: %s.%s declares a pull rule on a non-list field",
					m.Collection, ref.Field)
			}
			s.reverse[ref.Target] = append(s.reverse[ref.Target], ReverseRef{
				Owner: m,
				Field: ref.Field,
				Rule:  ref.OnDelete,
				List:  ref.List,
			})
		}
	}
	return s, nil
}

// Meta looks up the meta registered for a collection.
func (s *Schema) Meta(collection string) (*Meta, bool) {
	m, ok := s.metas[collection]
	return m, ok
}

// Referrers returns the reverse reference index entries for a collection:
// every declared reference field, across all registered types, that points at
// it. Entries are returned in registration order.
func (s *Schema) Referrers(collection string) []ReverseRef {
	return s.reverse[collection]
}
