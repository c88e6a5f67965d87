package document

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Hydrator converts between raw wire records and typed Document instances.
// Field-level type coercion is an external concern: implementations may
// coerce values however they like, remora only requires that identity and
// stored links round-trip.
type Hydrator interface {
	Hydrate(raw bson.M, meta *Meta) (*Document, error)
	Dehydrate(doc *Document) (bson.M, error)
}

// BSONHydrator is the default pass-through hydrator: field values are carried
// as-is, "_id" becomes the document identity, and declared reference fields
// are kept in their DBRef wire form.
type BSONHydrator struct{}

// NewBSONHydrator returns the default hydrator.
func NewBSONHydrator() *BSONHydrator { return &BSONHydrator{} }

// Hydrate builds a clean Document from a raw wire record.
func (h *BSONHydrator) Hydrate(raw bson.M, meta *Meta) (*Document, error) {
	if meta == nil {
		return nil, fmt.Errorf("hydrate: nil meta")
	}
	doc := &Document{
		meta:   meta,
		fields: make(bson.M, len(raw)),
	}
	for k, v := range raw {
		if k == "_id" {
			doc.id = v
			continue
		}
		doc.fields[k] = v
	}
	// A record that came off the wire has no unpersisted mutations.
	doc.dirty = false
	return doc, nil
}

// Dehydrate flattens a Document back into its wire record. Cached resolved
// references are not written; only the stored links go to the wire.
func (h *BSONHydrator) Dehydrate(doc *Document) (bson.M, error) {
	if doc == nil {
		return nil, fmt.Errorf("dehydrate: nil document")
	}
	raw := make(bson.M, len(doc.fields)+1)
	for k, v := range doc.fields {
		if ref, ok := v.(Ref); ok {
			raw[k] = ref.Raw()
			continue
		}
		raw[k] = v
	}
	if doc.id != nil {
		raw["_id"] = doc.id
	}
	return raw, nil
}
