package document

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is a typed bag of field values plus an identity and a dirty flag.
// Its lifecycle is create -> (mutate)* -> persist|discard; the query layer
// clears the dirty flag after a successful persist.
//
// Documents are owned by the caller and are not safe for concurrent
// mutation.
type Document struct {
	meta   *Meta
	id     interface{}
	fields bson.M
	dirty  bool

	// resolved reference targets, cached per field by the reference resolver
	refCache map[string]*Document
}

// New creates an empty, dirty document of the given type.
func New(meta *Meta) *Document {
	return &Document{
		meta:   meta,
		fields: bson.M{},
		dirty:  true,
	}
}

// Meta returns the document type metadata.
func (d *Document) Meta() *Meta { return d.meta }

// Collection returns the collection this document belongs to.
func (d *Document) Collection() string { return d.meta.Collection }

// ID returns the document identity, or nil if it has not been persisted and
// no identity was assigned.
func (d *Document) ID() interface{} { return d.id }

// SetID assigns the document identity. Assigning an identity does not mark
// the document dirty; identity is not a mutable field.
func (d *Document) SetID(id interface{}) { d.id = id }

// Get returns the value of a field.
func (d *Document) Get(field string) (interface{}, bool) {
	v, ok := d.fields[field]
	return v, ok
}

// Set assigns a field value and marks the document dirty.
func (d *Document) Set(field string, value interface{}) {
	d.fields[field] = value
	d.dirty = true
	if d.refCache != nil {
		delete(d.refCache, field)
	}
}

// Unset removes a field and marks the document dirty.
func (d *Document) Unset(field string) {
	delete(d.fields, field)
	d.dirty = true
	if d.refCache != nil {
		delete(d.refCache, field)
	}
}

// Fields returns the raw field bag. The returned map is the live backing
// store, not a copy.
func (d *Document) Fields() bson.M { return d.fields }

// Dirty reports whether the document has unpersisted mutations.
func (d *Document) Dirty() bool { return d.dirty }

// MarkClean clears the dirty flag. Called by the query layer after a
// successful persist.
func (d *Document) MarkClean() { d.dirty = false }

// Ref reads a reference field as a stored link. It returns an error if the
// field is absent or does not hold a reference.
func (d *Document) Ref(field string) (Ref, error) {
	v, ok := d.fields[field]
	if !ok {
		return Ref{}, fmt.Errorf("document %s(%v): field %q is not set", d.meta.Collection, d.id, field)
	}
	ref, ok := AsRef(v)
	if !ok {
		return Ref{}, fmt.Errorf("document %s(%v): field %q does not hold a reference", d.meta.Collection, d.id, field)
	}
	return ref, nil
}

// SetRef stores a link to target in the given field.
func (d *Document) SetRef(field string, target *Document) {
	d.Set(field, Ref{Collection: target.Collection(), ID: target.ID()}.Raw())
}

// CachedRef returns the resolved target previously cached for a reference
// field, or nil if the field is unresolved.
func (d *Document) CachedRef(field string) *Document {
	if d.refCache == nil {
		return nil
	}
	return d.refCache[field]
}

// CacheRef stores a resolved target for a reference field. Caching does not
// dirty the document; the stored link is unchanged.
func (d *Document) CacheRef(field string, target *Document) {
	if d.refCache == nil {
		d.refCache = map[string]*Document{}
	}
	d.refCache[field] = target
}

// Ref is a stored pointer to a document in another (or the same) collection.
// On the wire it is encoded in DBRef form: {"$ref": collection, "$id": id}.
type Ref struct {
	Collection string
	ID         interface{}
}

// Raw returns the wire encoding of the link.
func (r Ref) Raw() bson.M {
	return bson.M{"$ref": r.Collection, "$id": r.ID}
}

// AsRef interprets a raw field value as a stored link.
func AsRef(v interface{}) (Ref, bool) {
	switch m := v.(type) {
	case Ref:
		return m, true
	case bson.M:
		coll, ok := m["$ref"].(string)
		if !ok {
			return Ref{}, false
		}
		id, ok := m["$id"]
		if !ok {
			return Ref{}, false
		}
		return Ref{Collection: coll, ID: id}, true
	}
	return Ref{}, false
}
