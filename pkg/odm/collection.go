package odm

import (
	"context"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/query"
	"github.com/remora-db/remora/pkg/reference"
)

// Collection is a per-document-type handle bound to one connection alias.
// Operations through it fire observers, consult the cascade guard on deletes
// and honour any transaction bound to the caller's context.
type Collection struct {
	client *Client
	alias  string
	meta   *document.Meta
	ex     *query.Executor
}

// Meta returns the document type this handle operates on.
func (c *Collection) Meta() *document.Meta { return c.meta }

// Mode reports the bound connection's mode.
func (c *Collection) Mode() driver.Mode { return c.ex.Mode() }

// New returns a fresh, unsaved document of this collection's type.
func (c *Collection) New() *document.Document {
	return document.New(c.meta)
}

// Query starts an unfiltered query over the collection.
func (c *Collection) Query() *query.Query { return c.ex.Query() }

// Find starts a query with an initial filter.
func (c *Collection) Find(filter map[string]interface{}) *query.Query {
	return c.ex.Find(filter)
}

// Save persists the document: an insert when it has no identity, a full
// replace otherwise. Pre- and post-save observers fire around the write;
// unmodified identified documents are a no-op.
func (c *Collection) Save(ctx context.Context, doc *document.Document) error {
	return c.ex.Save(ctx, doc)
}

// Insert persists the document as a new record, assigning an identity if it
// has none.
func (c *Collection) Insert(ctx context.Context, doc *document.Document) error {
	return c.ex.Insert(ctx, doc)
}

// Delete removes the document. Declared delete rules apply: a deny-rule
// dependent refuses the whole delete before any side effect; cascade,
// nullify and pull rules propagate to referrers.
func (c *Collection) Delete(ctx context.Context, doc *document.Document) error {
	return c.ex.DeleteDocument(ctx, doc)
}

// Reference accesses a reference field on the document. On a sync connection
// the target document is returned directly; on an async connection the
// Deferred handle is returned instead, and no I/O happens until its Fetch.
func (c *Collection) Reference(ctx context.Context, doc *document.Document, field string) (*document.Document, *reference.Deferred, error) {
	r, err := c.client.resolver(c.alias, c.ex.Conn())
	if err != nil {
		return nil, nil, err
	}
	return r.Resolve(ctx, doc, field)
}
