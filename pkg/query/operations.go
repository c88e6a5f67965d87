package query

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/cursor"
	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/events"
)

// First fetches one matching document, honoring ordering and skip. A query
// matching nothing returns (nil, nil): absence is an expected outcome here,
// not an error.
func (q *Query) First(ctx context.Context) (*document.Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	ctx, done := q.ex.observe(ctx, "first")
	raw, err := q.ex.coll.FindOne(ctx, q.ex.session(ctx), q.filterOrEmpty(), q.findOptions())
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			done(nil)
			return nil, nil
		}
		err = driver.TranslateError(err)
		done(err)
		return nil, err
	}
	doc, err := q.ex.hydrator.Hydrate(raw, q.ex.meta)
	done(err)
	return doc, err
}

// Get fetches exactly one matching document. Zero matches fail with
// ErrDocumentNotFound, two or more with ErrMultipleDocumentsFound. Callers
// rely on telling "absent" apart from "ambiguous"; both conditions carry the
// collection name.
func (q *Query) Get(ctx context.Context) (*document.Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	ctx, done := q.ex.observe(ctx, "get")

	opts := q.findOptions()
	opts.Limit = driver.Int64(2)
	inner, err := q.ex.coll.Find(ctx, q.ex.session(ctx), q.filterOrEmpty(), opts)
	if err != nil {
		err = driver.TranslateError(err)
		done(err)
		return nil, err
	}
	defer inner.Close(ctx)

	first, err := inner.Next(ctx)
	if err != nil {
		if errors.Is(err, driver.ErrCursorDrained) {
			err = fmt.Errorf("%w in %s", ErrDocumentNotFound, q.ex.meta.Collection)
		} else {
			err = driver.TranslateError(err)
		}
		done(err)
		return nil, err
	}
	if _, err := inner.Next(ctx); err == nil {
		err = fmt.Errorf("%w in %s", ErrMultipleDocumentsFound, q.ex.meta.Collection)
		done(err)
		return nil, err
	} else if !errors.Is(err, driver.ErrCursorDrained) {
		err = driver.TranslateError(err)
		done(err)
		return nil, err
	}

	doc, err := q.ex.hydrator.Hydrate(first, q.ex.meta)
	done(err)
	return doc, err
}

// Count counts the matching documents. An unset skip/limit is never
// forwarded to the driver as a literal zero — zero and "unset" are distinct
// server-side, and conflating them silently returns wrong counts.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	ctx, done := q.ex.observe(ctx, "count")
	opts := driver.CountOptions{Skip: q.skip, Limit: q.limit}
	n, err := q.ex.coll.CountDocuments(ctx, q.ex.session(ctx), q.filterOrEmpty(), opts)
	err = driver.TranslateError(err)
	done(err)
	return n, err
}

// Exists reports whether any document matches, short-circuiting at one.
func (q *Query) Exists(ctx context.Context) (bool, error) {
	if err := q.validate(); err != nil {
		return false, err
	}
	ctx, done := q.ex.observe(ctx, "exists")
	opts := driver.CountOptions{Limit: driver.Int64(1)}
	n, err := q.ex.coll.CountDocuments(ctx, q.ex.session(ctx), q.filterOrEmpty(), opts)
	err = driver.TranslateError(err)
	done(err)
	return n > 0, err
}

// All materializes the full result set. Only synchronous connections permit
// implicit full materialization; on an async connection use Cursor and drive
// the iteration explicitly.
func (q *Query) All(ctx context.Context) ([]*document.Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.ex.conn.Mode() != driver.Sync {
		return nil, fmt.Errorf("query: All on %s connection %q: %w (use Cursor)",
			q.ex.conn.Mode(), q.ex.alias, driver.ErrConnectionModeMismatch)
	}
	ctx, done := q.ex.observe(ctx, "all")
	docs, err := q.drain(ctx)
	done(err)
	return docs, err
}

// Cursor opens an iteration handle over the result set. Only asynchronous
// connections hand out cursors; a sync connection materializes via All.
func (q *Query) Cursor(ctx context.Context) (*cursor.Handle, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.ex.conn.Mode() != driver.Async {
		return nil, fmt.Errorf("query: Cursor on %s connection %q: %w (use All)",
			q.ex.conn.Mode(), q.ex.alias, driver.ErrConnectionModeMismatch)
	}
	ctx, done := q.ex.observe(ctx, "cursor")

	snapshot := q.clone()
	h := cursor.New(q.ex.meta, q.ex.hydrator, func(openCtx context.Context) (driver.Cursor, error) {
		return snapshot.ex.coll.Find(openCtx, snapshot.ex.session(openCtx), snapshot.filterOrEmpty(), snapshot.findOptions())
	}, q.ex.logger, gaugeAdapter{q.ex.metrics})

	err := h.Open(ctx)
	done(err)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// gaugeAdapter narrows the Recorder to the cursor gauge, tolerating nil.
type gaugeAdapter struct{ rec Recorder }

func (g gaugeAdapter) CursorOpened() {
	if g.rec != nil {
		g.rec.CursorOpened()
	}
}

func (g gaugeAdapter) CursorClosed() {
	if g.rec != nil {
		g.rec.CursorClosed()
	}
}

// drain fetches and hydrates the whole result set through a raw driver
// cursor, closing it on every exit path.
func (q *Query) drain(ctx context.Context) ([]*document.Document, error) {
	inner, err := q.ex.coll.Find(ctx, q.ex.session(ctx), q.filterOrEmpty(), q.findOptions())
	if err != nil {
		return nil, driver.TranslateError(err)
	}
	defer inner.Close(ctx)

	var out []*document.Document
	for {
		raw, err := inner.Next(ctx)
		if err != nil {
			if errors.Is(err, driver.ErrCursorDrained) {
				return out, nil
			}
			return nil, driver.TranslateError(err)
		}
		doc, err := q.ex.hydrator.Hydrate(raw, q.ex.meta)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
}

// IDs collects the identities of every matching document.
func (q *Query) IDs(ctx context.Context) ([]interface{}, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return q.ids(ctx)
}

func (q *Query) ids(ctx context.Context) ([]interface{}, error) {
	idQuery := q.clone()
	idQuery.only = []string{"_id"}
	idQuery.exclude = nil
	docs, err := idQuery.drain(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

// Update applies an update spec to every matching document. Bare field maps
// are normalized into {$set: ...}; operator-shaped specs pass through
// untouched. Returns the number of documents modified.
func (q *Query) Update(ctx context.Context, spec map[string]interface{}) (int64, error) {
	return q.update(ctx, spec, false)
}

// UpdateOne applies an update spec to the first matching document only, in a
// single server round trip.
func (q *Query) UpdateOne(ctx context.Context, spec map[string]interface{}) (int64, error) {
	return q.update(ctx, spec, true)
}

func (q *Query) update(ctx context.Context, spec map[string]interface{}, single bool) (int64, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	update, err := NormalizeUpdate(spec)
	if err != nil {
		return 0, err
	}
	op := "update"
	if single {
		op = "update_one"
	}
	ctx, done := q.ex.observe(ctx, op)
	var n int64
	if single {
		n, err = q.ex.coll.UpdateOne(ctx, q.ex.session(ctx), q.filterOrEmpty(), update)
	} else {
		n, err = q.ex.coll.UpdateMany(ctx, q.ex.session(ctx), q.filterOrEmpty(), update)
	}
	err = driver.TranslateError(err)
	done(err)
	return n, err
}

// Delete removes every matching document, consulting the delete guard
// (referential integrity rules) first. When delete observers are registered,
// the bulk delete degrades to per-document deletes so pre/post-delete
// observers still fire for each document. Returns the number of documents
// deleted.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	ctx, done := q.ex.observe(ctx, "delete")
	n, err := q.deleteInner(ctx)
	done(err)
	return n, err
}

func (q *Query) deleteInner(ctx context.Context) (int64, error) {
	ids, err := q.ids(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if q.ex.guard != nil {
		if err := q.ex.guard.OnDelete(ctx, q.ex.meta, ids); err != nil {
			return 0, err
		}
	}

	if q.ex.dispatch != nil &&
		(q.ex.dispatch.HasObservers(events.PreDelete) || q.ex.dispatch.HasObservers(events.PostDelete)) {
		return q.deleteWithObservers(ctx, ids)
	}

	n, err := q.ex.coll.DeleteMany(ctx, q.ex.session(ctx), bson.M{"_id": bson.M{"$in": ids}})
	return n, driver.TranslateError(err)
}

func (q *Query) deleteWithObservers(ctx context.Context, ids []interface{}) (int64, error) {
	var deleted int64
	for _, id := range ids {
		doc, err := q.ex.Query().Filter(bson.M{"_id": id}).First(ctx)
		if err != nil {
			return deleted, err
		}
		if doc == nil {
			continue
		}
		if err := q.ex.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PreDelete, Collection: q.ex.meta.Collection, Document: doc,
		}); err != nil {
			return deleted, err
		}
		n, err := q.ex.coll.DeleteMany(ctx, q.ex.session(ctx), bson.M{"_id": id})
		if err != nil {
			return deleted, driver.TranslateError(err)
		}
		deleted += n
		if err := q.ex.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PostDelete, Collection: q.ex.meta.Collection, Document: doc,
		}); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// DeleteByIDs removes the given identities without consulting the delete
// guard. The cascade engine uses it for dependents whose rules were already
// applied at the current recursion level; application code should call
// Delete. When delete observers are registered the removal goes document by
// document, so cascaded dependents fire pre/post-delete like any other
// delete.
func (e *Executor) DeleteByIDs(ctx context.Context, ids []interface{}) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, done := e.observe(ctx, "delete_by_ids")
	var n int64
	var err error
	if e.dispatch != nil &&
		(e.dispatch.HasObservers(events.PreDelete) || e.dispatch.HasObservers(events.PostDelete)) {
		n, err = e.Query().deleteWithObservers(ctx, ids)
	} else {
		n, err = e.coll.DeleteMany(ctx, e.session(ctx), bson.M{"_id": bson.M{"$in": ids}})
		err = driver.TranslateError(err)
	}
	done(err)
	return n, err
}

// Insert persists a new document and assigns its identity. Observers cannot
// distinguish this from Save on a fresh document: both fire pre/post-save
// with Created set.
func (e *Executor) Insert(ctx context.Context, doc *document.Document) error {
	return e.persist(ctx, doc, true)
}

// Save persists a document: a document without identity is inserted, an
// identified dirty document is replaced in place. A clean, identified
// document is a no-op.
func (e *Executor) Save(ctx context.Context, doc *document.Document) error {
	if doc.ID() != nil && !doc.Dirty() {
		return nil
	}
	return e.persist(ctx, doc, doc.ID() == nil)
}

func (e *Executor) persist(ctx context.Context, doc *document.Document, created bool) error {
	op := "save"
	if created {
		op = "insert"
	}
	ctx, done := e.observe(ctx, op)
	err := e.persistInner(ctx, doc, created)
	done(err)
	return err
}

func (e *Executor) persistInner(ctx context.Context, doc *document.Document, created bool) error {
	if e.dispatch != nil {
		if err := e.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PreSave, Collection: e.meta.Collection, Document: doc, Created: created,
		}); err != nil {
			return err
		}
	}

	raw, err := e.hydrator.Dehydrate(doc)
	if err != nil {
		return err
	}

	sess := e.session(ctx)
	if created {
		id, err := e.coll.InsertOne(ctx, sess, raw)
		if err != nil {
			return fmt.Errorf("query: insert into %s: %w", e.meta.Collection, driver.TranslateError(err))
		}
		doc.SetID(id)
	} else {
		modified, err := e.coll.ReplaceOne(ctx, sess, bson.M{"_id": doc.ID()}, raw)
		if err != nil {
			return fmt.Errorf("query: save %s(%v): %w", e.meta.Collection, doc.ID(), driver.TranslateError(err))
		}
		if modified == 0 {
			// Identified but never persisted (or deleted underneath us);
			// fall back to insert with the caller's identity.
			if _, err := e.coll.InsertOne(ctx, sess, raw); err != nil {
				return fmt.Errorf("query: save %s(%v): %w", e.meta.Collection, doc.ID(), driver.TranslateError(err))
			}
		}
	}
	doc.MarkClean()

	if e.dispatch != nil {
		if err := e.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PostSave, Collection: e.meta.Collection, Document: doc, Created: created,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes one document by identity, firing delete observers
// and consulting the delete guard.
func (e *Executor) DeleteDocument(ctx context.Context, doc *document.Document) error {
	if doc.ID() == nil {
		return fmt.Errorf("query: delete unsaved document from %s", e.meta.Collection)
	}
	ctx, done := e.observe(ctx, "delete_document")
	err := e.deleteDocumentInner(ctx, doc)
	done(err)
	return err
}

func (e *Executor) deleteDocumentInner(ctx context.Context, doc *document.Document) error {
	if e.dispatch != nil {
		if err := e.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PreDelete, Collection: e.meta.Collection, Document: doc,
		}); err != nil {
			return err
		}
	}

	if e.guard != nil {
		if err := e.guard.OnDelete(ctx, e.meta, []interface{}{doc.ID()}); err != nil {
			return err
		}
	}

	if _, err := e.coll.DeleteMany(ctx, e.session(ctx), bson.M{"_id": doc.ID()}); err != nil {
		return fmt.Errorf("query: delete %s(%v): %w", e.meta.Collection, doc.ID(), driver.TranslateError(err))
	}

	if e.dispatch != nil {
		if err := e.dispatch.Dispatch(ctx, events.Event{
			Stage: events.PostDelete, Collection: e.meta.Collection, Document: doc,
		}); err != nil {
			return err
		}
	}
	return nil
}
