// Package memdriver implements the remora driver contract against an
// in-memory store. It exists for unit tests and for embedding: it honors the
// same filter, update-operator, sort/skip/limit and transaction semantics the
// MongoDB adapter delegates to a real server.
package memdriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/remora-db/remora/pkg/driver"
)

type collectionData struct {
	order []interface{}
	docs  map[interface{}]bson.M
}

func newCollectionData() *collectionData {
	return &collectionData{docs: map[interface{}]bson.M{}}
}

func (cd *collectionData) clone() *collectionData {
	out := &collectionData{
		order: append([]interface{}(nil), cd.order...),
		docs:  make(map[interface{}]bson.M, len(cd.docs)),
	}
	for id, doc := range cd.docs {
		out.docs[id] = cloneDoc(doc)
	}
	return out
}

type store map[string]*collectionData

func (s store) clone() store {
	out := make(store, len(s))
	for name, cd := range s {
		out[name] = cd.clone()
	}
	return out
}

// Conn is an in-memory implementation of driver.Conn. The mode is chosen at
// construction so both sync and async code paths can be exercised against it.
type Conn struct {
	mode driver.Mode

	mu          sync.RWMutex
	data        store
	openCursors int
}

// New creates an empty in-memory connection operating in the given mode.
func New(mode driver.Mode) *Conn {
	return &Conn{mode: mode, data: store{}}
}

// Mode reports the mode the connection was created with.
func (c *Conn) Mode() driver.Mode { return c.mode }

// Collection returns a handle for the named collection.
func (c *Conn) Collection(name string) driver.Collection {
	return &collection{conn: c, name: name}
}

// StartSession opens a new session. Sessions are cheap; the store is only
// copied when a transaction starts.
func (c *Conn) StartSession(_ context.Context) (driver.Session, error) {
	return &session{conn: c}, nil
}

// OpenCursors reports how many cursors are currently open. Used as the
// leak probe in tests.
func (c *Conn) OpenCursors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openCursors
}

// Close drops the store.
func (c *Conn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = store{}
	return nil
}

// Seed inserts raw documents directly, bypassing sessions. Test convenience.
func (c *Conn) Seed(name string, docs ...bson.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd := c.data[name]
	if cd == nil {
		cd = newCollectionData()
		c.data[name] = cd
	}
	for _, doc := range docs {
		doc = cloneDoc(doc)
		id := doc["_id"]
		if id == nil {
			id = primitive.NewObjectID()
			doc["_id"] = id
		}
		if _, dup := cd.docs[id]; !dup {
			cd.order = append(cd.order, id)
		}
		cd.docs[id] = doc
	}
}

// session implements driver.Session with copy-on-write isolation: starting a
// transaction snapshots the whole store, writes land on the snapshot, and
// commit swaps the snapshot in. Concurrent writers outside the transaction
// lose to the commit (last writer wins); good enough for an embedded store.
type session struct {
	conn *Conn

	mu      sync.Mutex
	inTx    bool
	ended   bool
	overlay store
}

func (s *session) StartTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return driver.ErrSessionEnded
	}
	if s.inTx {
		return fmt.Errorf("memdriver: transaction already in progress")
	}
	s.conn.mu.RLock()
	s.overlay = s.conn.data.clone()
	s.conn.mu.RUnlock()
	s.inTx = true
	return nil
}

func (s *session) CommitTransaction(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return driver.ErrSessionEnded
	}
	if !s.inTx {
		return fmt.Errorf("memdriver: no transaction in progress")
	}
	s.conn.mu.Lock()
	s.conn.data = s.overlay
	s.conn.mu.Unlock()
	s.overlay = nil
	s.inTx = false
	return nil
}

func (s *session) AbortTransaction(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return driver.ErrSessionEnded
	}
	if !s.inTx {
		return fmt.Errorf("memdriver: no transaction in progress")
	}
	s.overlay = nil
	s.inTx = false
	return nil
}

func (s *session) EndSession(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// An open transaction at session end is discarded, never committed.
	s.overlay = nil
	s.inTx = false
	s.ended = true
}

type collection struct {
	conn *Conn
	name string
}

// view runs fn against the store the operation should observe: the session
// overlay inside a transaction, the shared store otherwise. Writes outside a
// transaction take the connection write lock; reads take the read lock.
func (col *collection) view(sess driver.Session, write bool, fn func(cd *collectionData) error) error {
	if sess != nil {
		ms, ok := sess.(*session)
		if !ok || ms.conn != col.conn {
			return fmt.Errorf("memdriver: session belongs to a different connection")
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.ended {
			return driver.ErrSessionEnded
		}
		if ms.inTx {
			cd := ms.overlay[col.name]
			if cd == nil {
				cd = newCollectionData()
				ms.overlay[col.name] = cd
			}
			return fn(cd)
		}
		// Session outside a transaction behaves like no session at all.
	}

	if write {
		col.conn.mu.Lock()
		defer col.conn.mu.Unlock()
	} else {
		col.conn.mu.RLock()
		defer col.conn.mu.RUnlock()
	}
	cd := col.conn.data[col.name]
	if cd == nil {
		if !write {
			return fn(newCollectionData())
		}
		cd = newCollectionData()
		col.conn.data[col.name] = cd
	}
	return fn(cd)
}

// matching returns clones of the documents matching filter, in insertion
// order before sorting.
func (col *collection) matching(sess driver.Session, filter bson.M, opts driver.FindOptions) ([]bson.M, error) {
	var rows []bson.M
	err := col.view(sess, false, func(cd *collectionData) error {
		for _, id := range cd.order {
			doc := cd.docs[id]
			ok, err := matchDocument(doc, filter)
			if err != nil {
				return err
			}
			if ok {
				rows = append(rows, cloneDoc(doc))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRows(rows, opts.Sort)

	if opts.Skip != nil {
		if n := *opts.Skip; n < int64(len(rows)) {
			rows = rows[n:]
		} else {
			rows = nil
		}
	}
	if opts.Limit != nil && *opts.Limit < int64(len(rows)) {
		rows = rows[:*opts.Limit]
	}
	if opts.Projection != nil {
		projected := make([]bson.M, len(rows))
		for i, row := range rows {
			projected[i] = project(row, opts.Projection)
		}
		rows = projected
	}
	return rows, nil
}

func (col *collection) Find(ctx context.Context, sess driver.Session, filter bson.M, opts driver.FindOptions) (driver.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.TranslateError(err)
	}
	rows, err := col.matching(sess, filter, opts)
	if err != nil {
		return nil, err
	}
	col.conn.mu.Lock()
	col.conn.openCursors++
	col.conn.mu.Unlock()
	return &cursor{id: uuid.NewString(), conn: col.conn, rows: rows}, nil
}

func (col *collection) FindOne(ctx context.Context, sess driver.Session, filter bson.M, opts driver.FindOptions) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.TranslateError(err)
	}
	opts.Limit = driver.Int64(1)
	rows, err := col.matching(sess, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, driver.ErrNoDocuments
	}
	return rows[0], nil
}

func (col *collection) CountDocuments(ctx context.Context, sess driver.Session, filter bson.M, opts driver.CountOptions) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, driver.TranslateError(err)
	}
	rows, err := col.matching(sess, filter, driver.FindOptions{Skip: opts.Skip, Limit: opts.Limit})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (col *collection) InsertOne(ctx context.Context, sess driver.Session, doc bson.M) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.TranslateError(err)
	}
	doc = cloneDoc(doc)
	id := doc["_id"]
	if id == nil {
		id = primitive.NewObjectID()
		doc["_id"] = id
	}
	err := col.view(sess, true, func(cd *collectionData) error {
		if _, dup := cd.docs[id]; dup {
			return fmt.Errorf("memdriver: duplicate _id %v in %s", id, col.name)
		}
		cd.docs[id] = doc
		cd.order = append(cd.order, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (col *collection) ReplaceOne(ctx context.Context, sess driver.Session, filter bson.M, replacement bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, driver.TranslateError(err)
	}
	var modified int64
	err := col.view(sess, true, func(cd *collectionData) error {
		for _, id := range cd.order {
			doc := cd.docs[id]
			ok, err := matchDocument(doc, filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			next := cloneDoc(replacement)
			next["_id"] = id
			cd.docs[id] = next
			modified = 1
			return nil
		}
		return nil
	})
	return modified, err
}

func (col *collection) UpdateOne(ctx context.Context, sess driver.Session, filter bson.M, update bson.M) (int64, error) {
	return col.update(ctx, sess, filter, update, true)
}

func (col *collection) UpdateMany(ctx context.Context, sess driver.Session, filter bson.M, update bson.M) (int64, error) {
	return col.update(ctx, sess, filter, update, false)
}

func (col *collection) update(ctx context.Context, sess driver.Session, filter bson.M, update bson.M, single bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, driver.TranslateError(err)
	}
	var modified int64
	err := col.view(sess, true, func(cd *collectionData) error {
		for _, id := range cd.order {
			doc := cd.docs[id]
			ok, err := matchDocument(doc, filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := applyUpdate(doc, update); err != nil {
				return err
			}
			modified++
			if single {
				return nil
			}
		}
		return nil
	})
	return modified, err
}

func (col *collection) DeleteMany(ctx context.Context, sess driver.Session, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, driver.TranslateError(err)
	}
	var deleted int64
	err := col.view(sess, true, func(cd *collectionData) error {
		kept := cd.order[:0]
		for _, id := range cd.order {
			doc := cd.docs[id]
			ok, err := matchDocument(doc, filter)
			if err != nil {
				return err
			}
			if ok {
				delete(cd.docs, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		cd.order = kept
		return nil
	})
	return deleted, err
}

// cursor delivers a pre-materialized result set one record at a time,
// mimicking a server-side cursor for lifecycle purposes.
type cursor struct {
	id   string
	conn *Conn

	mu     sync.Mutex
	rows   []bson.M
	pos    int
	closed bool
}

// ID returns the cursor's correlation id.
func (c *cursor) ID() string { return c.id }

func (c *cursor) Next(ctx context.Context) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, driver.TranslateError(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pos >= len(c.rows) {
		return nil, driver.ErrCursorDrained
	}
	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

func (c *cursor) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.rows = nil
	c.conn.mu.Lock()
	c.conn.openCursors--
	c.conn.mu.Unlock()
	return nil
}

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
