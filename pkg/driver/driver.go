package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Mode describes how a connection expects to be driven.
//
// A Sync connection permits implicit, materializing I/O: queries may return
// fully fetched result slices and reference fields may be resolved inline on
// access. An Async connection only ever touches the wire when the caller
// makes an explicit fetch call (cursor Next, deferred-reference Fetch); the
// client layer above must never issue a round trip the caller did not ask for.
type Mode int

const (
	Sync Mode = iota
	Async
)

// String returns a human-readable mode name for logs and error messages.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	}
	return "unknown"
}

// Conn is the narrow contract remora consumes from a wire-level driver.
//
// Implementations: mongodriver.Conn (real MongoDB) and memdriver.Conn
// (in-memory, used in tests and as an embedded backend).
type Conn interface {
	// Mode reports whether this connection is driven synchronously or
	// asynchronously. The mode is fixed for the lifetime of the connection.
	Mode() Mode

	// Collection returns a handle for the named collection. Collections are
	// created lazily on first write.
	Collection(name string) Collection

	// StartSession opens a server session for use with transactions.
	StartSession(ctx context.Context) (Session, error)

	// OpenCursors reports the number of server-side cursors currently held
	// open through this connection. Exposed so callers (and tests) can detect
	// cursor leaks.
	OpenCursors() int

	// Close releases the connection and any resources it holds.
	Close(ctx context.Context) error
}

// Collection exposes the per-collection operations the query layer needs.
// Every operation accepts an optional Session; a nil session means the
// operation runs outside any transaction.
type Collection interface {
	Find(ctx context.Context, sess Session, filter bson.M, opts FindOptions) (Cursor, error)

	// FindOne fetches a single document. It returns ErrNoDocuments when
	// nothing matches.
	FindOne(ctx context.Context, sess Session, filter bson.M, opts FindOptions) (bson.M, error)

	// CountDocuments counts matching documents. Callers must leave
	// opts.Skip/opts.Limit nil when unset; an explicit zero limit means
	// "count zero documents" server-side, which is almost never what a
	// caller wants.
	CountDocuments(ctx context.Context, sess Session, filter bson.M, opts CountOptions) (int64, error)

	// InsertOne inserts a document and returns the identity it was stored
	// under (the supplied _id, or a generated one).
	InsertOne(ctx context.Context, sess Session, doc bson.M) (interface{}, error)

	// ReplaceOne replaces the first document matching filter and reports the
	// number of documents modified.
	ReplaceOne(ctx context.Context, sess Session, filter bson.M, replacement bson.M) (int64, error)

	// UpdateOne applies an operator-form update document to the first match.
	UpdateOne(ctx context.Context, sess Session, filter bson.M, update bson.M) (int64, error)

	// UpdateMany applies an operator-form update document to every match.
	UpdateMany(ctx context.Context, sess Session, filter bson.M, update bson.M) (int64, error)

	// DeleteMany removes every matching document and reports how many were
	// removed.
	DeleteMany(ctx context.Context, sess Session, filter bson.M) (int64, error)
}

// Cursor is a server-side iteration handle. Records are delivered strictly in
// server order; the driver may buffer a batch internally but must not read
// ahead past it.
type Cursor interface {
	// Next fetches the next record. It returns ErrCursorDrained once the
	// result set is exhausted.
	Next(ctx context.Context) (bson.M, error)

	// Close releases the server-side cursor. Close is idempotent.
	Close(ctx context.Context) error
}

// Session is a server session capable of carrying a transaction. EndSession
// must be called exactly once when the session is no longer needed.
type Session interface {
	StartTransaction() error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// SortField is one element of an ordering specification.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions carries the cursor shaping options for Find/FindOne.
// Skip and Limit are pointers so that "unset" and "zero" stay distinct all
// the way down to the wire.
type FindOptions struct {
	Projection bson.M
	Sort       []SortField
	Skip       *int64
	Limit      *int64
	BatchSize  *int32
}

// CountOptions carries the options for CountDocuments. Same pointer
// convention as FindOptions.
type CountOptions struct {
	Skip  *int64
	Limit *int64
}

// Int64 returns a pointer to v, for building FindOptions/CountOptions.
func Int64(v int64) *int64 { return &v }

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return &v }
