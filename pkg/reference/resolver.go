// Package reference resolves deferred cross-document links.
//
// The operating mode is decided once per access, at access time, off the
// connection's mode — never at field-declaration time, because the same
// document type may be used against either a sync or an async connection.
// Sync connections resolve inline; async connections hand back a Deferred
// handle whose Fetch is the only point that touches the wire.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/registry"
)

// ErrDanglingReference is returned when a stored link points at a document
// that no longer exists. This indicates data corruption or a race with a
// concurrent delete, so it is surfaced rather than papered over with an
// empty value.
var ErrDanglingReference = errors.New("dangling reference")

// Logger defines the interface for logging operations within the reference
// package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// DefaultCacheSize bounds the resolver-level target cache.
const DefaultCacheSize = 1024

// Resolver resolves stored links against one connection alias.
type Resolver struct {
	alias    string
	conn     driver.Conn
	schema   *document.Schema
	hydrator document.Hydrator
	logger   Logger

	// cache holds recently resolved targets keyed by "collection/id".
	// Refresh bypasses and overwrites it.
	cache *lru.Cache[string, *document.Document]
}

// NewResolver builds a resolver over the given connection. cacheSize <= 0
// selects DefaultCacheSize.
func NewResolver(alias string, conn driver.Conn, schema *document.Schema, hydrator document.Hydrator, cacheSize int, logger Logger) (*Resolver, error) {
	if hydrator == nil {
		hydrator = document.NewBSONHydrator()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *document.Document](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("reference: build cache: %w", err)
	}
	return &Resolver{
		alias:    alias,
		conn:     conn,
		schema:   schema,
		hydrator: hydrator,
		logger:   logger,
		cache:    cache,
	}, nil
}

// Resolve accesses a reference field. On a sync connection the target is
// fetched inline, cached on the owning document and returned as the first
// result. On an async connection no I/O happens: the second result is a
// Deferred handle the caller must Fetch explicitly. Exactly one of the two
// results is non-nil on success.
func (r *Resolver) Resolve(ctx context.Context, doc *document.Document, field string) (*document.Document, *Deferred, error) {
	ref, err := doc.Ref(field)
	if err != nil {
		return nil, nil, err
	}

	if r.conn.Mode() == driver.Async {
		return nil, &Deferred{
			resolver: r,
			owner:    doc,
			field:    field,
			ref:      ref,
			cached:   doc.CachedRef(field),
		}, nil
	}

	if cached := doc.CachedRef(field); cached != nil {
		return cached, nil, nil
	}
	target, err := r.fetch(ctx, ref, false)
	if err != nil {
		return nil, nil, err
	}
	doc.CacheRef(field, target)
	return target, nil, nil
}

// fetch performs the actual round trip for a link, consulting the
// resolver-level cache unless force is set.
func (r *Resolver) fetch(ctx context.Context, ref document.Ref, force bool) (*document.Document, error) {
	key := fmt.Sprintf("%s/%v", ref.Collection, ref.ID)
	if !force {
		if target, ok := r.cache.Get(key); ok {
			return target, nil
		}
	}

	meta, ok := r.schema.Meta(ref.Collection)
	if !ok {
		return nil, fmt.Errorf("reference: link targets unregistered collection %q", ref.Collection)
	}

	if r.logger != nil {
		r.logger.Debug("fetching reference target", nil, map[string]interface{}{
			"collection": ref.Collection,
			"id":         ref.ID,
			"forced":     force,
		})
	}

	sess := registry.CurrentSession(ctx, r.alias)
	raw, err := r.conn.Collection(ref.Collection).FindOne(ctx, sess, bson.M{"_id": ref.ID}, driver.FindOptions{})
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, fmt.Errorf("reference: %s(%v): %w", ref.Collection, ref.ID, ErrDanglingReference)
		}
		return nil, fmt.Errorf("reference: fetch %s(%v): %w", ref.Collection, ref.ID, driver.TranslateError(err))
	}

	target, err := r.hydrator.Hydrate(raw, meta)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, target)
	return target, nil
}

// Deferred is the handle surfaced for a reference field accessed over an
// async connection: it binds the owning document, the field and the cached
// result, and exposes the one explicit fetch operation. Constructing it
// performs no I/O.
type Deferred struct {
	resolver *Resolver
	owner    *document.Document
	field    string
	ref      document.Ref

	mu     sync.Mutex
	cached *document.Document
}

// Link returns the stored pointer this handle resolves.
func (d *Deferred) Link() document.Ref { return d.ref }

// Resolved reports whether a fetched target is already cached.
func (d *Deferred) Resolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached != nil
}

// Fetch performs the database round trip, caching the result on the handle
// and the owning document. Subsequent calls return the cached target without
// touching the wire; use Refresh to force a reload.
func (d *Deferred) Fetch(ctx context.Context) (*document.Document, error) {
	return d.fetch(ctx, false)
}

// Refresh reloads the target, bypassing and replacing both caches.
func (d *Deferred) Refresh(ctx context.Context) (*document.Document, error) {
	return d.fetch(ctx, true)
}

func (d *Deferred) fetch(ctx context.Context, force bool) (*document.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil && !force {
		return d.cached, nil
	}
	target, err := d.resolver.fetch(ctx, d.ref, force)
	if err != nil {
		return nil, err
	}
	d.cached = target
	d.owner.CacheRef(d.field, target)
	return target, nil
}
