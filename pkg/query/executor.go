// Package query translates a declarative query description — filter,
// projection, ordering, skip/limit — into driver calls, honoring the
// session bound to the caller's context.
package query

import (
	"context"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/events"
	"github.com/remora-db/remora/pkg/registry"
)

// Logger defines the interface for logging operations within the query
// package.
//
//go:generate mockgen -source=executor.go -destination=mock_logger.go -package=query
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Recorder counts executed operations. Satisfied by metrics.Collectors.
type Recorder interface {
	Operation(operation, collection, status string)
	CursorOpened()
	CursorClosed()
}

// Tracer starts a span for one operation and returns the derived context
// plus the function that ends the span. Satisfied by an adapter over the
// tracer package; nil disables tracing.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

// Dispatcher fires persistence observers. Satisfied by events.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, e events.Event) error
	HasObservers(stage events.Stage) bool
}

// DeleteGuard is consulted before a delete is executed, with the identities
// about to be removed. The cascade engine implements it; a nil guard skips
// referential bookkeeping entirely.
type DeleteGuard interface {
	OnDelete(ctx context.Context, meta *document.Meta, ids []interface{}) error
}

// Executor binds one document type to one connection alias and issues the
// actual driver calls. It is cheap and stateless; build one per collection
// and share it freely.
type Executor struct {
	meta     *document.Meta
	alias    string
	conn     driver.Conn
	coll     driver.Collection
	hydrator document.Hydrator

	guard    DeleteGuard
	dispatch Dispatcher
	logger   Logger
	metrics  Recorder
	tracer   Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithDeleteGuard installs the referential-integrity guard consulted on
// deletes.
func WithDeleteGuard(g DeleteGuard) Option { return func(e *Executor) { e.guard = g } }

// WithDispatcher installs the observer dispatcher fired around saves and
// deletes.
func WithDispatcher(d Dispatcher) Option { return func(e *Executor) { e.dispatch = d } }

// WithLogger attaches a logger.
func WithLogger(l Logger) Option { return func(e *Executor) { e.logger = l } }

// WithRecorder attaches an operation metrics recorder.
func WithRecorder(r Recorder) Option { return func(e *Executor) { e.metrics = r } }

// WithTracer attaches a span factory.
func WithTracer(t Tracer) Option { return func(e *Executor) { e.tracer = t } }

// NewExecutor builds an executor for meta against the connection registered
// under alias.
func NewExecutor(meta *document.Meta, alias string, conn driver.Conn, hydrator document.Hydrator, opts ...Option) *Executor {
	if hydrator == nil {
		hydrator = document.NewBSONHydrator()
	}
	e := &Executor{
		meta:     meta,
		alias:    alias,
		conn:     conn,
		coll:     conn.Collection(meta.Collection),
		hydrator: hydrator,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Meta returns the document type this executor serves.
func (e *Executor) Meta() *document.Meta { return e.meta }

// Alias returns the connection alias this executor is bound to.
func (e *Executor) Alias() string { return e.alias }

// Mode returns the connection mode.
func (e *Executor) Mode() driver.Mode { return e.conn.Mode() }

// Conn returns the underlying connection.
func (e *Executor) Conn() driver.Conn { return e.conn }

// Query starts a new, empty query description over this executor.
func (e *Executor) Query() *Query {
	return &Query{ex: e}
}

// Find starts a query description with an initial filter.
func (e *Executor) Find(filter map[string]interface{}) *Query {
	return e.Query().Filter(filter)
}

// session resolves the session bound to this executor's alias, if the
// caller's context is inside a transaction scope.
func (e *Executor) session(ctx context.Context) driver.Session {
	return registry.CurrentSession(ctx, e.alias)
}

// observe starts tracing/metrics bookkeeping for one operation and returns
// the derived context plus the completion callback.
func (e *Executor) observe(ctx context.Context, op string) (context.Context, func(err error)) {
	endSpan := func() {}
	if e.tracer != nil {
		ctx, endSpan = e.tracer.StartSpan(ctx, "remora."+op)
	}
	return ctx, func(err error) {
		endSpan()
		if e.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			e.metrics.Operation(op, e.meta.Collection, status)
		}
		if err != nil && e.logger != nil {
			e.logger.Error("operation failed", err, map[string]interface{}{
				"operation":  op,
				"collection": e.meta.Collection,
			})
		}
	}
}
