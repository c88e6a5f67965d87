package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/remora-db/remora/pkg/cascade"
	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/events"
	"github.com/remora-db/remora/pkg/query"
	"github.com/remora-db/remora/pkg/reference"
	"github.com/remora-db/remora/pkg/registry"
)

// Logger defines the interface for logging operations within the odm
// package.
//
//go:generate mockgen -source=setup.go -destination=mock_logger.go -package=odm
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Recorder is the union of the metric hooks the underlying layers report
// into. Satisfied by metrics.Collectors.
type Recorder interface {
	Operation(operation, collection, status string)
	CursorOpened()
	CursorClosed()
	SessionStarted()
	SessionEnded()
}

// Tracer starts a span and returns the derived context plus its end
// function. Satisfied by tracer.SpanStarter.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

// Client is the assembled object-document layer: connection registry, schema
// with its reverse reference index, observer dispatcher, reference resolver
// and cascade-delete engine, wired together behind per-collection handles.
//
// A Client is safe for concurrent use.
type Client struct {
	registry *registry.Registry
	schema   *document.Schema
	hydrator document.Hydrator
	events   *events.Dispatcher
	logger   Logger
	metrics  Recorder
	tracer   Tracer

	cacheSize int

	mu        sync.Mutex
	resolvers map[string]*reference.Resolver
	guards    map[string]*cascade.Engine
}

// Option configures a Client.
type Option func(*Client)

// WithHydrator overrides the default pass-through BSON hydrator.
func WithHydrator(h document.Hydrator) Option { return func(c *Client) { c.hydrator = h } }

// WithDispatcher installs the observer dispatcher fired around saves and
// deletes.
func WithDispatcher(d *events.Dispatcher) Option { return func(c *Client) { c.events = d } }

// WithLogger attaches a logger.
func WithLogger(l Logger) Option { return func(c *Client) { c.logger = l } }

// WithRecorder attaches the metrics recorder.
func WithRecorder(r Recorder) Option { return func(c *Client) { c.metrics = r } }

// WithTracer attaches a span factory.
func WithTracer(t Tracer) Option { return func(c *Client) { c.tracer = t } }

// WithResolverCacheSize sets the per-connection reference cache capacity.
func WithResolverCacheSize(n int) Option { return func(c *Client) { c.cacheSize = n } }

// NewClient assembles a client over an already-populated connection registry
// and schema.
func NewClient(reg *registry.Registry, schema *document.Schema, opts ...Option) *Client {
	c := &Client{
		registry:  reg,
		schema:    schema,
		hydrator:  document.NewBSONHydrator(),
		cacheSize: reference.DefaultCacheSize,
		resolvers: map[string]*reference.Resolver{},
		guards:    map[string]*cascade.Engine{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the underlying connection registry.
func (c *Client) Registry() *registry.Registry { return c.registry }

// Schema exposes the underlying schema.
func (c *Client) Schema() *document.Schema { return c.schema }

// C returns a handle for the named collection on the connection registered
// under alias. The handle carries the cascade guard and observer dispatcher,
// so deletes through it are referentially safe.
func (c *Client) C(alias, collection string) (*Collection, error) {
	meta, ok := c.schema.Meta(collection)
	if !ok {
		return nil, fmt.Errorf("odm: %w: %s", ErrUnknownCollection, collection)
	}
	conn, err := c.registry.Resolve(alias)
	if err != nil {
		return nil, err
	}
	return &Collection{
		client: c,
		alias:  alias,
		meta:   meta,
		ex:     c.executor(alias, conn, meta),
	}, nil
}

// Collection returns a handle on the default connection. It panics on an
// unregistered collection or alias; use C when either can legitimately be
// absent.
func (c *Client) Collection(name string) *Collection {
	coll, err := c.C(registry.DefaultAlias, name)
	if err != nil {
		panic(err)
	}
	return coll
}

// RunInTransaction executes fn inside a transaction on the aliased
// connection. Every operation made through this client with the derived
// context joins the transaction.
func (c *Client) RunInTransaction(ctx context.Context, alias string, fn func(ctx context.Context) error) error {
	return c.registry.RunInTransaction(ctx, alias, fn)
}

// Transaction is RunInTransaction on the default connection.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.registry.RunInTransaction(ctx, registry.DefaultAlias, fn)
}

// executor builds a query executor for meta with the full option set wired.
func (c *Client) executor(alias string, conn driver.Conn, meta *document.Meta) *query.Executor {
	opts := []query.Option{
		query.WithDeleteGuard(c.guard(alias, conn)),
	}
	if c.events != nil {
		opts = append(opts, query.WithDispatcher(c.events))
	}
	if c.logger != nil {
		opts = append(opts, query.WithLogger(c.logger))
	}
	if c.metrics != nil {
		opts = append(opts, query.WithRecorder(c.metrics))
	}
	if c.tracer != nil {
		opts = append(opts, query.WithTracer(c.tracer))
	}
	return query.NewExecutor(meta, alias, conn, c.hydrator, opts...)
}

// guard returns the cascade engine for the aliased connection, building it
// on first use. The engine's sub-queries run through plain executors on the
// same connection, so they join the triggering delete's session and are
// themselves guarded.
func (c *Client) guard(alias string, conn driver.Conn) *cascade.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.guards[alias]; ok {
		return g
	}
	source := func(meta *document.Meta) *query.Query {
		return c.executor(alias, conn, meta).Query()
	}
	g := cascade.New(c.schema, source, c.logger)
	c.guards[alias] = g
	return g
}

// resolver returns the reference resolver for the aliased connection,
// building it on first use.
func (c *Client) resolver(alias string, conn driver.Conn) (*reference.Resolver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.resolvers[alias]; ok {
		return r, nil
	}
	r, err := reference.NewResolver(alias, conn, c.schema, c.hydrator, c.cacheSize, c.logger)
	if err != nil {
		return nil, err
	}
	c.resolvers[alias] = r
	return r, nil
}
