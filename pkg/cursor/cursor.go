// Package cursor owns the lifecycle of a server-side result cursor for
// asynchronous iteration: open, fetch, exhaust, explicit close.
//
// A Handle moves Unopened -> Open -> Exhausted, with Closed reachable from
// any non-terminal state. It must be closed on every exit path — normal
// exhaustion, early break, or error — because server-side cursors hold
// memory until closed or timed out. The handle self-closes on exhaustion and
// on hydration failure, and Close is idempotent, so the idiomatic consumer
// is:
//
//	h, err := q.Cursor(ctx)
//	if err != nil { ... }
//	defer h.Close(ctx)
//	for h.Next(ctx) {
//	    doc := h.Document()
//	    ...
//	}
//	if err := h.Err(); err != nil { ... }
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
)

// State is the lifecycle state of a Handle.
type State int

const (
	Unopened State = iota
	Open
	Exhausted
	Closed
)

// String returns the state name for logs and error messages.
func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrCursorReuse is returned when a handle is iterated again after it
	// was exhausted or closed. Surfacing this instead of yielding an empty
	// sequence catches programming errors early. Never retried.
	ErrCursorReuse = errors.New("cursor handle already consumed")

	// ErrCursorBusy is returned when a second fetch is started while one is
	// already in flight on the same handle. One handle, one consumer.
	ErrCursorBusy = errors.New("fetch already in flight on this cursor")
)

// Logger defines the interface for logging operations within the cursor
// package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Gauge counts open handles. Satisfied by the metrics package; nil disables
// counting.
type Gauge interface {
	CursorOpened()
	CursorClosed()
}

// OpenFunc performs the driver Find call that backs a handle. It is invoked
// exactly once, on Open.
type OpenFunc func(ctx context.Context) (driver.Cursor, error)

// Handle is the iteration handle over one query's result set. It produces a
// lazy, finite, non-restartable sequence of hydrated documents, delivered in
// server order. Handles are not safe for concurrent use; the busy guard
// exists to surface such misuse, not to serialize it.
type Handle struct {
	open     OpenFunc
	meta     *document.Meta
	hydrator document.Hydrator
	logger   Logger
	gauge    Gauge

	mu       sync.Mutex
	state    State
	fetching bool
	inner    driver.Cursor
	current  *document.Document
	err      error
}

// New creates an unopened handle. meta and hydrator produce the typed
// documents; open is the deferred driver call.
func New(meta *document.Meta, hydrator document.Hydrator, open OpenFunc, logger Logger, gauge Gauge) *Handle {
	return &Handle{
		open:     open,
		meta:     meta,
		hydrator: hydrator,
		logger:   logger,
		gauge:    gauge,
	}
}

// State reports the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Open issues the underlying driver query. Calling Open on an already-open
// or consumed handle fails.
func (h *Handle) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case Unopened:
	case Exhausted, Closed:
		return fmt.Errorf("cursor: open %s handle: %w", h.state, ErrCursorReuse)
	default:
		return fmt.Errorf("cursor: handle already open")
	}
	inner, err := h.open(ctx)
	if err != nil {
		h.state = Closed
		return driver.TranslateError(err)
	}
	h.inner = inner
	h.state = Open
	if h.gauge != nil {
		h.gauge.CursorOpened()
	}
	return nil
}

// Next fetches and hydrates the next document, returning true when one is
// available in h.Document(). It returns false on exhaustion (Err() == nil)
// and on failure (Err() != nil). Exactly one fetch may be in flight per
// handle; the fetch-then-hydrate rhythm never reads ahead of the consumer.
//
// Calling Next again after the handle is exhausted or closed returns false
// with Err() == ErrCursorReuse.
func (h *Handle) Next(ctx context.Context) bool {
	h.mu.Lock()
	switch h.state {
	case Exhausted, Closed:
		// Keep the original cause when the handle was closed by a failure.
		if h.err == nil {
			h.err = fmt.Errorf("cursor: iterate %s handle for %s: %w", h.state, h.meta.Collection, ErrCursorReuse)
		}
		h.mu.Unlock()
		return false
	case Unopened:
		h.mu.Unlock()
		if err := h.Open(ctx); err != nil {
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
			return false
		}
		h.mu.Lock()
	}
	if h.fetching {
		h.err = fmt.Errorf("cursor: %s: %w", h.meta.Collection, ErrCursorBusy)
		h.mu.Unlock()
		return false
	}
	h.fetching = true
	inner := h.inner
	h.mu.Unlock()

	raw, fetchErr := inner.Next(ctx)

	h.mu.Lock()
	h.fetching = false
	if h.state == Closed {
		// Closed from under us (early break in another path); do not
		// resurrect the handle.
		if h.err == nil {
			h.err = fmt.Errorf("cursor: iterate closed handle for %s: %w", h.meta.Collection, ErrCursorReuse)
		}
		h.mu.Unlock()
		return false
	}
	if fetchErr != nil {
		if errors.Is(fetchErr, driver.ErrCursorDrained) {
			h.state = Exhausted
			h.mu.Unlock()
			// Exhaustion closes the server-side cursor; the consumer's
			// deferred Close becomes a no-op.
			_ = h.Close(ctx)
			return false
		}
		h.err = driver.TranslateError(fetchErr)
		h.mu.Unlock()
		_ = h.Close(ctx)
		return false
	}

	doc, hydrateErr := h.hydrator.Hydrate(raw, h.meta)
	if hydrateErr != nil {
		h.err = fmt.Errorf("cursor: hydrate record from %s: %w", h.meta.Collection, hydrateErr)
		h.mu.Unlock()
		// A hydration failure still must not leak the server-side cursor.
		_ = h.Close(ctx)
		return false
	}
	h.current = doc
	h.mu.Unlock()
	return true
}

// Document returns the document produced by the last successful Next.
func (h *Handle) Document() *document.Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Err returns the first error encountered during iteration, nil after clean
// exhaustion.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close releases the server-side cursor. It is safe to call on any state and
// from a defer; only the first call on an open handle touches the driver and
// the gauge.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	wasCounted := h.state == Open || h.state == Exhausted
	if h.state == Closed {
		h.mu.Unlock()
		return nil
	}
	prev := h.state
	h.state = Closed
	inner := h.inner
	h.inner = nil
	h.current = nil
	h.mu.Unlock()

	var err error
	if inner != nil {
		err = inner.Close(ctx)
	}
	if wasCounted && h.gauge != nil {
		h.gauge.CursorClosed()
	}
	if h.logger != nil && prev == Open {
		h.logger.Debug("cursor closed before exhaustion", nil, map[string]interface{}{
			"collection": h.meta.Collection,
		})
	}
	return err
}

// All drains the remaining documents and closes the handle. Convenience for
// callers that want the whole (bounded) result set despite driving an async
// connection explicitly.
func (h *Handle) All(ctx context.Context) ([]*document.Document, error) {
	defer h.Close(ctx)
	var out []*document.Document
	for h.Next(ctx) {
		out = append(out, h.Document())
	}
	if err := h.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
