// Package events implements the observer dispatch remora fires around
// persistence operations: pre-save, post-save, pre-delete and post-delete.
//
// Observers come in two flavors held in a single registration list:
// immediate observers run inline, in registration order, on the caller's
// goroutine; deferred observers are submitted to a shared worker pool and
// awaited as a batch. The triggering operation does not complete until every
// deferred observer of its stage has finished.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"

	"github.com/remora-db/remora/pkg/document"
)

// Stage identifies the point in an operation at which observers fire.
type Stage int

const (
	PreSave Stage = iota
	PostSave
	PreDelete
	PostDelete
)

// String returns the stage name for logs.
func (s Stage) String() string {
	switch s {
	case PreSave:
		return "pre_save"
	case PostSave:
		return "post_save"
	case PreDelete:
		return "pre_delete"
	case PostDelete:
		return "post_delete"
	}
	return "unknown"
}

// Event carries the subject of a dispatch. ID is a correlation id unique to
// one dispatch, shared by every observer invoked for it.
type Event struct {
	ID         string
	Stage      Stage
	Collection string
	Document   *document.Document

	// Created is set on save stages when the operation is an insert rather
	// than an update of an existing document.
	Created bool
}

// Observer handles one event.
type Observer func(ctx context.Context, e Event) error

// Logger defines the interface for logging operations within the events
// package.
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

type registration struct {
	observer Observer
	deferred bool
}

// Dispatcher owns the registration lists and the worker pool deferred
// observers run on.
type Dispatcher struct {
	mu     sync.RWMutex
	lists  map[Stage][]registration
	pool   *ants.Pool
	logger Logger
}

// NewDispatcher creates a dispatcher whose deferred observers run on a pool
// of at most poolSize goroutines.
func NewDispatcher(poolSize int, logger Logger) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("events: create pool: %w", err)
	}
	return &Dispatcher{
		lists:  map[Stage][]registration{},
		pool:   pool,
		logger: logger,
	}, nil
}

// Register adds an immediate observer for a stage. Observers run in
// registration order.
func (d *Dispatcher) Register(stage Stage, obs Observer) {
	d.register(stage, obs, false)
}

// RegisterDeferred adds a deferred observer for a stage. Deferred observers
// of one dispatch run concurrently on the pool and are awaited as a batch.
func (d *Dispatcher) RegisterDeferred(stage Stage, obs Observer) {
	d.register(stage, obs, true)
}

func (d *Dispatcher) register(stage Stage, obs Observer, deferred bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists[stage] = append(d.lists[stage], registration{observer: obs, deferred: deferred})
}

// HasObservers reports whether any observer is registered for a stage. The
// query layer uses this to decide whether a bulk delete must fall back to
// per-document deletes so delete observers still fire.
func (d *Dispatcher) HasObservers(stage Stage) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lists[stage]) > 0
}

// Dispatch fires every observer registered for the event's stage. Immediate
// observers run first, inline and in order; the first immediate error stops
// the dispatch. Deferred observers are then submitted to the pool and
// awaited; their errors are combined. Dispatch returns only after every
// deferred observer has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	d.mu.RLock()
	list := d.lists[e.Stage]
	d.mu.RUnlock()
	if len(list) == 0 {
		return nil
	}

	e.ID = uuid.NewString()

	var deferredObs []Observer
	for _, reg := range list {
		if reg.deferred {
			deferredObs = append(deferredObs, reg.observer)
			continue
		}
		if err := reg.observer(ctx, e); err != nil {
			return fmt.Errorf("events: %s observer for %s: %w", e.Stage, e.Collection, err)
		}
	}
	if len(deferredObs) == 0 {
		return nil
	}

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	for _, obs := range deferredObs {
		obs := obs
		wg.Add(1)
		submitErr := d.pool.Submit(func() {
			defer wg.Done()
			if err := obs(ctx, e); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			errMu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("events: submit deferred observer: %w", submitErr))
			errMu.Unlock()
		}
	}
	wg.Wait()

	if errs != nil {
		if d.logger != nil {
			d.logger.Error("deferred observers failed", errs, map[string]interface{}{
				"stage":      e.Stage.String(),
				"collection": e.Collection,
				"event_id":   e.ID,
			})
		}
		return fmt.Errorf("events: %s deferred observers for %s: %w", e.Stage, e.Collection, errs)
	}
	return nil
}

// Close releases the worker pool. Pending deferred observers are drained by
// their dispatches before Close is called in normal shutdown order.
func (d *Dispatcher) Close() {
	d.pool.Release()
}
