// Package registry resolves logical connection aliases to driver connections
// and carries the task-scoped session binding that makes transactions
// propagate implicitly to every operation issued inside their scope.
package registry

import (
	"fmt"
	"sync"

	"github.com/remora-db/remora/pkg/driver"
)

// Logger defines the interface for logging operations within the registry
// package.
//
//go:generate mockgen -source=registry.go -destination=mock_logger.go -package=registry
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Recorder receives session lifecycle notifications. Satisfied by
// metrics.Collectors; a nil recorder disables recording.
type Recorder interface {
	SessionStarted()
	SessionEnded()
}

// DefaultAlias is the alias used when a caller does not name one.
const DefaultAlias = "default"

// Registry maps aliases to driver connections. It replaces the process-global
// connection dictionaries of classic ODMs with an explicit, injectable
// object; session bindings never live here, they live in the context of the
// unit of work that opened them.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]driver.Conn
	logger  Logger
	metrics Recorder
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a logger.
func WithLogger(l Logger) Option { return func(r *Registry) { r.logger = l } }

// WithRecorder attaches a session metrics recorder.
func WithRecorder(rec Recorder) Option { return func(r *Registry) { r.metrics = rec } }

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{conns: map[string]driver.Conn{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a connection to an alias. Re-registering a live alias is
// refused; disconnect first.
func (r *Registry) Register(alias string, conn driver.Conn) error {
	if alias == "" {
		alias = DefaultAlias
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[alias]; exists {
		return fmt.Errorf("registry: a connection with alias %q is already registered", alias)
	}
	r.conns[alias] = conn
	if r.logger != nil {
		r.logger.Info("registered connection", nil, map[string]interface{}{
			"alias": alias,
			"mode":  conn.Mode().String(),
		})
	}
	return nil
}

// Deregister removes an alias without closing the connection.
func (r *Registry) Deregister(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, alias)
}

// Resolve returns the connection registered under alias.
func (r *Registry) Resolve(alias string) (driver.Conn, error) {
	if alias == "" {
		alias = DefaultAlias
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[alias]
	if !ok {
		return nil, fmt.Errorf("registry: %w: %q", ErrUnknownAlias, alias)
	}
	return conn, nil
}

// ResolveSync resolves an alias and verifies the connection is synchronous.
func (r *Registry) ResolveSync(alias string) (driver.Conn, error) {
	return r.resolveMode(alias, driver.Sync)
}

// ResolveAsync resolves an alias and verifies the connection is asynchronous.
func (r *Registry) ResolveAsync(alias string) (driver.Conn, error) {
	return r.resolveMode(alias, driver.Async)
}

func (r *Registry) resolveMode(alias string, want driver.Mode) (driver.Conn, error) {
	conn, err := r.Resolve(alias)
	if err != nil {
		return nil, err
	}
	if conn.Mode() != want {
		return nil, fmt.Errorf("registry: alias %q: %w: want %s, connection is %s",
			alias, driver.ErrConnectionModeMismatch, want, conn.Mode())
	}
	return conn, nil
}
