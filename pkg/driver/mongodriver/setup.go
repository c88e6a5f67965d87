package mongodriver

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/remora-db/remora/pkg/driver"
)

// Logger defines the interface for logging operations within the mongodriver
// package.
//
//go:generate mockgen -source=setup.go -destination=mock_logger.go -package=mongodriver
type Logger interface {
	Info(msg string, err error, fields ...map[string]interface{})
	Debug(msg string, err error, fields ...map[string]interface{})
	Warn(msg string, err error, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})
	Fatal(msg string, err error, fields ...map[string]interface{})
}

// Conn adapts a MongoDB client to the driver.Conn contract. It is safe for
// concurrent use; the open-cursor count is kept with atomics so the leak
// probe costs nothing on the hot path.
type Conn struct {
	client *mongo.Client
	db     *mongo.Database
	mode   driver.Mode
	logger Logger

	openCursors atomic.Int64
}

var _ driver.Conn = (*Conn)(nil)

// NewConn connects to MongoDB per the configuration, verifies liveness with
// a ping, and returns the adapted connection.
func NewConn(ctx context.Context, cfg Config, logger Logger) (*Conn, error) {
	uri := cfg.URI
	if uri == "" {
		uri = DefaultURI
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", driver.TranslateError(err))
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", driver.TranslateError(err))
	}

	logger.Info("connected to MongoDB", nil, map[string]interface{}{
		"database": cfg.Database,
		"mode":     mode.String(),
	})

	return &Conn{
		client: client,
		db:     client.Database(cfg.Database),
		mode:   mode,
		logger: logger,
	}, nil
}

func parseMode(s string) (driver.Mode, error) {
	switch s {
	case "", "sync":
		return driver.Sync, nil
	case "async":
		return driver.Async, nil
	}
	return 0, fmt.Errorf("unknown connection mode %q (want sync or async)", s)
}

// Mode reports how this connection is driven.
func (c *Conn) Mode() driver.Mode { return c.mode }

// Collection returns a handle for the named collection in the configured
// database.
func (c *Conn) Collection(name string) driver.Collection {
	return &collection{conn: c, coll: c.db.Collection(name)}
}

// StartSession opens a server session for use with transactions.
func (c *Conn) StartSession(ctx context.Context) (driver.Session, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return nil, driver.TranslateError(err)
	}
	return &session{sess: sess}, nil
}

// OpenCursors reports the number of server-side cursors currently held open
// through this connection.
func (c *Conn) OpenCursors() int {
	return int(c.openCursors.Load())
}

// Close disconnects the client. Outstanding cursors and sessions are
// invalidated server-side.
func (c *Conn) Close(ctx context.Context) error {
	if n := c.openCursors.Load(); n > 0 {
		c.logger.Warn("closing connection with cursors still open", nil, map[string]interface{}{
			"open_cursors": n,
		})
	}
	return driver.TranslateError(c.client.Disconnect(ctx))
}
