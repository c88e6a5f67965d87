package mongodriver

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/remora-db/remora/pkg/driver"
)

// cursor wraps a mongo.Cursor and keeps the connection's open-cursor count
// honest: the count drops exactly once, no matter how often Close is called.
type cursor struct {
	conn   *Conn
	cur    *mongo.Cursor
	closed atomic.Bool
}

var _ driver.Cursor = (*cursor)(nil)

func (c *cursor) Next(ctx context.Context) (bson.M, error) {
	if c.cur.Next(ctx) {
		var doc bson.M
		if err := c.cur.Decode(&doc); err != nil {
			return nil, driver.TranslateError(err)
		}
		return doc, nil
	}
	if err := c.cur.Err(); err != nil {
		return nil, driver.TranslateError(err)
	}
	return nil, driver.ErrCursorDrained
}

func (c *cursor) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.conn.openCursors.Add(-1)
	return driver.TranslateError(c.cur.Close(ctx))
}

// session adapts mongo.Session to the driver.Session contract.
type session struct {
	sess mongo.Session
}

var _ driver.Session = (*session)(nil)

func (s *session) StartTransaction() error {
	return driver.TranslateError(s.sess.StartTransaction())
}

func (s *session) CommitTransaction(ctx context.Context) error {
	return driver.TranslateError(s.sess.CommitTransaction(ctx))
}

func (s *session) AbortTransaction(ctx context.Context) error {
	return driver.TranslateError(s.sess.AbortTransaction(ctx))
}

func (s *session) EndSession(ctx context.Context) {
	s.sess.EndSession(ctx)
}
