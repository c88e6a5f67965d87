package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/driver/memdriver"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	conn := memdriver.New(driver.Sync)

	require.NoError(t, r.Register("primary", conn))

	resolved, err := r.Resolve("primary")
	require.NoError(t, err)
	assert.Equal(t, driver.Conn(conn), resolved)

	t.Run("duplicate alias refused", func(t *testing.T) {
		assert.Error(t, r.Register("primary", memdriver.New(driver.Sync)))
	})

	t.Run("unknown alias", func(t *testing.T) {
		_, err := r.Resolve("nope")
		assert.ErrorIs(t, err, ErrUnknownAlias)
	})

	t.Run("empty alias maps to default", func(t *testing.T) {
		def := memdriver.New(driver.Async)
		require.NoError(t, r.Register("", def))
		resolved, err := r.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, driver.Conn(def), resolved)
		resolved, err = r.Resolve(DefaultAlias)
		require.NoError(t, err)
		assert.Equal(t, driver.Conn(def), resolved)
	})

	t.Run("deregister frees the alias", func(t *testing.T) {
		r.Deregister("primary")
		_, err := r.Resolve("primary")
		assert.ErrorIs(t, err, ErrUnknownAlias)
		require.NoError(t, r.Register("primary", conn))
	})
}

func TestResolveModeChecks(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("s", memdriver.New(driver.Sync)))
	require.NoError(t, r.Register("a", memdriver.New(driver.Async)))

	_, err := r.ResolveSync("s")
	assert.NoError(t, err)
	_, err = r.ResolveAsync("a")
	assert.NoError(t, err)

	_, err = r.ResolveSync("a")
	assert.ErrorIs(t, err, driver.ErrConnectionModeMismatch)
	_, err = r.ResolveAsync("s")
	assert.ErrorIs(t, err, driver.ErrConnectionModeMismatch)
}

func TestSessionBinding(t *testing.T) {
	ctx := context.Background()
	conn := memdriver.New(driver.Sync)
	sess, err := conn.StartSession(ctx)
	require.NoError(t, err)

	assert.Nil(t, CurrentSession(ctx, "x"))

	bound := WithSession(ctx, "x", sess)
	assert.Equal(t, sess, CurrentSession(bound, "x"))
	assert.Nil(t, CurrentSession(bound, "y"), "bindings are per alias")
	assert.Nil(t, CurrentSession(ctx, "x"), "parent context unaffected")
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()

	newReg := func(t *testing.T) (*Registry, *memdriver.Conn) {
		t.Helper()
		r := New()
		conn := memdriver.New(driver.Sync)
		conn.Seed("rows", bson.M{"_id": "r1"})
		require.NoError(t, r.Register(DefaultAlias, conn))
		return r, conn
	}

	count := func(t *testing.T, conn *memdriver.Conn) int64 {
		t.Helper()
		n, err := conn.Collection("rows").CountDocuments(ctx, nil, bson.M{}, driver.CountOptions{})
		require.NoError(t, err)
		return n
	}

	t.Run("commit on success", func(t *testing.T) {
		r, conn := newReg(t)
		err := r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
			sess := CurrentSession(txCtx, DefaultAlias)
			require.NotNil(t, sess, "session bound inside the scope")
			_, err := conn.Collection("rows").InsertOne(txCtx, sess, bson.M{"_id": "r2"})
			return err
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, count(t, conn))
	})

	t.Run("abort on error", func(t *testing.T) {
		r, conn := newReg(t)
		boom := errors.New("boom")
		err := r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
			sess := CurrentSession(txCtx, DefaultAlias)
			if _, err := conn.Collection("rows").DeleteMany(txCtx, sess, bson.M{}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.EqualValues(t, 1, count(t, conn), "aborted writes are discarded")
	})

	t.Run("abort on panic", func(t *testing.T) {
		r, conn := newReg(t)
		assert.Panics(t, func() {
			_ = r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
				sess := CurrentSession(txCtx, DefaultAlias)
				_, _ = conn.Collection("rows").DeleteMany(txCtx, sess, bson.M{})
				panic("observer exploded")
			})
		})
		assert.EqualValues(t, 1, count(t, conn))
	})

	t.Run("cancelled scope never commits", func(t *testing.T) {
		r, conn := newReg(t)
		cancelCtx, cancel := context.WithCancel(ctx)
		err := r.RunInTransaction(cancelCtx, "", func(txCtx context.Context) error {
			sess := CurrentSession(txCtx, DefaultAlias)
			if _, err := conn.Collection("rows").DeleteMany(txCtx, sess, bson.M{}); err != nil {
				return err
			}
			cancel()
			return nil
		})
		assert.Error(t, err)
		assert.EqualValues(t, 1, count(t, conn))
	})

	t.Run("nested scope on the same alias fails", func(t *testing.T) {
		r, _ := newReg(t)
		err := r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
			return r.RunInTransaction(txCtx, "", func(context.Context) error {
				return nil
			})
		})
		assert.ErrorIs(t, err, ErrNestedTransaction)
	})

	t.Run("scopes on different aliases nest", func(t *testing.T) {
		r, _ := newReg(t)
		other := memdriver.New(driver.Sync)
		require.NoError(t, r.Register("audit", other))

		err := r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
			return r.RunInTransaction(txCtx, "audit", func(inner context.Context) error {
				assert.NotNil(t, CurrentSession(inner, DefaultAlias))
				assert.NotNil(t, CurrentSession(inner, "audit"))
				return nil
			})
		})
		assert.NoError(t, err)
	})

	t.Run("unknown alias", func(t *testing.T) {
		r, _ := newReg(t)
		err := r.RunInTransaction(ctx, "nope", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrUnknownAlias)
	})
}

func TestConcurrentTransactionsKeepSeparateBindings(t *testing.T) {
	ctx := context.Background()
	r := New()
	conn := memdriver.New(driver.Sync)
	require.NoError(t, r.Register(DefaultAlias, conn))

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			return r.RunInTransaction(ctx, "", func(txCtx context.Context) error {
				sess := CurrentSession(txCtx, DefaultAlias)
				if sess == nil {
					return errors.New("no session bound")
				}
				_, err := conn.Collection("rows").InsertOne(txCtx, sess, bson.M{
					"_id": fmt.Sprintf("r%d", i),
				})
				return err
			})
		})
	}
	require.NoError(t, g.Wait())
}
