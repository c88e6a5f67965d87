package odm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/cascade"
	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/driver/memdriver"
	"github.com/remora-db/remora/pkg/events"
	"github.com/remora-db/remora/pkg/registry"
)

// testClient wires a full client over in-memory connections: "default" in
// sync mode and "stream" in async mode, sharing one schema and dispatcher.
type testClient struct {
	client     *Client
	sync       *memdriver.Conn
	async      *memdriver.Conn
	dispatcher *events.Dispatcher
}

func newTestClient(t *testing.T, opts ...Option) *testClient {
	t.Helper()

	schema, err := document.NewSchema(
		&document.Meta{Collection: "users"},
		&document.Meta{Collection: "posts", References: []document.Reference{
			{Field: "author", Target: "users", OnDelete: document.Cascade},
		}},
		&document.Meta{Collection: "badges", References: []document.Reference{
			{Field: "owner", Target: "users", OnDelete: document.Deny},
		}},
	)
	require.NoError(t, err)

	syncConn := memdriver.New(driver.Sync)
	asyncConn := memdriver.New(driver.Async)

	reg := registry.New()
	require.NoError(t, reg.Register(registry.DefaultAlias, syncConn))
	require.NoError(t, reg.Register("stream", asyncConn))

	d, err := events.NewDispatcher(4, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	return &testClient{
		client:     NewClient(reg, schema, append([]Option{WithDispatcher(d)}, opts...)...),
		sync:       syncConn,
		async:      asyncConn,
		dispatcher: d,
	}
}

func TestCollectionHandles(t *testing.T) {
	tc := newTestClient(t)

	users, err := tc.client.C(registry.DefaultAlias, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", users.Meta().Collection)
	assert.Equal(t, driver.Sync, users.Mode())

	stream, err := tc.client.C("stream", "users")
	require.NoError(t, err)
	assert.Equal(t, driver.Async, stream.Mode())

	t.Run("unknown collection", func(t *testing.T) {
		_, err := tc.client.C(registry.DefaultAlias, "widgets")
		assert.ErrorIs(t, err, ErrUnknownCollection)
	})

	t.Run("unknown alias", func(t *testing.T) {
		_, err := tc.client.C("nope", "users")
		assert.ErrorIs(t, err, registry.ErrUnknownAlias)
	})

	t.Run("Collection panics where C errors", func(t *testing.T) {
		assert.NotPanics(t, func() { tc.client.Collection("users") })
		assert.Panics(t, func() { tc.client.Collection("widgets") })
	})
}

func TestSaveQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")

	ada := users.New()
	ada.Set("name", "ada")
	ada.Set("age", 36)
	require.NoError(t, users.Save(ctx, ada))
	assert.NotNil(t, ada.ID(), "insert assigns an identity")
	assert.False(t, ada.Dirty())

	grace := users.New()
	grace.Set("name", "grace")
	grace.Set("age", 45)
	require.NoError(t, users.Save(ctx, grace))

	got, err := users.Find(bson.M{"name": "ada"}).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ada.ID(), got.ID())

	n, err := users.Query().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	docs, err := users.Query().OrderBy("-age").All(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	name, _ := docs[0].Get("name")
	assert.Equal(t, "grace", name)

	t.Run("saving an unmodified document is a no-op", func(t *testing.T) {
		require.NoError(t, users.Save(ctx, got))
	})
}

func TestObserversFireThroughHandles(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")

	var stages []events.Stage
	record := func(ctx context.Context, e events.Event) error {
		stages = append(stages, e.Stage)
		return nil
	}
	tc.dispatcher.Register(events.PreSave, record)
	tc.dispatcher.Register(events.PostSave, record)
	tc.dispatcher.Register(events.PreDelete, record)
	tc.dispatcher.Register(events.PostDelete, record)

	u := users.New()
	u.Set("name", "ada")
	require.NoError(t, users.Save(ctx, u))
	require.NoError(t, users.Delete(ctx, u))

	assert.Equal(t, []events.Stage{
		events.PreSave, events.PostSave,
		events.PreDelete, events.PostDelete,
	}, stages)
}

func TestCascadeDeleteThroughHandle(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")
	posts := tc.client.Collection("posts")

	author := users.New()
	author.Set("name", "ada")
	require.NoError(t, users.Save(ctx, author))

	post := posts.New()
	post.Set("title", "notes")
	post.SetRef("author", author)
	require.NoError(t, posts.Save(ctx, post))

	require.NoError(t, users.Delete(ctx, author))

	n, err := posts.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dependents are removed with their target")
}

func TestCascadeDeleteFiresObservers(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")
	posts := tc.client.Collection("posts")

	author := users.New()
	author.Set("name", "ada")
	require.NoError(t, users.Save(ctx, author))

	post := posts.New()
	post.Set("title", "notes")
	post.SetRef("author", author)
	require.NoError(t, posts.Save(ctx, post))

	var observed []string
	tc.dispatcher.Register(events.PostDelete, func(ctx context.Context, e events.Event) error {
		observed = append(observed, e.Collection)
		return nil
	})

	require.NoError(t, users.Delete(ctx, author))

	// Dependents removed by the cascade report through delete observers
	// just like directly deleted documents, dependents first.
	assert.Equal(t, []string{"posts", "users"}, observed)

	n, err := posts.Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDenyRefusesDeleteThroughHandle(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")
	badges := tc.client.Collection("badges")

	owner := users.New()
	owner.Set("name", "ada")
	require.NoError(t, users.Save(ctx, owner))

	badge := badges.New()
	badge.SetRef("owner", owner)
	require.NoError(t, badges.Save(ctx, badge))

	err := users.Delete(ctx, owner)
	require.ErrorIs(t, err, cascade.ErrReferentialIntegrity)

	exists, err := users.Find(bson.M{"_id": owner.ID()}).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists, "refused deletes leave the target in place")
}

func TestReferenceAccess(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)

	// Seed both connections with the same records so the sync and async
	// handles see identical data.
	for _, conn := range []*memdriver.Conn{tc.sync, tc.async} {
		conn.Seed("users", bson.M{"_id": "u1", "name": "ada"})
		conn.Seed("posts", bson.M{"_id": "p1", "author": bson.M{"$ref": "users", "$id": "u1"}})
	}

	t.Run("sync resolves inline", func(t *testing.T) {
		posts := tc.client.Collection("posts")
		post, err := posts.Find(bson.M{"_id": "p1"}).Get(ctx)
		require.NoError(t, err)

		author, deferred, err := posts.Reference(ctx, post, "author")
		require.NoError(t, err)
		require.Nil(t, deferred)
		require.NotNil(t, author)
		assert.Equal(t, "u1", author.ID())
	})

	t.Run("async defers the fetch", func(t *testing.T) {
		posts, err := tc.client.C("stream", "posts")
		require.NoError(t, err)

		cur, err := posts.Find(bson.M{"_id": "p1"}).Cursor(ctx)
		require.NoError(t, err)
		require.True(t, cur.Next(ctx))
		post := cur.Document()
		require.NoError(t, cur.Close(ctx))

		author, deferred, err := posts.Reference(ctx, post, "author")
		require.NoError(t, err)
		assert.Nil(t, author)
		require.NotNil(t, deferred)
		assert.False(t, deferred.Resolved())

		fetched, err := deferred.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "u1", fetched.ID())
	})
}

func TestTransactionThroughClient(t *testing.T) {
	ctx := context.Background()
	tc := newTestClient(t)
	users := tc.client.Collection("users")

	t.Run("commit makes writes visible", func(t *testing.T) {
		err := tc.client.Transaction(ctx, func(txCtx context.Context) error {
			u := users.New()
			u.Set("name", "ada")
			return users.Save(txCtx, u)
		})
		require.NoError(t, err)

		n, err := users.Query().Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("abort discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := tc.client.Transaction(ctx, func(txCtx context.Context) error {
			u := users.New()
			u.Set("name", "grace")
			if err := users.Save(txCtx, u); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		n, err := users.Query().Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "aborted insert is not visible")
	})

	t.Run("cascade joins the enclosing transaction", func(t *testing.T) {
		posts := tc.client.Collection("posts")

		author, err := users.Find(bson.M{"name": "ada"}).Get(ctx)
		require.NoError(t, err)
		post := posts.New()
		post.SetRef("author", author)
		require.NoError(t, posts.Save(ctx, post))

		boom := errors.New("boom")
		err = tc.client.Transaction(ctx, func(txCtx context.Context) error {
			if err := users.Delete(txCtx, author); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		for name, coll := range map[string]*Collection{"users": users, "posts": posts} {
			n, err := coll.Query().Count(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n, "aborted cascade left %s intact", name)
		}
	})
}
