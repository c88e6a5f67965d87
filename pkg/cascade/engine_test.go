package cascade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/document"
	"github.com/remora-db/remora/pkg/driver"
	"github.com/remora-db/remora/pkg/driver/memdriver"
	"github.com/remora-db/remora/pkg/query"
)

// harness wires an engine over a memdriver store: every executor it builds
// carries the engine as its delete guard, mirroring production wiring.
type harness struct {
	conn   *memdriver.Conn
	schema *document.Schema
	engine *Engine
}

func newHarness(t *testing.T, metas ...*document.Meta) *harness {
	t.Helper()
	schema, err := document.NewSchema(metas...)
	require.NoError(t, err)

	h := &harness{
		conn:   memdriver.New(driver.Sync),
		schema: schema,
	}
	h.engine = New(schema, func(meta *document.Meta) *query.Query {
		return h.executor(meta).Query()
	}, nil)
	return h
}

func (h *harness) executor(meta *document.Meta) *query.Executor {
	return query.NewExecutor(meta, "default", h.conn, nil, query.WithDeleteGuard(h.engine))
}

func (h *harness) query(t *testing.T, collection string) *query.Query {
	t.Helper()
	meta, ok := h.schema.Meta(collection)
	require.True(t, ok)
	return h.executor(meta).Query()
}

func (h *harness) count(t *testing.T, collection string) int64 {
	t.Helper()
	n, err := h.conn.Collection(collection).CountDocuments(context.Background(), nil, bson.M{}, driver.CountOptions{})
	require.NoError(t, err)
	return n
}

func link(collection string, id interface{}) bson.M {
	return bson.M{"$ref": collection, "$id": id}
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "authors"},
		&document.Meta{Collection: "books", References: []document.Reference{
			{Field: "author", Target: "authors", OnDelete: document.Cascade},
		}},
	)
	h.conn.Seed("authors", bson.M{"_id": "a1"}, bson.M{"_id": "a2"})
	h.conn.Seed("books",
		bson.M{"_id": "b1", "author": link("authors", "a1")},
		bson.M{"_id": "b2", "author": link("authors", "a1")},
		bson.M{"_id": "b3", "author": link("authors", "a2")},
	)

	n, err := h.query(t, "authors").Filter(bson.M{"_id": "a1"}).Delete(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.EqualValues(t, 1, h.count(t, "authors"))
	assert.EqualValues(t, 1, h.count(t, "books"), "only the surviving author's book remains")
}

func TestCascadeChain(t *testing.T) {
	// authors <- books <- reviews: deleting the author reaches the reviews
	// through the books.
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "authors"},
		&document.Meta{Collection: "books", References: []document.Reference{
			{Field: "author", Target: "authors", OnDelete: document.Cascade},
		}},
		&document.Meta{Collection: "reviews", References: []document.Reference{
			{Field: "book", Target: "books", OnDelete: document.Cascade},
		}},
	)
	h.conn.Seed("authors", bson.M{"_id": "a1"})
	h.conn.Seed("books", bson.M{"_id": "b1", "author": link("authors", "a1")})
	h.conn.Seed("reviews",
		bson.M{"_id": "r1", "book": link("books", "b1")},
		bson.M{"_id": "r2", "book": link("books", "b1")},
	)

	_, err := h.query(t, "authors").Filter(bson.M{"_id": "a1"}).Delete(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 0, h.count(t, "authors"))
	assert.EqualValues(t, 0, h.count(t, "books"))
	assert.EqualValues(t, 0, h.count(t, "reviews"))
}

func TestCascadeCyclicGraphTerminates(t *testing.T) {
	// people reference each other (best_friend, cascade): a mutual cycle must
	// terminate with each reachable document deleted exactly once.
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "people", References: []document.Reference{
			{Field: "best_friend", Target: "people", OnDelete: document.Cascade},
		}},
	)
	h.conn.Seed("people",
		bson.M{"_id": "p1", "best_friend": link("people", "p2")},
		bson.M{"_id": "p2", "best_friend": link("people", "p1")},
		bson.M{"_id": "p3"},
	)

	n, err := h.query(t, "people").Filter(bson.M{"_id": "p1"}).Delete(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.EqualValues(t, 1, h.count(t, "people"))
	left, err := h.query(t, "people").IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"p3"}, left)
}

func TestSelfReferenceTerminates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "nodes", References: []document.Reference{
			{Field: "parent", Target: "nodes", OnDelete: document.Cascade},
		}},
	)
	h.conn.Seed("nodes", bson.M{"_id": "n1", "parent": link("nodes", "n1")})

	_, err := h.query(t, "nodes").Filter(bson.M{"_id": "n1"}).Delete(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.count(t, "nodes"))
}

func TestDenyRefusesDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "users"},
		&document.Meta{Collection: "posts", References: []document.Reference{
			{Field: "owner", Target: "users", OnDelete: document.Deny},
		}},
	)
	h.conn.Seed("users", bson.M{"_id": "u1"})
	h.conn.Seed("posts", bson.M{"_id": "p1", "owner": link("users", "u1")})

	_, err := h.query(t, "users").Filter(bson.M{"_id": "u1"}).Delete(ctx)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)

	// Nothing was touched.
	assert.EqualValues(t, 1, h.count(t, "users"))
	assert.EqualValues(t, 1, h.count(t, "posts"))
}

func TestDenyChecksRunBeforeAnySideEffect(t *testing.T) {
	// One reference cascades, another denies. Field declaration order puts the
	// cascade first; the deny must still win with zero mutations.
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "users"},
		&document.Meta{Collection: "drafts", References: []document.Reference{
			{Field: "owner", Target: "users", OnDelete: document.Cascade},
		}},
		&document.Meta{Collection: "contracts", References: []document.Reference{
			{Field: "party", Target: "users", OnDelete: document.Deny},
		}},
	)
	h.conn.Seed("users", bson.M{"_id": "u1"})
	h.conn.Seed("drafts", bson.M{"_id": "d1", "owner": link("users", "u1")})
	h.conn.Seed("contracts", bson.M{"_id": "c1", "party": link("users", "u1")})

	_, err := h.query(t, "users").Filter(bson.M{"_id": "u1"}).Delete(ctx)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)

	assert.EqualValues(t, 1, h.count(t, "users"))
	assert.EqualValues(t, 1, h.count(t, "drafts"), "cascade must not fire before deny check")
	assert.EqualValues(t, 1, h.count(t, "contracts"))
}

func TestDenyDeepInCascadeAborts(t *testing.T) {
	// Deleting the author cascades to the book, but the book has a denying
	// dependent: the whole delete fails.
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "authors"},
		&document.Meta{Collection: "books", References: []document.Reference{
			{Field: "author", Target: "authors", OnDelete: document.Cascade},
		}},
		&document.Meta{Collection: "loans", References: []document.Reference{
			{Field: "book", Target: "books", OnDelete: document.Deny},
		}},
	)
	h.conn.Seed("authors", bson.M{"_id": "a1"})
	h.conn.Seed("books", bson.M{"_id": "b1", "author": link("authors", "a1")})
	h.conn.Seed("loans", bson.M{"_id": "l1", "book": link("books", "b1")})

	_, err := h.query(t, "authors").Filter(bson.M{"_id": "a1"}).Delete(ctx)
	assert.ErrorIs(t, err, ErrReferentialIntegrity)
	assert.EqualValues(t, 1, h.count(t, "authors"))
	assert.EqualValues(t, 1, h.count(t, "books"))
}

func TestNullify(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "teams"},
		&document.Meta{Collection: "players", References: []document.Reference{
			{Field: "team", Target: "teams", OnDelete: document.Nullify},
		}},
	)
	h.conn.Seed("teams", bson.M{"_id": "t1"})
	h.conn.Seed("players",
		bson.M{"_id": "p1", "name": "ada", "team": link("teams", "t1")},
		bson.M{"_id": "p2", "name": "grace"},
	)

	_, err := h.query(t, "teams").Filter(bson.M{"_id": "t1"}).Delete(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, h.count(t, "players"), "players survive the team delete")

	doc, err := h.conn.Collection("players").FindOne(ctx, nil, bson.M{"_id": "p1"}, driver.FindOptions{})
	require.NoError(t, err)
	_, hasTeam := doc["team"]
	assert.False(t, hasTeam, "back-reference field unset")
	assert.Equal(t, "ada", doc["name"], "other fields untouched")
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "songs"},
		&document.Meta{Collection: "playlists", References: []document.Reference{
			{Field: "songs", Target: "songs", OnDelete: document.Pull, List: true},
		}},
	)
	h.conn.Seed("songs", bson.M{"_id": "s1"}, bson.M{"_id": "s2"})
	h.conn.Seed("playlists", bson.M{"_id": "pl1", "songs": bson.A{
		link("songs", "s1"),
		link("songs", "s2"),
	}})

	_, err := h.query(t, "songs").Filter(bson.M{"_id": "s1"}).Delete(ctx)
	require.NoError(t, err)

	doc, err := h.conn.Collection("playlists").FindOne(ctx, nil, bson.M{"_id": "pl1"}, driver.FindOptions{})
	require.NoError(t, err)
	songs := doc["songs"].(bson.A)
	require.Len(t, songs, 1)
	assert.Equal(t, "s2", songs[0].(bson.M)["$id"])
}

func TestDoNothingLeavesDanglingLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		&document.Meta{Collection: "users"},
		&document.Meta{Collection: "notes", References: []document.Reference{
			{Field: "author", Target: "users", OnDelete: document.DoNothing},
		}},
	)
	h.conn.Seed("users", bson.M{"_id": "u1"})
	h.conn.Seed("notes", bson.M{"_id": "n1", "author": link("users", "u1")})

	_, err := h.query(t, "users").Filter(bson.M{"_id": "u1"}).Delete(ctx)
	require.NoError(t, err)

	doc, err := h.conn.Collection("notes").FindOne(ctx, nil, bson.M{"_id": "n1"}, driver.FindOptions{})
	require.NoError(t, err)
	assert.NotNil(t, doc["author"], "link intentionally left dangling")
}

func TestDeleteWithoutReferrersIsPlain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &document.Meta{Collection: "logs"})
	h.conn.Seed("logs", bson.M{"_id": "l1"}, bson.M{"_id": "l2"})

	n, err := h.query(t, "logs").Delete(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 0, h.count(t, "logs"))
}

func TestOnDeleteEmptyIDs(t *testing.T) {
	h := newHarness(t, &document.Meta{Collection: "logs"})
	meta, _ := h.schema.Meta("logs")
	require.NoError(t, h.engine.OnDelete(context.Background(), meta, nil))
}
