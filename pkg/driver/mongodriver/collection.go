package mongodriver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/remora-db/remora/pkg/driver"
)

type collection struct {
	conn *Conn
	coll *mongo.Collection
}

var _ driver.Collection = (*collection)(nil)

// opContext binds the caller's context to the given session, if any, so the
// operation joins the session's transaction.
func opContext(ctx context.Context, sess driver.Session) context.Context {
	if sess == nil {
		return ctx
	}
	s, ok := sess.(*session)
	if !ok {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.sess)
}

func sortDoc(fields []driver.SortField) bson.D {
	sort := make(bson.D, 0, len(fields))
	for _, f := range fields {
		order := 1
		if f.Desc {
			order = -1
		}
		sort = append(sort, bson.E{Key: f.Field, Value: order})
	}
	return sort
}

func (c *collection) Find(ctx context.Context, sess driver.Session, filter bson.M, opts driver.FindOptions) (driver.Cursor, error) {
	ctx = opContext(ctx, sess)

	findOpts := options.Find()
	if opts.Projection != nil {
		findOpts.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		findOpts.SetSort(sortDoc(opts.Sort))
	}
	if opts.Skip != nil {
		findOpts.SetSkip(*opts.Skip)
	}
	if opts.Limit != nil {
		findOpts.SetLimit(*opts.Limit)
	}
	if opts.BatchSize != nil {
		findOpts.SetBatchSize(*opts.BatchSize)
	}

	cur, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, driver.TranslateError(err)
	}

	c.conn.openCursors.Add(1)
	return &cursor{conn: c.conn, cur: cur}, nil
}

func (c *collection) FindOne(ctx context.Context, sess driver.Session, filter bson.M, opts driver.FindOptions) (bson.M, error) {
	ctx = opContext(ctx, sess)

	findOpts := options.FindOne()
	if opts.Projection != nil {
		findOpts.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		findOpts.SetSort(sortDoc(opts.Sort))
	}
	if opts.Skip != nil {
		findOpts.SetSkip(*opts.Skip)
	}

	var doc bson.M
	err := c.coll.FindOne(ctx, filter, findOpts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, driver.ErrNoDocuments
	}
	if err != nil {
		return nil, driver.TranslateError(err)
	}
	return doc, nil
}

func (c *collection) CountDocuments(ctx context.Context, sess driver.Session, filter bson.M, opts driver.CountOptions) (int64, error) {
	ctx = opContext(ctx, sess)

	countOpts := options.Count()
	if opts.Skip != nil {
		countOpts.SetSkip(*opts.Skip)
	}
	if opts.Limit != nil {
		countOpts.SetLimit(*opts.Limit)
	}

	n, err := c.coll.CountDocuments(ctx, filter, countOpts)
	if err != nil {
		return 0, driver.TranslateError(err)
	}
	return n, nil
}

func (c *collection) InsertOne(ctx context.Context, sess driver.Session, doc bson.M) (interface{}, error) {
	res, err := c.coll.InsertOne(opContext(ctx, sess), doc)
	if err != nil {
		return nil, driver.TranslateError(err)
	}
	return res.InsertedID, nil
}

func (c *collection) ReplaceOne(ctx context.Context, sess driver.Session, filter bson.M, replacement bson.M) (int64, error) {
	res, err := c.coll.ReplaceOne(opContext(ctx, sess), filter, replacement)
	if err != nil {
		return 0, driver.TranslateError(err)
	}
	return res.ModifiedCount, nil
}

func (c *collection) UpdateOne(ctx context.Context, sess driver.Session, filter bson.M, update bson.M) (int64, error) {
	res, err := c.coll.UpdateOne(opContext(ctx, sess), filter, update)
	if err != nil {
		return 0, driver.TranslateError(err)
	}
	return res.ModifiedCount, nil
}

func (c *collection) UpdateMany(ctx context.Context, sess driver.Session, filter bson.M, update bson.M) (int64, error) {
	res, err := c.coll.UpdateMany(opContext(ctx, sess), filter, update)
	if err != nil {
		return 0, driver.TranslateError(err)
	}
	return res.ModifiedCount, nil
}

func (c *collection) DeleteMany(ctx context.Context, sess driver.Session, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(opContext(ctx, sess), filter)
	if err != nil {
		return 0, driver.TranslateError(err)
	}
	return res.DeletedCount, nil
}
