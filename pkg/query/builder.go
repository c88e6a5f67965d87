package query

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/remora-db/remora/pkg/driver"
)

// Query is an immutable-until-executed query description. Builder methods
// clone, so a partially built query can be shared and branched safely:
//
//	adults := users.Query().Filter(bson.M{"age": bson.M{"$gte": 18}})
//	names, err := adults.Only("name").All(ctx)
//	n, err := adults.Count(ctx)
type Query struct {
	ex *Executor

	filter  bson.M
	only    []string
	exclude []string
	sort    []driver.SortField
	skip    *int64
	limit   *int64

	// first validation failure, surfaced at execution
	err error
}

func (q *Query) clone() *Query {
	next := *q
	if q.filter != nil {
		next.filter = make(bson.M, len(q.filter))
		for k, v := range q.filter {
			next.filter[k] = v
		}
	}
	next.only = append([]string(nil), q.only...)
	next.exclude = append([]string(nil), q.exclude...)
	next.sort = append([]driver.SortField(nil), q.sort...)
	return &next
}

func (q *Query) fail(err error) *Query {
	next := q.clone()
	if next.err == nil {
		next.err = err
	}
	return next
}

// Executor returns the executor this query runs against.
func (q *Query) Executor() *Executor { return q.ex }

// Filter merges conditions into the filter predicate. Conditions on the same
// field replace earlier ones.
func (q *Query) Filter(conditions map[string]interface{}) *Query {
	next := q.clone()
	if next.filter == nil {
		next.filter = bson.M{}
	}
	for k, v := range conditions {
		next.filter[k] = v
	}
	return next
}

// Only restricts the fetched fields to the given set. Mutually exclusive
// with Exclude.
func (q *Query) Only(fields ...string) *Query {
	next := q.clone()
	next.only = append(next.only, fields...)
	return next
}

// Exclude drops the given fields from fetched documents. Mutually exclusive
// with Only.
func (q *Query) Exclude(fields ...string) *Query {
	next := q.clone()
	next.exclude = append(next.exclude, fields...)
	return next
}

// OrderBy appends ordering keys. A leading "-" sorts descending, mirroring
// the classic ODM convention: OrderBy("-created", "name").
func (q *Query) OrderBy(keys ...string) *Query {
	next := q.clone()
	for _, key := range keys {
		if key == "" {
			return next.fail(fmt.Errorf("%w: empty order key", ErrInvalidQuery))
		}
		desc := strings.HasPrefix(key, "-")
		next.sort = append(next.sort, driver.SortField{
			Field: strings.TrimPrefix(key, "-"),
			Desc:  desc,
		})
	}
	return next
}

// Skip skips the first n results. Negative values fail at execution.
func (q *Query) Skip(n int64) *Query {
	next := q.clone()
	if n < 0 {
		return next.fail(fmt.Errorf("%w: negative skip %d", ErrInvalidQuery, n))
	}
	next.skip = &n
	return next
}

// Limit bounds the result set to n documents. Limit(0) clears the bound
// (the historical "no limit" convention); zero is never forwarded to the
// driver as a literal, since it means "nothing" server-side.
func (q *Query) Limit(n int64) *Query {
	next := q.clone()
	if n < 0 {
		return next.fail(fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, n))
	}
	if n == 0 {
		next.limit = nil
		return next
	}
	next.limit = &n
	return next
}

// validate checks the description right before execution.
func (q *Query) validate() error {
	if q.err != nil {
		return q.err
	}
	if len(q.only) > 0 && len(q.exclude) > 0 {
		return fmt.Errorf("%w: Only and Exclude are mutually exclusive", ErrInvalidQuery)
	}
	return validateFilter(q.filter)
}

// validateFilter checks the predicate tree shape: logical operators take
// clause lists, field conditions are either plain values or pure operator
// documents (no mixing of operator and field keys in one condition).
func validateFilter(filter bson.M) error {
	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			clauses, ok := asFilterList(cond)
			if !ok {
				return fmt.Errorf("%w: %s expects an array of filter documents", ErrInvalidQuery, key)
			}
			for _, clause := range clauses {
				if err := validateFilter(clause); err != nil {
					return err
				}
			}
		default:
			if m, ok := cond.(bson.M); ok {
				if err := validateCondition(key, m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateCondition(field string, cond bson.M) error {
	operators := 0
	for k := range cond {
		if strings.HasPrefix(k, "$") {
			operators++
		}
	}
	if operators != 0 && operators != len(cond) {
		return fmt.Errorf("%w: condition on %q mixes operators and plain keys", ErrInvalidQuery, field)
	}
	return nil
}

func asFilterList(v interface{}) ([]bson.M, bool) {
	switch t := v.(type) {
	case []bson.M:
		return t, true
	case bson.A:
		out := make([]bson.M, 0, len(t))
		for _, c := range t {
			m, ok := c.(bson.M)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	case []interface{}:
		return asFilterList(bson.A(t))
	}
	return nil, false
}

// findOptions assembles the driver options for this description.
func (q *Query) findOptions() driver.FindOptions {
	opts := driver.FindOptions{
		Sort:  q.sort,
		Skip:  q.skip,
		Limit: q.limit,
	}
	if len(q.only) > 0 {
		proj := bson.M{}
		for _, f := range q.only {
			proj[f] = 1
		}
		opts.Projection = proj
	} else if len(q.exclude) > 0 {
		proj := bson.M{}
		for _, f := range q.exclude {
			proj[f] = 0
		}
		opts.Projection = proj
	}
	return opts
}

func (q *Query) filterOrEmpty() bson.M {
	if q.filter == nil {
		return bson.M{}
	}
	return q.filter
}
