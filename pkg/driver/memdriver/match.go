package memdriver

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/remora-db/remora/pkg/driver"
)

// matchDocument evaluates a filter predicate tree against one document.
// Supported: implicit equality, $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin,
// $exists at the condition level and $and/$or/$nor at the tree level. Keys
// other than the three logical operators are treated as field paths; that
// includes "$id"/"$ref" segments inside DBRef subdocuments.
func matchDocument(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			clauses, err := asClauseList(key, cond)
			if err != nil {
				return false, err
			}
			matched, err := matchLogical(doc, key, clauses)
			if err != nil || !matched {
				return false, err
			}
		default:
			values, found := lookupPath(doc, key)
			matched, err := matchCondition(values, found, cond)
			if err != nil || !matched {
				return false, err
			}
		}
	}
	return true, nil
}

func asClauseList(op string, cond interface{}) ([]bson.M, error) {
	var raw []interface{}
	switch t := cond.(type) {
	case bson.A:
		raw = t
	case []interface{}:
		raw = t
	case []bson.M:
		return t, nil
	default:
		return nil, fmt.Errorf("memdriver: %s expects an array of clauses, got %T", op, cond)
	}
	out := make([]bson.M, 0, len(raw))
	for _, c := range raw {
		m, ok := c.(bson.M)
		if !ok {
			return nil, fmt.Errorf("memdriver: %s clause must be a document, got %T", op, c)
		}
		out = append(out, m)
	}
	return out, nil
}

func matchLogical(doc bson.M, op string, clauses []bson.M) (bool, error) {
	anyMatched := false
	for _, clause := range clauses {
		ok, err := matchDocument(doc, clause)
		if err != nil {
			return false, err
		}
		if ok {
			anyMatched = true
		} else if op == "$and" {
			return false, nil
		}
	}
	switch op {
	case "$and":
		return true, nil
	case "$or":
		return anyMatched, nil
	default: // $nor
		return !anyMatched, nil
	}
}

// lookupPath resolves a dotted field path, fanning out over arrays the way
// the server does: a path into a list field yields one candidate value per
// element.
func lookupPath(v interface{}, path string) ([]interface{}, bool) {
	segments := strings.Split(path, ".")
	values := []interface{}{v}
	found := true
	for _, seg := range segments {
		var next []interface{}
		segFound := false
		for _, cur := range values {
			switch t := cur.(type) {
			case bson.M:
				if child, ok := t[seg]; ok {
					next = append(next, child)
					segFound = true
				}
			case bson.A:
				for _, elem := range t {
					if m, ok := elem.(bson.M); ok {
						if child, ok := m[seg]; ok {
							next = append(next, child)
							segFound = true
						}
					}
				}
			}
		}
		values = next
		found = found && segFound
	}
	return values, found
}

// matchCondition checks a single field condition against the candidate
// values produced by the path lookup. An array-valued field matches when any
// element matches (server containment semantics).
func matchCondition(values []interface{}, found bool, cond interface{}) (bool, error) {
	if ops, ok := operatorDoc(cond); ok {
		return matchOperators(values, found, ops)
	}
	if !found {
		return false, nil
	}
	for _, v := range values {
		if valueMatches(v, cond) {
			return true, nil
		}
	}
	return false, nil
}

// operatorDoc reports whether cond is an operator document ({"$gt": 5, ...}).
// Mixing operator and plain keys in one condition is rejected upstream by the
// query validator; here a single operator key is enough to switch modes.
func operatorDoc(cond interface{}) (bson.M, bool) {
	m, ok := cond.(bson.M)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperators(values []interface{}, found bool, ops bson.M) (bool, error) {
	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if found != want {
				return false, nil
			}
		case "$eq":
			if !anyValue(values, found, func(v interface{}) bool { return valueMatches(v, arg) }) {
				return false, nil
			}
		case "$ne":
			if anyValue(values, found, func(v interface{}) bool { return valueMatches(v, arg) }) {
				return false, nil
			}
		case "$gt", "$gte", "$lt", "$lte":
			op := op
			ok := anyValue(values, found, func(v interface{}) bool {
				c, comparable := compareValues(v, arg)
				if !comparable {
					return false
				}
				switch op {
				case "$gt":
					return c > 0
				case "$gte":
					return c >= 0
				case "$lt":
					return c < 0
				default:
					return c <= 0
				}
			})
			if !ok {
				return false, nil
			}
		case "$in", "$nin":
			list, err := asValueList(op, arg)
			if err != nil {
				return false, err
			}
			hit := anyValue(values, found, func(v interface{}) bool {
				for _, candidate := range list {
					if valueMatches(v, candidate) {
						return true
					}
				}
				return false
			})
			if (op == "$in") != hit {
				return false, nil
			}
		default:
			return false, fmt.Errorf("memdriver: unsupported query operator %q", op)
		}
	}
	return true, nil
}

func anyValue(values []interface{}, found bool, pred func(interface{}) bool) bool {
	if !found {
		return false
	}
	for _, v := range values {
		if pred(v) {
			return true
		}
		// Containment: a list value matches when any element does.
		if arr, ok := asArray(v); ok {
			for _, elem := range arr {
				if pred(elem) {
					return true
				}
			}
		}
	}
	return false
}

func asValueList(op string, arg interface{}) ([]interface{}, error) {
	switch t := arg.(type) {
	case bson.A:
		return t, nil
	case []interface{}:
		return t, nil
	default:
		return nil, fmt.Errorf("memdriver: %s expects an array, got %T", op, arg)
	}
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case bson.A:
		return t, true
	case []interface{}:
		return t, true
	}
	return nil, false
}

// valueMatches is equality with numeric normalization: 3 (int) equals
// 3.0 (float64) equals int64(3), matching server comparison semantics.
func valueMatches(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	// Nested documents match when element-wise equal: condition keys in the
	// query document match sub-fields of the stored value.
	if am, ok := a.(bson.M); ok {
		if bm, ok := b.(bson.M); ok {
			sub, err := matchDocument(am, bm)
			return err == nil && sub
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values when they share a comparable type class.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch at := a.(type) {
	case string:
		if bt, ok := b.(string); ok {
			return strings.Compare(at, bt), true
		}
	case bool:
		if bt, ok := b.(bool); ok {
			switch {
			case at == bt:
				return 0, true
			case !at:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
	case primitive.ObjectID:
		if bt, ok := b.(primitive.ObjectID); ok {
			return strings.Compare(at.Hex(), bt.Hex()), true
		}
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// sortRows applies an ordered multi-field sort. Missing fields order before
// present ones; values of incomparable type classes keep their relative
// (insertion) order since the sort is stable.
func sortRows(rows []bson.M, fields []driver.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range fields {
			av, aok := lookupPath(rows[i], f.Field)
			bv, bok := lookupPath(rows[j], f.Field)
			var a, b interface{}
			if aok && len(av) > 0 {
				a = av[0]
			}
			if bok && len(bv) > 0 {
				b = bv[0]
			}
			c, ok := compareValues(a, b)
			if !ok {
				switch {
				case a == nil && b != nil:
					c = -1
				case a != nil && b == nil:
					c = 1
				default:
					continue
				}
			}
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// project applies an inclusion or exclusion projection. The query layer
// guarantees the two are never mixed; _id follows server rules (always
// included unless explicitly excluded).
func project(doc bson.M, projection bson.M) bson.M {
	include := false
	for field, v := range projection {
		if field == "_id" {
			continue
		}
		if truthy(v) {
			include = true
		}
		break
	}

	out := bson.M{}
	if include {
		for field, v := range projection {
			if !truthy(v) {
				continue
			}
			if val, ok := doc[field]; ok {
				out[field] = val
			}
		}
		if idSpec, ok := projection["_id"]; !ok || truthy(idSpec) {
			if id, ok := doc["_id"]; ok {
				out["_id"] = id
			}
		}
		return out
	}

	for field, v := range doc {
		if spec, ok := projection[field]; ok && !truthy(spec) {
			continue
		}
		out[field] = v
	}
	return out
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}
