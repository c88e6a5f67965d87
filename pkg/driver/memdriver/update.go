package memdriver

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// applyUpdate mutates doc in place according to an operator-form update
// document. The query layer normalizes bare field maps into {$set: ...}
// before the driver ever sees them, so a non-operator key here is a bug.
func applyUpdate(doc bson.M, update bson.M) error {
	for op, arg := range update {
		fields, ok := arg.(bson.M)
		if !ok {
			return fmt.Errorf("memdriver: %s expects a document, got %T", op, arg)
		}
		switch op {
		case "$set":
			for path, v := range fields {
				setPath(doc, path, cloneValue(v))
			}
		case "$unset":
			for path := range fields {
				unsetPath(doc, path)
			}
		case "$inc":
			for path, v := range fields {
				if err := incPath(doc, path, v); err != nil {
					return err
				}
			}
		case "$push":
			for path, v := range fields {
				if err := pushPath(doc, path, cloneValue(v)); err != nil {
					return err
				}
			}
		case "$pull":
			for path, cond := range fields {
				if err := pullPath(doc, path, cond, false); err != nil {
					return err
				}
			}
		case "$pullAll":
			for path, list := range fields {
				if err := pullPath(doc, path, list, true); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("memdriver: unsupported update operator %q", op)
		}
	}
	return nil
}

// parent descends to the document holding the final path segment, creating
// intermediate documents when create is set.
func parent(doc bson.M, path string, create bool) (bson.M, string, bool) {
	segments := strings.Split(path, ".")
	cur := doc
	for _, seg := range segments[:len(segments)-1] {
		child, ok := cur[seg]
		if !ok {
			if !create {
				return nil, "", false
			}
			next := bson.M{}
			cur[seg] = next
			cur = next
			continue
		}
		m, ok := child.(bson.M)
		if !ok {
			return nil, "", false
		}
		cur = m
	}
	return cur, segments[len(segments)-1], true
}

func setPath(doc bson.M, path string, v interface{}) {
	if m, leaf, ok := parent(doc, path, true); ok {
		m[leaf] = v
	}
}

func unsetPath(doc bson.M, path string) {
	if m, leaf, ok := parent(doc, path, false); ok {
		delete(m, leaf)
	}
}

func incPath(doc bson.M, path string, delta interface{}) error {
	d, ok := asFloat(delta)
	if !ok {
		return fmt.Errorf("memdriver: $inc on %q with non-numeric delta %T", path, delta)
	}
	m, leaf, ok := parent(doc, path, true)
	if !ok {
		return fmt.Errorf("memdriver: $inc path %q traverses a non-document", path)
	}
	cur, exists := m[leaf]
	if !exists {
		m[leaf] = d
		return nil
	}
	f, ok := asFloat(cur)
	if !ok {
		return fmt.Errorf("memdriver: $inc on %q: field holds non-numeric %T", path, cur)
	}
	// Integer fields stay integral when the delta is integral.
	switch cur.(type) {
	case int, int32, int64:
		if d == float64(int64(d)) {
			m[leaf] = int64(f) + int64(d)
			return nil
		}
	}
	m[leaf] = f + d
	return nil
}

func pushPath(doc bson.M, path string, v interface{}) error {
	m, leaf, ok := parent(doc, path, true)
	if !ok {
		return fmt.Errorf("memdriver: $push path %q traverses a non-document", path)
	}
	cur, exists := m[leaf]
	if !exists {
		m[leaf] = bson.A{v}
		return nil
	}
	arr, ok := asArray(cur)
	if !ok {
		return fmt.Errorf("memdriver: $push on %q: field holds non-array %T", path, cur)
	}
	m[leaf] = bson.A(append(arr, v))
	return nil
}

// pullPath removes elements from an array field. With all set, cond is a list
// of values to remove ($pullAll); otherwise cond is either a plain value
// (equality) or a condition document matched against each element ($pull).
func pullPath(doc bson.M, path string, cond interface{}, all bool) error {
	m, leaf, ok := parent(doc, path, false)
	if !ok {
		return nil
	}
	cur, exists := m[leaf]
	if !exists {
		return nil
	}
	arr, ok := asArray(cur)
	if !ok {
		return fmt.Errorf("memdriver: $pull on %q: field holds non-array %T", path, cur)
	}

	var removeList []interface{}
	if all {
		list, err := asValueList("$pullAll", cond)
		if err != nil {
			return err
		}
		removeList = list
	}

	kept := make(bson.A, 0, len(arr))
	for _, elem := range arr {
		remove := false
		switch {
		case all:
			for _, candidate := range removeList {
				if valueMatches(elem, candidate) {
					remove = true
					break
				}
			}
		default:
			remove = pullMatches(elem, cond)
		}
		if !remove {
			kept = append(kept, elem)
		}
	}
	m[leaf] = kept
	return nil
}

func pullMatches(elem, cond interface{}) bool {
	if condDoc, ok := cond.(bson.M); ok {
		if elemDoc, ok := elem.(bson.M); ok {
			matched, err := matchDocument(elemDoc, condDoc)
			return err == nil && matched
		}
		if ops, isOps := operatorDoc(cond); isOps {
			matched, err := matchOperators([]interface{}{elem}, true, ops)
			return err == nil && matched
		}
		return false
	}
	return valueMatches(elem, cond)
}
