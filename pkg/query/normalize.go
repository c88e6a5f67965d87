package query

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// shorthand maps the op__field key convention onto wire operators:
// Update(ctx, bson.M{"inc__balance": -50}) becomes {$inc: {balance: -50}}.
var shorthand = map[string]string{
	"set":      "$set",
	"inc":      "$inc",
	"dec":      "$inc", // negated below
	"push":     "$push",
	"pull":     "$pull",
	"pull_all": "$pullAll",
	"unset":    "$unset",
}

// NormalizeUpdate converts an update spec into wire operator form:
//
//   - a bare field-value mapping is wrapped as a $set operation,
//   - explicit operator-prefixed keys ($set, $inc, $push, ...) pass through
//     untouched,
//   - op__field shorthand keys are rewritten into the explicit operator form.
//
// Normalization is idempotent: feeding its output back in returns an equal
// spec, and an already operator-shaped spec is never double-wrapped. Mixing
// is allowed; conflicting assignments to the same operator+field fail.
func NormalizeUpdate(spec map[string]interface{}) (bson.M, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("%w: empty spec", ErrInvalidUpdate)
	}

	out := bson.M{}

	merge := func(op, field string, value interface{}) error {
		fields, ok := out[op].(bson.M)
		if !ok {
			fields = bson.M{}
			out[op] = fields
		}
		if _, dup := fields[field]; dup {
			return fmt.Errorf("%w: duplicate assignment to %s %s", ErrInvalidUpdate, op, field)
		}
		fields[field] = value
		return nil
	}

	for key, value := range spec {
		switch {
		case strings.HasPrefix(key, "$"):
			// Operator-shaped: pass through, merging field docs.
			fields, ok := toFieldDoc(value)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a field document, got %T", ErrInvalidUpdate, key, value)
			}
			for field, v := range fields {
				if err := merge(key, field, v); err != nil {
					return nil, err
				}
			}
		case strings.Contains(key, "__"):
			parts := strings.SplitN(key, "__", 2)
			op, field := parts[0], parts[1]
			wireOp, known := shorthand[op]
			if !known {
				return nil, fmt.Errorf("%w: unknown update operator shorthand %q", ErrInvalidUpdate, op)
			}
			if field == "" {
				return nil, fmt.Errorf("%w: shorthand %q names no field", ErrInvalidUpdate, key)
			}
			if op == "dec" {
				negated, ok := negate(value)
				if !ok {
					return nil, fmt.Errorf("%w: dec__%s with non-numeric value %T", ErrInvalidUpdate, field, value)
				}
				value = negated
			}
			if err := merge(wireOp, field, value); err != nil {
				return nil, err
			}
		default:
			// Bare field-value pair: auto-wrap as $set.
			if err := merge("$set", key, value); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func toFieldDoc(v interface{}) (bson.M, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return bson.M(t), true
	}
	return nil, false
}

func negate(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case int:
		return -t, true
	case int32:
		return -t, true
	case int64:
		return -t, true
	case float32:
		return -t, true
	case float64:
		return -t, true
	}
	return nil, false
}
