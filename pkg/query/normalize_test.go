package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNormalizeUpdate(t *testing.T) {
	t.Run("bare fields wrap as set", func(t *testing.T) {
		out, err := NormalizeUpdate(map[string]interface{}{"balance": 100})
		require.NoError(t, err)
		assert.Equal(t, bson.M{"$set": bson.M{"balance": 100}}, out)
	})

	t.Run("operator form passes through", func(t *testing.T) {
		out, err := NormalizeUpdate(map[string]interface{}{
			"$inc": bson.M{"balance": -50},
		})
		require.NoError(t, err)
		assert.Equal(t, bson.M{"$inc": bson.M{"balance": -50}}, out)
	})

	t.Run("shorthand rewrites", func(t *testing.T) {
		cases := []struct {
			in   map[string]interface{}
			want bson.M
		}{
			{map[string]interface{}{"set__name": "ada"}, bson.M{"$set": bson.M{"name": "ada"}}},
			{map[string]interface{}{"inc__balance": 10}, bson.M{"$inc": bson.M{"balance": 10}}},
			{map[string]interface{}{"dec__balance": 10}, bson.M{"$inc": bson.M{"balance": -10}}},
			{map[string]interface{}{"push__tags": "new"}, bson.M{"$push": bson.M{"tags": "new"}}},
			{map[string]interface{}{"pull__tags": "old"}, bson.M{"$pull": bson.M{"tags": "old"}}},
			{map[string]interface{}{"pull_all__tags": bson.A{"a", "b"}}, bson.M{"$pullAll": bson.M{"tags": bson.A{"a", "b"}}}},
			{map[string]interface{}{"unset__name": 1}, bson.M{"$unset": bson.M{"name": 1}}},
		}
		for _, tc := range cases {
			out, err := NormalizeUpdate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		}
	})

	t.Run("mixed forms merge", func(t *testing.T) {
		out, err := NormalizeUpdate(map[string]interface{}{
			"name":         "ada",
			"inc__logins":  1,
			"$set":         bson.M{"active": true},
			"unset__draft": 1,
		})
		require.NoError(t, err)
		assert.Equal(t, bson.M{
			"$set":   bson.M{"name": "ada", "active": true},
			"$inc":   bson.M{"logins": 1},
			"$unset": bson.M{"draft": 1},
		}, out)
	})

	t.Run("idempotent", func(t *testing.T) {
		first, err := NormalizeUpdate(map[string]interface{}{"balance": 100, "inc__logins": 1})
		require.NoError(t, err)
		second, err := NormalizeUpdate(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("failures", func(t *testing.T) {
		_, err := NormalizeUpdate(nil)
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = NormalizeUpdate(map[string]interface{}{"bogus__field": 1})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = NormalizeUpdate(map[string]interface{}{"set__": 1})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = NormalizeUpdate(map[string]interface{}{"dec__balance": "ten"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = NormalizeUpdate(map[string]interface{}{"$set": "not-a-doc"})
		assert.ErrorIs(t, err, ErrInvalidUpdate)

		_, err = NormalizeUpdate(map[string]interface{}{
			"set__name": "a",
			"$set":      bson.M{"name": "b"},
		})
		assert.ErrorIs(t, err, ErrInvalidUpdate)
	})
}
