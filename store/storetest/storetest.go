// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/offline-cache/store"
)

// Run exercises the store.Store contract against stores produced by open.
// open is called once per subtest and must return an empty namespace.
func Run(t *testing.T, open func(t *testing.T, ns string) store.Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t, "a")
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		s := open(t, "a")
		require.NoError(t, s.Put(ctx, store.Record{
			Key:     "k1",
			Value:   []byte("hello"),
			Indexes: map[string]string{"category": "tools"},
		}))

		rec, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", rec.Key)
		assert.Equal(t, []byte("hello"), rec.Value)
		assert.Equal(t, map[string]string{"category": "tools"}, rec.Indexes)
	})

	t.Run("put replaces value and indexes", func(t *testing.T) {
		s := open(t, "a")
		require.NoError(t, s.Put(ctx, store.Record{Key: "k", Value: []byte("1"), Indexes: map[string]string{"status": "draft"}}))
		require.NoError(t, s.Put(ctx, store.Record{Key: "k", Value: []byte("2"), Indexes: map[string]string{"status": "live"}}))

		rec, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), rec.Value)

		old, err := s.Query(ctx, "status", "draft")
		require.NoError(t, err)
		assert.Empty(t, old)

		cur, err := s.Query(ctx, "status", "live")
		require.NoError(t, err)
		require.Len(t, cur, 1)
		assert.Equal(t, "k", cur[0].Key)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t, "a")
		require.NoError(t, s.Put(ctx, store.Record{Key: "k", Value: []byte("v"), Indexes: map[string]string{"category": "c"}}))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"), "deleting twice is fine")

		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, store.ErrNotFound)

		found, err := s.Query(ctx, "category", "c")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("get all is ordered by key", func(t *testing.T) {
		s := open(t, "a")
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, store.Record{Key: k, Value: []byte(k)}))
		}
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].Key)
		assert.Equal(t, "b", all[1].Key)
		assert.Equal(t, "c", all[2].Key)
	})

	t.Run("query by index", func(t *testing.T) {
		s := open(t, "a")
		require.NoError(t, s.Put(ctx, store.Record{Key: "1", Value: []byte("x"), Indexes: map[string]string{"category": "tools"}}))
		require.NoError(t, s.Put(ctx, store.Record{Key: "2", Value: []byte("y"), Indexes: map[string]string{"category": "food"}}))
		require.NoError(t, s.Put(ctx, store.Record{Key: "3", Value: []byte("z"), Indexes: map[string]string{"category": "tools"}}))

		found, err := s.Query(ctx, "category", "tools")
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "1", found[0].Key)
		assert.Equal(t, "3", found[1].Key)
	})
}

// RunIsolation checks that two namespaces opened by open on the same backing
// database do not see each other's keys.
func RunIsolation(t *testing.T, first, second store.Store) {
	ctx := context.Background()
	require.NoError(t, first.Put(ctx, store.Record{Key: "k", Value: []byte("first")}))

	_, err := second.Get(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	all, err := second.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
