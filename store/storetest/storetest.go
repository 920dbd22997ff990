// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/store"
)

func RunStoreTests(t *testing.T, s store.Store) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, s) })
	t.Run("Remove", func(t *testing.T) { testRemove(t, s) })
	t.Run("List", func(t *testing.T) { testList(t, s) })
	t.Run("ListEmpty", func(t *testing.T) { testListEmpty(t, s) })
}

func testSetAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "/test/", "key1", []byte("value1")))

	value, err := s.Get(ctx, "/test/", "key1")
	assert.Nil(t, err)
	assert.Equal(t, []byte("value1"), value)

	value, err = s.Get(ctx, "/test/", "non-existent")
	assert.Nil(t, err)
	assert.Nil(t, value)

	// same key under another prefix is another entry
	value, err = s.Get(ctx, "/test2/", "key1")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Remove(ctx, "/test/", "key1"))
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "/test/", "key1", []byte("value1")))
	require.NoError(t, s.Set(ctx, "/test/", "key1", []byte("value2")))

	value, err := s.Get(ctx, "/test/", "key1")
	assert.Nil(t, err)
	assert.Equal(t, []byte("value2"), value)

	assert.Nil(t, s.Remove(ctx, "/test/", "key1"))
}

func testRemove(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "/test/", "key1", []byte("value1")))
	assert.Nil(t, s.Remove(ctx, "/test/", "key1"))

	value, err := s.Get(ctx, "/test/", "key1")
	assert.Nil(t, err)
	assert.Nil(t, value)

	assert.Nil(t, s.Remove(ctx, "/test/", "non-existent"))
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()

	for _, key := range []string{"key3", "key1", "key2"} {
		require.NoError(t, s.Set(ctx, "/list/", key, []byte("v-"+key)))
	}
	require.NoError(t, s.Set(ctx, "/list/other/", "key9", []byte("other")))
	require.NoError(t, s.Set(ctx, "/lis/", "key8", []byte("other")))

	keys := make([]string, 0)
	err := s.List(ctx, "/list/", func(key string) bool {
		keys = append(keys, key)
		return true
	})
	assert.Nil(t, err)
	assert.Equal(t, []string{"key1", "key2", "key3"}, keys)

	count := 0
	err = s.List(ctx, "/list/", func(key string) bool {
		count++
		return count < 2
	})
	assert.Nil(t, err)
	assert.Equal(t, 2, count)

	for _, key := range []string{"key1", "key2", "key3"} {
		assert.Nil(t, s.Remove(ctx, "/list/", key))
	}
	assert.Nil(t, s.Remove(ctx, "/list/other/", "key9"))
	assert.Nil(t, s.Remove(ctx, "/lis/", "key8"))
}

func testListEmpty(t *testing.T, s store.Store) {
	keys := make([]string, 0)
	err := s.List(context.Background(), "/non-existent/", func(key string) bool {
		keys = append(keys, key)
		return true
	})
	assert.Nil(t, err)
	assert.Empty(t, keys)
}
