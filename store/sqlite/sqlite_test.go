package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/flowgraph/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.(*sqliteStore).Close()

	storetest.RunStoreTests(t, s)
}

func TestSQLiteStoreFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flowgraph.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "/record/run-1", "llm#1", []byte("entry")))
	require.NoError(t, s.(*sqliteStore).Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.(*sqliteStore).Close()

	// List may call back into the store from the iterator
	values := make([]string, 0)
	err = s.List(ctx, "/record/run-1", func(key string) bool {
		v, err := s.Get(ctx, "/record/run-1", key)
		assert.Nil(t, err)
		values = append(values, string(v))
		return true
	})
	assert.Nil(t, err)
	assert.Equal(t, []string{"entry"}, values)

	_, err = NewSQLiteStore("")
	assert.NotNil(t, err)
}
