package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediacache"
)

func newTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, cleanup, err := NewStore(filepath.Join(t.TempDir(), "cache"), maxEntries)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return s
}

func TestStore_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.Set(ctx, "img-a", "payload"))
	v, err := s.Get(ctx, "img-a")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	require.NoError(t, s.Remove(ctx, "img-a"))
	_, err = s.Get(ctx, "img-a")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
	assert.NoError(t, s.Remove(ctx, "img-a"))
}

func TestStore_OverwriteKeepsAge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "c", "3"))
	require.NoError(t, s.Set(ctx, "a", "updated"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", v)
}

func TestStore_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	assert.ErrorIs(t, s.Set(ctx, "c", "3"), mediacache.ErrQuotaExceeded)
	assert.NoError(t, s.Set(ctx, "a", "1b"), "overwrite allowed at quota")

	require.NoError(t, s.Remove(ctx, "b"))
	assert.NoError(t, s.Set(ctx, "c", "3"))
}

func TestStore_ClearAndLen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Clear(ctx))
	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_CountSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache")

	s, cleanup, err := NewStore(path, 2)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	cleanup()

	s2, cleanup2, err := NewStore(path, 2)
	require.NoError(t, err)
	defer cleanup2()

	v, err := s2.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	// The rebuilt count still enforces the quota.
	assert.ErrorIs(t, s2.Set(ctx, "c", "3"), mediacache.ErrQuotaExceeded)
}

func TestStore_SetAfterClose(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), "a", "1"), mediacache.ErrStoreClosed)
	assert.NoError(t, s.Close())
}
