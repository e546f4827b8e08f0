package sqlite

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
	dsn := filepath.Join(t.TempDir(), "cache.db")
	s, cleanup, err := NewStore(dsn, maxEntries)
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

	// Removing an absent key is not an error.
	assert.NoError(t, s.Remove(ctx, "img-a"))
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, mediacache.ErrNotFound)
}

func TestStore_OverwriteKeepsAge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "c", "3"))
	// Refreshing "a" must not make it the newest entry.
	require.NoError(t, s.Set(ctx, "a", "updated"))

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys, "Keys must stay oldest-first")
}

func TestStore_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	assert.ErrorIs(t, s.Set(ctx, "c", "3"), mediacache.ErrQuotaExceeded)

	// Overwriting an existing key is always allowed at quota.
	assert.NoError(t, s.Set(ctx, "a", "1b"))

	require.NoError(t, s.Remove(ctx, "a"))
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
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	s, cleanup, err := NewStore(dsn, 0)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "img-a", "payload"))
	cleanup()

	s2, cleanup2, err := NewStore(dsn, 0)
	require.NoError(t, err)
	defer cleanup2()

	v, err := s2.Get(ctx, "img-a")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
