package golden

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylane/querylane/internal/log"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "golden.db"), log.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestAddAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	q, err := store.Add(ctx, "total revenue by region", "SELECT region, SUM(total) FROM orders GROUP BY region", "alice", []string{"revenue"})
	require.NoError(t, err)

	assert.Equal(t, ID(q.SQL, "alice"), q.ID)
	assert.Len(t, q.ID, 12)
	assert.Equal(t, []string{"revenue"}, q.Tags)
	assert.Zero(t, q.SuccessCount)

	got, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Question, got.Question)
}

func TestAddUpsertsSamePairing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.Add(ctx, "old phrasing", "SELECT 1", "alice", nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess(ctx, first.ID))

	second, err := store.Add(ctx, "new phrasing", "SELECT 1", "alice", []string{"auto"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new phrasing", second.Question)
	// Counters survive the refresh.
	assert.Equal(t, 1, second.SuccessCount)

	queries, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, queries, 1)
}

func TestAddEmptySQL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Add(context.Background(), "q", "   ", "alice", nil)
	assert.ErrorIs(t, err, ErrEmptySQL)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	q, err := store.Add(ctx, "q", "SELECT 1", "", nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, q.ID))
	_, err = store.Get(ctx, q.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, q.ID), ErrNotFound)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Add(ctx, "revenue by region", "SELECT region, SUM(total) FROM orders GROUP BY region", "", []string{"revenue", "auto"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "count customers", "SELECT COUNT(*) FROM customers", "", []string{"customers"})
	require.NoError(t, err)

	t.Run("term matches question", func(t *testing.T) {
		got, err := store.Search(ctx, "revenue", "", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "revenue by region", got[0].Question)
	})

	t.Run("term matches sql", func(t *testing.T) {
		got, err := store.Search(ctx, "customers", "", 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("tag filter", func(t *testing.T) {
		got, err := store.Search(ctx, "", "auto", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "revenue by region", got[0].Question)
	})

	t.Run("empty term matches all", func(t *testing.T) {
		got, err := store.Search(ctx, "", "", 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("no match", func(t *testing.T) {
		got, err := store.Search(ctx, "inventory", "", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAddTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	q, err := store.Add(ctx, "q", "SELECT 1", "", []string{"a"})
	require.NoError(t, err)

	got, err := store.AddTags(ctx, q.ID, []string{"b", "a", "", " c "})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Tags)

	_, err = store.AddTags(ctx, "missing", []string{"x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	q, err := store.Add(ctx, "q", "SELECT 1", "", nil)
	require.NoError(t, err)

	require.NoError(t, store.RecordSuccess(ctx, q.ID))
	require.NoError(t, store.RecordSuccess(ctx, q.ID))
	require.NoError(t, store.RecordFailure(ctx, q.ID))

	got, err := store.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)

	assert.ErrorIs(t, store.RecordSuccess(ctx, "missing"), ErrNotFound)
}

func TestStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	a, err := store.Add(ctx, "a", "SELECT 1", "", []string{"auto"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "b", "SELECT 2", "", []string{"auto", "revenue"})
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess(ctx, a.ID))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats["total_queries"])
	assert.Equal(t, 1, stats["total_successes"])
	assert.Equal(t, 0, stats["total_failures"])

	byTag := stats["by_tag"].(map[string]int)
	assert.Equal(t, 2, byTag["auto"])
	assert.Equal(t, 1, byTag["revenue"])
}
