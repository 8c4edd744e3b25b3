package resultstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylane/querylane/internal/log"
	"github.com/querylane/querylane/internal/sqlrunner"
)

func newTestStore(t *testing.T, window time.Duration) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir(), "/static/results", window, log.NewNop())
	require.NoError(t, err)
	return store
}

func sampleTable() *sqlrunner.Table {
	return &sqlrunner.Table{
		Columns: []string{"region", "total"},
		Rows: [][]any{
			{"east", 150.5},
			{"west", nil},
		},
	}
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)

	name, err := store.Materialize("SELECT region, total FROM orders", sampleTable())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(name, "query_results_"))
	assert.True(t, strings.HasSuffix(name, ".csv"))

	data, err := os.ReadFile(store.Path(name))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "region,total", lines[0])
	assert.Equal(t, "east,150.5", lines[1])
	assert.Equal(t, "west,", lines[2])
}

func TestMaterializeUniqueNames(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)

	first, err := store.Materialize("SELECT 1", sampleTable())
	require.NoError(t, err)
	second, err := store.Materialize("SELECT 1", sampleTable())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestMaterializeNilTable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)
	_, err := store.Materialize("SELECT 1", nil)
	assert.ErrorIs(t, err, ErrNilTable)
}

func TestLatestFresh(t *testing.T) {
	t.Parallel()

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t, 30*time.Second)
		_, ok := store.LatestFresh()
		assert.False(t, ok)
	})

	t.Run("returns newest artifact", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t, 30*time.Second)
		_, err := store.Materialize("SELECT 1", sampleTable())
		require.NoError(t, err)
		second, err := store.Materialize("SELECT 2", sampleTable())
		require.NoError(t, err)

		// Make the second artifact clearly newer than the first.
		future := time.Now().Add(2 * time.Second)
		require.NoError(t, os.Chtimes(store.Path(second), future, future))

		name, ok := store.LatestFresh()
		require.True(t, ok)
		assert.Equal(t, second, name)
	})

	t.Run("stale artifacts excluded", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t, 30*time.Second)
		name, err := store.Materialize("SELECT 1", sampleTable())
		require.NoError(t, err)

		old := time.Now().Add(-time.Minute)
		require.NoError(t, os.Chtimes(store.Path(name), old, old))

		_, ok := store.LatestFresh()
		assert.False(t, ok)
	})

	t.Run("non-csv files ignored", func(t *testing.T) {
		t.Parallel()

		store := newTestStore(t, 30*time.Second)
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o600))

		_, ok := store.LatestFresh()
		assert.False(t, ok)
	})
}

func TestPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)
	path := store.Path("../../etc/passwd")
	assert.Equal(t, filepath.Join(store.Dir(), "passwd"), path)
}

func TestURL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)
	assert.Equal(t, "/static/results/query_results_ab.csv", store.URL("query_results_ab.csv"))
}

func TestExists(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, 30*time.Second)
	assert.False(t, store.Exists(""))
	assert.False(t, store.Exists("missing.csv"))

	name, err := store.Materialize("SELECT 1", sampleTable())
	require.NoError(t, err)
	assert.True(t, store.Exists(name))
}
