package learning

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylane/querylane/internal/log"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(filepath.Join(t.TempDir(), "learning.json"), log.NewNop())
	require.NoError(t, err)
	return m
}

func TestRecordQueryMergesSimilarQuestions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)

	m.RecordQuery(ctx, "show revenue for region east", "SELECT * FROM orders WHERE region = 'east'", true)
	m.RecordQuery(ctx, "show revenue for region west", "SELECT * FROM orders WHERE region = 'west'", true)

	stats := m.Stats()
	assert.Equal(t, 1, stats["query_patterns"])
	assert.Equal(t, 2, stats["total_successes"])
}

func TestRecordQueryDistinctQuestions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)

	m.RecordQuery(ctx, "show revenue for region east", "SELECT 1", true)
	m.RecordQuery(ctx, "count distinct customers yesterday", "SELECT 2", false)

	stats := m.Stats()
	assert.Equal(t, 2, stats["query_patterns"])
	assert.Equal(t, 1, stats["total_successes"])
	assert.Equal(t, 1, stats["total_failures"])
}

func TestEnhanceQuestion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)

	t.Run("no patterns is identity", func(t *testing.T) {
		q := "show revenue for region east"
		assert.Equal(t, q, m.EnhanceQuestion(q))
	})

	m.RecordQuery(ctx, "show revenue for region east", "SELECT region, SUM(total) FROM orders GROUP BY region", true)

	t.Run("similar question gets learned context", func(t *testing.T) {
		got := m.EnhanceQuestion("show revenue for region north")

		assert.True(t, strings.HasPrefix(got, "=== Learned Patterns ===\n"))
		assert.Contains(t, got, "Similar question: show revenue for region east")
		assert.Contains(t, got, "SQL used: SELECT region, SUM(total) FROM orders GROUP BY region")
		assert.True(t, strings.HasSuffix(got, "\nOriginal question: show revenue for region north"))
	})

	t.Run("dissimilar question is identity", func(t *testing.T) {
		q := "list employee names"
		assert.Equal(t, q, m.EnhanceQuestion(q))
	})

	t.Run("failed patterns are not suggested", func(t *testing.T) {
		m.RecordQuery(ctx, "delete all customer records now", "DELETE FROM customers", false)
		q := "delete all customer records today"
		assert.Equal(t, q, m.EnhanceQuestion(q))
	})
}

func TestRecordToolUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newTestManager(t)

	m.RecordToolUsage(ctx, "run_sql", true)
	m.RecordToolUsage(ctx, "run_sql", false)
	m.RecordToolUsage(ctx, "run_sql", true)
	m.RecordToolUsage(ctx, "", true) // ignored

	stats := m.Stats()
	tools := stats["tool_usage"].(map[string]any)
	require.Contains(t, tools, "run_sql")

	usage := tools["run_sql"].(map[string]any)
	assert.Equal(t, 2, usage["success_count"])
	assert.Equal(t, 1, usage["failure_count"])
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "learning.json")

	m, err := NewManager(path, log.NewNop())
	require.NoError(t, err)
	m.RecordQuery(ctx, "show revenue for region east", "SELECT 1", true)
	m.RecordToolUsage(ctx, "run_sql", true)

	reloaded, err := NewManager(path, log.NewNop())
	require.NoError(t, err)

	stats := reloaded.Stats()
	assert.Equal(t, 1, stats["query_patterns"])
	tools := stats["tool_usage"].(map[string]any)
	assert.Contains(t, tools, "run_sql")
}

func TestExtractSQLPattern(t *testing.T) {
	t.Parallel()

	got := extractSQLPattern("SELECT * FROM orders WHERE region = 'east'  AND total > 100")
	assert.Equal(t, "select * from orders where region = '?' and total > ?", got)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, similarity("a b c", "a b c"))
	assert.Equal(t, 0.0, similarity("a b", "c d"))
	assert.Equal(t, 0.0, similarity("", "a"))
	assert.InDelta(t, 0.5, similarity("a b c", "a b d"), 0.001)
}
