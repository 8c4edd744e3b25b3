// Package learning accumulates feedback from executed queries and feeds it
// back into question enhancement.
//
// Every SQL execution outcome is recorded as a query pattern (question and
// statement with literals blanked out) plus per-tool usage counters. When a
// new question resembles a previously successful pattern, the pattern is
// prepended to the question so the agent sees what worked before.
//
// Everything here is best-effort: recording failures are logged and never
// surface to the request path.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// similarityThreshold is the minimum Jaccard similarity between question
// word sets for two questions to count as the same pattern.
const similarityThreshold = 0.5

// maxEnhancePatterns caps how many learned patterns are prepended to a
// question.
const maxEnhancePatterns = 2

// QueryPattern is one learned question/SQL pairing with its track record.
type QueryPattern struct {
	QuestionPattern string    `json:"question_pattern"`
	SQLPattern      string    `json:"sql_pattern"`
	Question        string    `json:"question"`
	SQL             string    `json:"sql"`
	SuccessCount    int       `json:"success_count"`
	FailureCount    int       `json:"failure_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsed        time.Time `json:"last_used"`
}

// ToolUsage tracks outcome counters for one tool.
type ToolUsage struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used"`
}

// state is the persisted shape of the pattern file.
type state struct {
	QueryPatterns []QueryPattern       `json:"query_patterns"`
	ToolUsage     map[string]ToolUsage `json:"tool_usage"`
}

// Manager is the learning feedback sink. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	state state

	path     string
	fileLock *flock.Flock
	logger   *slog.Logger
}

// NewManager creates a manager persisting to the pattern file at path. A
// missing or malformed file is tolerated and the manager starts empty.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating learning directory: %w", err)
	}

	m := &Manager{
		state:    state{ToolUsage: make(map[string]ToolUsage)},
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger,
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &m.state); err != nil {
			logger.Warn("learning pattern file corrupt, starting empty", "path", path, "error", err)
			m.state = state{ToolUsage: make(map[string]ToolUsage)}
		}
	} else if !os.IsNotExist(err) {
		logger.Warn("learning pattern file unreadable, starting empty", "path", path, "error", err)
	}
	if m.state.ToolUsage == nil {
		m.state.ToolUsage = make(map[string]ToolUsage)
	}
	return m, nil
}

// RecordQuery records one question/SQL execution outcome. A question
// similar to an existing pattern updates that pattern's counters instead
// of creating a new one.
func (m *Manager) RecordQuery(ctx context.Context, question, sql string, success bool) {
	qPattern := extractQuestionPattern(question)
	sPattern := extractSQLPattern(sql)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.QueryPatterns {
		p := &m.state.QueryPatterns[i]
		if similarity(p.QuestionPattern, qPattern) <= similarityThreshold {
			continue
		}
		if success {
			p.SuccessCount++
			// Keep the freshest working example for enhancement.
			p.Question = question
			p.SQL = sql
		} else {
			p.FailureCount++
		}
		p.LastUsed = now
		m.persistLocked(ctx)
		return
	}

	pattern := QueryPattern{
		QuestionPattern: qPattern,
		SQLPattern:      sPattern,
		Question:        question,
		SQL:             sql,
		CreatedAt:       now,
		LastUsed:        now,
	}
	if success {
		pattern.SuccessCount = 1
	} else {
		pattern.FailureCount = 1
	}
	m.state.QueryPatterns = append(m.state.QueryPatterns, pattern)
	m.persistLocked(ctx)
}

// RecordToolUsage records one tool invocation outcome.
func (m *Manager) RecordToolUsage(ctx context.Context, tool string, success bool) {
	if tool == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	usage := m.state.ToolUsage[tool]
	if success {
		usage.SuccessCount++
	} else {
		usage.FailureCount++
	}
	usage.LastUsed = time.Now().UTC()
	m.state.ToolUsage[tool] = usage
	m.persistLocked(ctx)
}

// EnhanceQuestion prepends learned patterns similar to the question. The
// question is returned unchanged when nothing similar succeeded before.
func (m *Manager) EnhanceQuestion(question string) string {
	qPattern := extractQuestionPattern(question)

	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		pattern QueryPattern
		score   float64
	}
	var matches []scored
	for _, p := range m.state.QueryPatterns {
		if p.SuccessCount == 0 {
			continue
		}
		if s := similarity(p.QuestionPattern, qPattern); s > similarityThreshold {
			matches = append(matches, scored{pattern: p, score: s})
		}
	}
	if len(matches) == 0 {
		return question
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > maxEnhancePatterns {
		matches = matches[:maxEnhancePatterns]
	}

	var b strings.Builder
	b.WriteString("=== Learned Patterns ===\n")
	for _, match := range matches {
		b.WriteString("Similar question: ")
		b.WriteString(match.pattern.Question)
		b.WriteString("\nSQL used: ")
		b.WriteString(match.pattern.SQL)
		b.WriteString("\n")
	}
	b.WriteString("\nOriginal question: ")
	b.WriteString(question)
	return b.String()
}

// Stats summarizes the learned state for the stats endpoint.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	successes, failures := 0, 0
	for _, p := range m.state.QueryPatterns {
		successes += p.SuccessCount
		failures += p.FailureCount
	}

	tools := make(map[string]any, len(m.state.ToolUsage))
	for name, usage := range m.state.ToolUsage {
		tools[name] = map[string]any{
			"success_count": usage.SuccessCount,
			"failure_count": usage.FailureCount,
			"last_used":     usage.LastUsed,
		}
	}

	return map[string]any{
		"query_patterns":  len(m.state.QueryPatterns),
		"total_successes": successes,
		"total_failures":  failures,
		"tool_usage":      tools,
	}
}

// persistLocked rewrites the pattern file. Caller must hold m.mu. Errors
// are logged only.
func (m *Manager) persistLocked(ctx context.Context) {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		m.logger.Error("failed to encode learning patterns", "error", err)
		return
	}

	locked, err := m.fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		m.logger.Warn("failed to acquire learning file lock", "path", m.path, "error", err)
		return
	}
	defer func() {
		if err := m.fileLock.Unlock(); err != nil {
			m.logger.Warn("failed to release learning file lock", "path", m.path, "error", err)
		}
	}()

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		m.logger.Error("failed to write learning patterns", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		m.logger.Error("failed to replace learning patterns", "path", m.path, "error", err)
	}
}

var (
	sqlStringLiteralRe = regexp.MustCompile(`'[^']*'`)
	numberRe           = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	spaceRe            = regexp.MustCompile(`\s+`)
	punctRe            = regexp.MustCompile(`[^\w\s?]`)
)

// extractSQLPattern blanks literals out of a statement so structurally
// identical queries share one pattern.
func extractSQLPattern(sql string) string {
	p := sqlStringLiteralRe.ReplaceAllString(sql, "'?'")
	p = numberRe.ReplaceAllString(p, "?")
	p = spaceRe.ReplaceAllString(p, " ")
	return strings.TrimSpace(strings.ToLower(p))
}

// extractQuestionPattern normalizes a question for similarity comparison.
func extractQuestionPattern(question string) string {
	p := strings.ToLower(question)
	p = numberRe.ReplaceAllString(p, "?")
	p = punctRe.ReplaceAllString(p, "")
	p = spaceRe.ReplaceAllString(p, " ")
	return strings.TrimSpace(p)
}

// similarity computes Jaccard similarity between the word sets of two
// normalized patterns.
func similarity(a, b string) float64 {
	aWords := wordSet(a)
	bWords := wordSet(b)
	if len(aWords) == 0 || len(bWords) == 0 {
		return 0
	}

	intersection := 0
	for w := range aWords {
		if _, ok := bWords[w]; ok {
			intersection++
		}
	}
	union := len(aWords) + len(bWords) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
