// Package golden maintains the curated set of known-good question/SQL
// pairs with their usage track record.
//
// Golden queries are identified by a stable hash of (SQL, user), so adding
// the same pairing twice updates the existing entry instead of duplicating
// it. The store backs both the feedback loop (success/failure accounting
// after executions) and the manual curation API.
package golden

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/querylane/querylane/db"
)

var (
	// ErrNotFound indicates no golden query exists for the identifier.
	ErrNotFound = errors.New("golden query not found")

	// ErrEmptySQL indicates the pairing carries no statement.
	ErrEmptySQL = errors.New("empty SQL statement")
)

// Query is one golden question/SQL pairing.
type Query struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	SQL          string    `json:"sql"`
	User         string    `json:"user"`
	Tags         []string  `json:"tags"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ID derives the stable identifier of a (SQL, user) pairing.
func ID(sqlText, user string) string {
	sum := md5.Sum([]byte(sqlText + user))
	return hex.EncodeToString(sum[:])[:12]
}

// Store persists golden queries in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens the golden query database at dbPath and applies pending
// migrations.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening golden query database: %w", err)
	}
	if err := db.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating golden query database: %w", err)
	}
	return NewStoreWithDB(sqlDB, logger), nil
}

// NewStoreWithDB wraps an already opened and migrated database.
func NewStoreWithDB(sqlDB *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: sqlDB, logger: logger}
}

// Add records a golden query. An existing pairing is refreshed: question
// and tags are replaced, counters are kept.
func (s *Store) Add(ctx context.Context, question, sqlText, user string, tags []string) (*Query, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, ErrEmptySQL
	}
	if tags == nil {
		tags = []string{}
	}

	id := ID(sqlText, user)
	now := time.Now().UTC()

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO golden_queries (id, question, sql_text, user_id, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		id, question, sqlText, user, string(tagsJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("adding golden query: %w", err)
	}

	return s.Get(ctx, id)
}

// Get returns one golden query by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Query, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, question, sql_text, user_id, tags, success_count, failure_count, created_at, updated_at
		FROM golden_queries WHERE id = ?`, id)

	q, err := scanQuery(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting golden query: %w", err)
	}
	return q, nil
}

// List returns golden queries, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]*Query, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, sql_text, user_id, tags, success_count, failure_count, created_at, updated_at
		FROM golden_queries ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing golden queries: %w", err)
	}
	defer rows.Close()

	return collectQueries(rows)
}

// Search returns golden queries whose question or SQL contains the term,
// optionally restricted to a tag. An empty term matches everything.
func (s *Store) Search(ctx context.Context, term, tag string, limit int) ([]*Query, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, sql_text, user_id, tags, success_count, failure_count, created_at, updated_at
		FROM golden_queries
		WHERE (? = '' OR question LIKE ? OR sql_text LIKE ?)
		ORDER BY updated_at DESC`,
		term, "%"+term+"%", "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("searching golden queries: %w", err)
	}
	defer rows.Close()

	queries, err := collectQueries(rows)
	if err != nil {
		return nil, err
	}

	// Tag filtering happens here: tags live as a JSON array and substring
	// matching against it would produce false positives.
	var out []*Query
	for _, q := range queries {
		if tag != "" && !slices.Contains(q.Tags, tag) {
			continue
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Delete removes one golden query.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM golden_queries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting golden query: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting golden query: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// AddTags merges tags into an existing golden query.
func (s *Store) AddTags(ctx context.Context, id string, tags []string) (*Query, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || slices.Contains(q.Tags, tag) {
			continue
		}
		q.Tags = append(q.Tags, tag)
	}

	tagsJSON, err := json.Marshal(q.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE golden_queries SET tags = ?, updated_at = ? WHERE id = ?",
		string(tagsJSON), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("updating golden query tags: %w", err)
	}
	return s.Get(ctx, id)
}

// RecordSuccess increments the success counter of a golden query.
func (s *Store) RecordSuccess(ctx context.Context, id string) error {
	return s.bump(ctx, id, "success_count")
}

// RecordFailure increments the failure counter of a golden query.
func (s *Store) RecordFailure(ctx context.Context, id string) error {
	return s.bump(ctx, id, "failure_count")
}

func (s *Store) bump(ctx context.Context, id, column string) error {
	// column is one of two hardcoded names, never user input.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE golden_queries SET %s = %s + 1, updated_at = ? WHERE id = ?", column, column),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating golden query counters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating golden query counters: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Stats summarizes the golden query set.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	var total, successes, failures int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success_count), 0), COALESCE(SUM(failure_count), 0)
		FROM golden_queries`).Scan(&total, &successes, &failures)
	if err != nil {
		return nil, fmt.Errorf("counting golden queries: %w", err)
	}

	queries, err := s.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	byTag := make(map[string]int)
	for _, q := range queries {
		for _, tag := range q.Tags {
			byTag[tag]++
		}
	}

	return map[string]any{
		"total_queries":   total,
		"total_successes": successes,
		"total_failures":  failures,
		"by_tag":          byTag,
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing golden query database: %w", err)
	}
	return nil
}

func scanQuery(scan func(dest ...any) error) (*Query, error) {
	var q Query
	var tagsJSON string
	if err := scan(&q.ID, &q.Question, &q.SQL, &q.User, &tagsJSON,
		&q.SuccessCount, &q.FailureCount, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &q.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}
	return &q, nil
}

func collectQueries(rows *sql.Rows) ([]*Query, error) {
	var out []*Query
	for rows.Next() {
		q, err := scanQuery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning golden query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating golden queries: %w", err)
	}
	return out, nil
}
