// Package sqlrunner executes SQL statements against the analytical
// PostgreSQL database and returns plain tabular results.
package sqlrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmptySQL indicates an empty statement was submitted.
var ErrEmptySQL = errors.New("empty SQL statement")

// Table is a materialized query result.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Empty reports whether the result carries no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Runner executes statements on a shared connection pool.
type Runner struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects a runner to the database at dsn and verifies the connection.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Runner, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewWithPool(pool, logger), nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of the
// pool's lifecycle unless Close is used.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pool: pool, logger: logger}
}

// Run executes one statement and materializes the full result set.
func (r *Runner) Run(ctx context.Context, sql string) (*Table, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, ErrEmptySQL
	}

	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	table := &Table{Columns: make([]string, len(fields))}
	for i, field := range fields {
		table.Columns[i] = field.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	r.logger.Debug("query executed", "columns", len(table.Columns), "rows", len(table.Rows))
	return table, nil
}

// Ping verifies database connectivity, used by the readiness probe.
func (r *Runner) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (r *Runner) Close() {
	r.pool.Close()
}
