// Package resultstore materializes query results as CSV artifacts and
// answers freshness probes over them.
//
// File names are content-addressed from the statement and creation time, so
// re-running a query never overwrites an earlier artifact. Freshness is how
// the side-effect pipeline decides whether the agent already produced a
// result during the current request: only files younger than the window
// count.
package resultstore

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/querylane/querylane/internal/sqlrunner"
)

// ErrNilTable indicates there is no result to materialize.
var ErrNilTable = errors.New("nil result table")

// filePrefix is the result artifact naming scheme. Response prose mentions
// these names, see signal.ExtractResultFilename.
const filePrefix = "query_results_"

// Store manages result artifacts in a single directory.
type Store struct {
	dir     string
	baseURL string
	window  time.Duration
	logger  *slog.Logger
}

// NewStore creates a store rooted at dir. Artifacts are served under
// baseURL; freshness probes accept files younger than window.
func NewStore(dir, baseURL string, window time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		window:  window,
		logger:  logger,
	}, nil
}

// Materialize writes the table as a CSV artifact and returns its file name.
func (s *Store) Materialize(sql string, table *sqlrunner.Table) (string, error) {
	if table == nil {
		return "", ErrNilTable
	}

	name := s.fileName(sql)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating result file: %w", err)
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(table.Columns)
	for _, row := range table.Rows {
		if writeErr != nil {
			break
		}
		record := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				continue
			}
			record[i] = fmt.Sprint(v)
		}
		writeErr = w.Write(record)
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}

	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("writing result file: %w", writeErr)
	}

	s.logger.Info("result materialized", "file", name, "rows", len(table.Rows))
	return name, nil
}

// LatestFresh returns the newest result artifact younger than the
// freshness window. ok is false when none qualifies.
func (s *Store) LatestFresh() (name string, ok bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to scan results directory", "dir", s.dir, "error", err)
		return "", false
	}

	cutoff := time.Now().Add(-s.window)
	var newest time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			continue
		}
		if name == "" || info.ModTime().After(newest) {
			name = entry.Name()
			newest = info.ModTime()
		}
	}
	return name, name != ""
}

// Exists reports whether the named artifact is present.
func (s *Store) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Path returns the on-disk location of an artifact. The name is reduced to
// its base so callers cannot traverse out of the store directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// URL maps an artifact name to its public URL.
func (s *Store) URL(name string) string {
	return s.baseURL + "/" + filepath.Base(name)
}

// Dir returns the store directory, for static file serving.
func (s *Store) Dir() string {
	return s.dir
}

// ReadTable loads an artifact back into a table. Values come back as
// strings; numeric interpretation is the consumer's concern.
func (s *Store) ReadTable(name string) (*sqlrunner.Table, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}
	if len(records) == 0 {
		return &sqlrunner.Table{}, nil
	}

	table := &sqlrunner.Table{Columns: records[0]}
	for _, record := range records[1:] {
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func (s *Store) fileName(sql string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", sql, time.Now().UnixNano())))
	return filePrefix + hex.EncodeToString(sum[:])[:8] + ".csv"
}
