// Package conversation maintains scope-isolated conversation history with
// snapshot persistence.
//
// A scope is the normalized (user, conversation) pair; each scope holds a
// bounded FIFO of turns. The store serializes all access through one
// store-wide mutex and rewrites a full JSON snapshot of every scope after
// each successful mutation. In-memory state stays authoritative: a failed
// snapshot write is logged, never surfaced to callers.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Store is the conversation history store. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	scopes map[Key][]Turn

	maxTurns int
	path     string
	fileLock *flock.Flock
	logger   *slog.Logger
}

// NewStore creates a store persisting to the snapshot file at path, keeping
// at most maxTurns turns per scope. An existing snapshot is loaded; a
// missing or unreadable one is tolerated and the store starts empty. A
// corrupt snapshot is renamed aside with a .corrupt suffix so the next
// write does not destroy it.
func NewStore(path string, maxTurns int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", maxTurns)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	s := &Store{
		scopes:   make(map[Key][]Turn),
		maxTurns: maxTurns,
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   logger,
	}
	s.load()
	return s, nil
}

// load reads the snapshot file into memory. Never fails: any problem is
// logged and the store starts empty.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("conversation snapshot unreadable, starting empty",
				"path", s.path, "error", err)
		}
		return
	}

	var snapshot map[string][]Turn
	if err := json.Unmarshal(data, &snapshot); err != nil {
		corrupt := s.path + ".corrupt"
		if renameErr := os.Rename(s.path, corrupt); renameErr != nil {
			s.logger.Warn("failed to move corrupt snapshot aside",
				"path", s.path, "error", renameErr)
		}
		s.logger.Warn("conversation snapshot corrupt, starting empty",
			"path", s.path, "moved_to", corrupt, "error", err)
		return
	}

	count := 0
	for _, turns := range snapshot {
		for _, turn := range turns {
			key := turn.Scope()
			s.scopes[key] = append(s.scopes[key], turn)
			count++
		}
	}
	for key := range s.scopes {
		sort.SliceStable(s.scopes[key], func(i, j int) bool {
			return s.scopes[key][i].Timestamp.Before(s.scopes[key][j].Timestamp)
		})
		if excess := len(s.scopes[key]) - s.maxTurns; excess > 0 {
			s.scopes[key] = s.scopes[key][excess:]
		}
	}
	s.logger.Info("conversation snapshot loaded",
		"path", s.path, "scopes", len(s.scopes), "turns", count)
}

// AppendTurn records a completed exchange in the scope addressed by the raw
// user/conversation inputs. The oldest turn is evicted once the scope is at
// its bound. The turn is visible to readers even if the snapshot write fails.
func (s *Store) AppendTurn(ctx context.Context, user, conversation, question, response, username string, metadata map[string]any) Turn {
	key := Normalize(user, conversation)
	turn := Turn{
		User:         key.User,
		Conversation: key.Conversation,
		Username:     strings.TrimSpace(username),
		Timestamp:    time.Now().UTC(),
		Question:     question,
		Response:     response,
		Metadata:     metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.scopes[key], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.scopes[key] = turns

	s.persistLocked(ctx)
	return turn
}

// RecentTurns returns the most recent turns, newest first. Both inputs set
// selects one scope; an empty input acts as a wildcard, so only user selects
// every conversation of that user and neither selects everything. Inputs are
// raw here: empty means "any", not the sentinel scope.
func (s *Store) RecentTurns(user, conversation string, limit int) []Turn {
	if limit <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.collectLocked(strings.TrimSpace(user), strings.TrimSpace(conversation))
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// FilteredTurns returns recent turns matching every metadata pair and at
// least one keyword. Keyword matching is a case-insensitive substring test
// against the question and response text. The candidate window is inflated
// to limit*50 recent turns before filtering so sparse matches are still found.
func (s *Store) FilteredTurns(user, conversation string, keywords []string, metadataFilter map[string]any, limit int) []Turn {
	if limit <= 0 {
		return nil
	}

	candidates := s.RecentTurns(user, conversation, limit*50)

	var out []Turn
	for _, turn := range candidates {
		if !matchesMetadata(turn, metadataFilter) {
			continue
		}
		if !matchesKeywords(turn, keywords) {
			continue
		}
		out = append(out, turn)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Clear removes history. Both inputs set clears one scope; only user clears
// every conversation of that user; neither clears everything. Returns the
// number of scopes removed.
func (s *Store) Clear(ctx context.Context, user, conversation string) int {
	user = strings.TrimSpace(user)
	conversation = strings.TrimSpace(conversation)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.scopes {
		if user != "" && key.User != user {
			continue
		}
		if conversation != "" && key.Conversation != conversation {
			continue
		}
		delete(s.scopes, key)
		removed++
	}

	// Persist even when nothing matched so the snapshot always reflects
	// the post-clear state.
	s.persistLocked(ctx)
	return removed
}

// Len reports the total number of stored turns across all scopes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, turns := range s.scopes {
		n += len(turns)
	}
	return n
}

// collectLocked gathers turns from all scopes matching the wildcard filter.
// Caller must hold s.mu.
func (s *Store) collectLocked(user, conversation string) []Turn {
	var out []Turn
	for key, turns := range s.scopes {
		if user != "" && key.User != user {
			continue
		}
		if conversation != "" && key.Conversation != conversation {
			continue
		}
		out = append(out, turns...)
	}
	return out
}

// persistLocked rewrites the full snapshot file. Caller must hold s.mu.
// Errors are logged only: the in-memory state remains authoritative and a
// later mutation retries the write.
func (s *Store) persistLocked(ctx context.Context) {
	snapshot := make(map[string][]Turn, len(s.scopes))
	for key, turns := range s.scopes {
		snapshot[key.id()] = turns
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode conversation snapshot", "error", err)
		return
	}

	locked, err := s.fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		s.logger.Warn("failed to acquire snapshot file lock", "path", s.path, "error", err)
		return
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("failed to release snapshot file lock", "path", s.path, "error", err)
		}
	}()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Error("failed to write conversation snapshot", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("failed to replace conversation snapshot", "path", s.path, "error", err)
	}
}

func matchesMetadata(turn Turn, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for k, want := range filter {
		got, ok := turn.Metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func matchesKeywords(turn Turn, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(turn.Question + " " + turn.Response)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
