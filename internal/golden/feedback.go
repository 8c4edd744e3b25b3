package golden

import (
	"context"
	"errors"
)

// Record feeds one execution outcome into the golden set. Best-effort:
// failures are logged, never returned, so the request path cannot be
// disturbed by bookkeeping.
//
// A successful execution of an unknown pairing is auto-added with the
// "auto" tag; known pairings only get their counters bumped so curated
// questions and tags stay untouched.
func (s *Store) Record(ctx context.Context, question, sqlText, user string, success bool) {
	id := ID(sqlText, user)

	if !success {
		if err := s.RecordFailure(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to record golden query failure", "id", id, "error", err)
		}
		return
	}

	if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
		if _, err := s.Add(ctx, question, sqlText, user, []string{"auto"}); err != nil {
			s.logger.Warn("failed to auto-add golden query", "error", err)
			return
		}
	} else if err != nil {
		s.logger.Warn("failed to look up golden query", "id", id, "error", err)
		return
	}

	if err := s.RecordSuccess(ctx, id); err != nil {
		s.logger.Warn("failed to record golden query success", "id", id, "error", err)
	}
}
