package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/solatis/bidkeeper/internal/rules"
	"github.com/solatis/bidkeeper/internal/types"
)

// MatchRecord is one persisted match notification.
type MatchRecord struct {
	MatchID   types.MatchID `db:"match_id"`
	EventID   int64         `db:"event_id"`
	RuleID    types.RuleID  `db:"rule_id"`
	WorkerID  int           `db:"worker_id"`
	MatchedAt int64         `db:"matched_at_ms"`
}

// Time returns MatchedAt as a UTC time.
func (r MatchRecord) Time() time.Time {
	return time.UnixMilli(r.MatchedAt).UTC()
}

// MatchStore persists match notifications. It implements rules.MatchSink and
// is called concurrently by every engine worker.
type MatchStore struct {
	queries *Queries
}

var _ rules.MatchSink = (*MatchStore)(nil)

// NewMatchStore wraps loaded queries.
func NewMatchStore(queries *Queries) *MatchStore {
	return &MatchStore{queries: queries}
}

// RecordMatch inserts m under a fresh UUIDv7 match ID.
func (s *MatchStore) RecordMatch(ctx context.Context, m rules.Match) error {
	// SQLite integers are signed 64-bit
	if uint64(m.EventID) > math.MaxInt64 {
		return fmt.Errorf("event id %d out of range for storage", m.EventID)
	}

	matchedAt := m.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now()
	}

	_, err := s.queries.Exec(ctx, "insert-match",
		string(types.NewMatchID()),
		int64(m.EventID),
		string(m.RuleID),
		m.WorkerID,
		matchedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert match for event %s: %w", m.EventID, err)
	}
	return nil
}

// ListMatches returns up to limit matches in recording order.
// An empty ruleID lists matches for every rule.
func (s *MatchStore) ListMatches(ctx context.Context, ruleID types.RuleID, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var records []MatchRecord
	var err error
	if ruleID == "" {
		err = s.queries.Select(ctx, "list-matches", &records, limit)
	} else {
		err = s.queries.Select(ctx, "list-matches-by-rule", &records, string(ruleID), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return records, nil
}

// CountMatches returns the number of stored matches.
func (s *MatchStore) CountMatches(ctx context.Context) (int64, error) {
	var n int64
	if err := s.queries.Get(ctx, "count-matches", &n); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}
