// internal/rules/sink.go
package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/solatis/bidkeeper/internal/types"
	"go.uber.org/multierr"
)

// Match is the notification emitted when an event matches a rule.
// It is the only externally visible output of the engine.
type Match struct {
	EventID   types.EventID
	RuleID    types.RuleID
	WorkerID  int
	MatchedAt time.Time
}

// MatchSink receives match notifications from workers.
// Implementations must be safe for concurrent use; every worker calls the same sink.
type MatchSink interface {
	RecordMatch(ctx context.Context, m Match) error
}

// SinkFunc adapts a function to MatchSink.
type SinkFunc func(ctx context.Context, m Match) error

// RecordMatch calls f.
func (f SinkFunc) RecordMatch(ctx context.Context, m Match) error {
	return f(ctx, m)
}

// LogSink writes one structured log record per match.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLogSink logs matches at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger, Level: slog.LevelInfo}
}

// RecordMatch logs the match.
func (s *LogSink) RecordMatch(ctx context.Context, m Match) error {
	s.Logger.LogAttrs(ctx, s.Level, "bid request matched",
		slog.String("event_id", m.EventID.String()),
		slog.String("rule_id", string(m.RuleID)),
		slog.Int("worker", m.WorkerID),
	)
	return nil
}

// MultiSink fans a match out to every sink in order.
// All sinks are called even if one fails; errors are combined.
type MultiSink []MatchSink

// RecordMatch forwards m to each sink.
func (ms MultiSink) RecordMatch(ctx context.Context, m Match) error {
	var err error
	for _, s := range ms {
		err = multierr.Append(err, s.RecordMatch(ctx, m))
	}
	return err
}

// discardSink drops matches; used when the engine is built without a sink.
type discardSink struct{}

func (discardSink) RecordMatch(context.Context, Match) error { return nil }
