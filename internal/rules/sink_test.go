// internal/rules/sink_test.go
package rules

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func sampleMatch() Match {
	return Match{EventID: 7, RuleID: "Rule3", WorkerID: 2, MatchedAt: time.Unix(0, 0).UTC()}
}

func TestLogSink_RecordMatch(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, NewLogSink(logger).RecordMatch(context.Background(), sampleMatch()))

	out := buf.String()
	assert.Contains(t, out, "bid request matched")
	assert.Contains(t, out, "event_id=7")
	assert.Contains(t, out, "rule_id=Rule3")
	assert.Contains(t, out, "worker=2")
}

func TestLogSink_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	require.NoError(t, NewLogSink(logger).RecordMatch(context.Background(), sampleMatch()))
	assert.Empty(t, buf.String())
}

func TestMultiSink_CallsAllAndCombinesErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	var calls []string
	sink := MultiSink{
		SinkFunc(func(context.Context, Match) error { calls = append(calls, "a"); return errA }),
		SinkFunc(func(context.Context, Match) error { calls = append(calls, "ok"); return nil }),
		SinkFunc(func(context.Context, Match) error { calls = append(calls, "b"); return errB }),
	}

	err := sink.RecordMatch(context.Background(), sampleMatch())
	require.Error(t, err)
	assert.Equal(t, []string{"a", "ok", "b"}, calls)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestMultiSink_Empty(t *testing.T) {
	assert.NoError(t, MultiSink(nil).RecordMatch(context.Background(), sampleMatch()))
}
