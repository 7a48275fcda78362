// internal/rules/worker.go
package rules

import (
	"log/slog"
	"time"

	"github.com/solatis/bidkeeper/internal/types"
	"github.com/sourcegraph/conc/panics"
)

// worker drains the dispatch queue until it is closed and empty or the
// engine's run context is cancelled.
type worker struct {
	id     int
	engine *Engine
	logger *slog.Logger
}

func (w *worker) run() {
	e := w.engine
	for {
		ev, ok := e.queue.Pop(e.runCtx.Done())
		if !ok {
			w.logger.Debug("worker exiting")
			return
		}
		e.metrics.setQueueDepth(e.queue.Len())
		w.process(ev)
	}
}

// process scans the current rule snapshot for ev and reports the first match.
// A panic in a predicate or the sink fails this event only; the worker keeps going.
func (w *worker) process(ev *types.Event) {
	e := w.engine
	start := time.Now()
	outcome := OutcomeUnmatched

	var pc panics.Catcher
	pc.Try(func() {
		rule := e.evaluator.FirstMatch(e.Rules(), ev)
		if rule == nil {
			return
		}
		outcome = OutcomeMatched
		e.metrics.observeMatch(string(rule.ID))

		m := Match{
			EventID:   ev.ID,
			RuleID:    rule.ID,
			WorkerID:  w.id,
			MatchedAt: time.Now().UTC(),
		}
		if err := e.sink.RecordMatch(e.runCtx, m); err != nil {
			e.metrics.observeSinkError()
			w.logger.Error("failed to record match",
				"event_id", ev.ID.String(),
				"rule_id", string(rule.ID),
				"error", err,
			)
		}
	})

	if r := pc.Recovered(); r != nil {
		outcome = OutcomeFailed
		w.logger.Error("bid request scan panicked",
			"event_id", ev.ID.String(),
			"panic", r.Value,
		)
	}

	e.metrics.observeEvent(outcome, time.Since(start))
}
