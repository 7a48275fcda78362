// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/bidkeeper/internal/core/logging"
	"github.com/solatis/bidkeeper/internal/types"
	"github.com/sourcegraph/conc"
)

/*
 * Matching engine.
 *
 * Owns the rule collection, the dispatch queue and the worker pool.
 *
 * Lifecycle: Unstarted -> Running -> Stopping -> Stopped. No restart; a
 * stopped engine is discarded and a fresh one built.
 *
 * Rule collection: copy-on-write slice behind atomic.Pointer. AddRule copies,
 * appends and swaps under rulesMu, so ID order always equals slice order.
 * Workers load the pointer once per event and scan that snapshot; a rule added
 * mid-scan is seen from the next event on.
 *
 * Shutdown: Stop closes the queue so workers drain what was already accepted,
 * then exit on the closed channel. If the caller's context ends first, the run
 * context is cancelled and workers leave after their current scan.
 */

// Defaults match the historical deployment sizing.
const (
	DefaultWorkers   = 5
	DefaultQueueSize = 1000
)

// QueuePolicy selects Submit behaviour on a full dispatch queue.
type QueuePolicy int

const (
	// QueuePolicyBlock makes Submit wait for a free slot (backpressure).
	QueuePolicyBlock QueuePolicy = iota
	// QueuePolicyReject makes Submit fail fast with types.ErrQueueFull.
	QueuePolicyReject
)

// ParseQueuePolicy parses "block" or "reject".
func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "":
		return QueuePolicyBlock, nil
	case "reject":
		return QueuePolicyReject, nil
	default:
		return 0, fmt.Errorf("queue policy %q: %w", s, types.ErrInvalidEnum)
	}
}

func (p QueuePolicy) String() string {
	if p == QueuePolicyReject {
		return "reject"
	}
	return "block"
}

// Config sizes the engine.
type Config struct {
	Workers      int
	QueueSize    int
	QueuePolicy  QueuePolicy
	HourLocation *time.Location // zone for the hour-of-day predicate; nil means UTC
}

// DefaultConfig returns 5 workers, a 1000-slot blocking queue and UTC hours.
func DefaultConfig() Config {
	return Config{
		Workers:      DefaultWorkers,
		QueueSize:    DefaultQueueSize,
		QueuePolicy:  QueuePolicyBlock,
		HourLocation: time.UTC,
	}
}

// State is the engine lifecycle state.
type State int32

const (
	StateUnstarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver installs per-predicate instrumentation on the shared evaluator.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine matches submitted events against registered rules.
type Engine struct {
	cfg      Config
	sink     MatchSink
	logger   *slog.Logger
	metrics  *Metrics
	observer Observer

	lifecycleMu sync.Mutex
	state       atomic.Int32

	rulesMu sync.Mutex
	ruleSeq uint64
	rules   atomic.Pointer[[]*CompiledRule]

	queue     *dispatchQueue
	evaluator *Evaluator
	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
}

// NewEngine creates an unstarted engine. A nil sink discards matches.
// Non-positive Workers or QueueSize fall back to the defaults.
func NewEngine(cfg Config, sink MatchSink, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HourLocation == nil {
		cfg.HourLocation = time.UTC
	}
	if sink == nil {
		sink = discardSink{}
	}

	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	empty := make([]*CompiledRule, 0)
	e.rules.Store(&empty)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// AddRule validates rule, assigns the next sequential ID and publishes it.
// Valid while unstarted or running.
func (e *Engine) AddRule(rule types.Rule) (types.RuleID, error) {
	if s := e.State(); s == StateStopping || s == StateStopped {
		return "", types.ErrEngineStopped
	}

	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	rule.ID = types.FormatRuleID(e.ruleSeq)
	compiled, err := Compile(&rule)
	if err != nil {
		return "", err
	}
	e.ruleSeq++

	current := *e.rules.Load()
	next := make([]*CompiledRule, len(current), len(current)+1)
	copy(next, current)
	next = append(next, compiled)
	e.rules.Store(&next)

	e.metrics.setRulesLoaded(len(next))
	e.logger.Debug("rule registered", "rule_id", compiled.ID, "rules", len(next))
	return compiled.ID, nil
}

// Rules returns the current rule snapshot in registration order.
// The returned slice must not be modified.
func (e *Engine) Rules() []*CompiledRule {
	return *e.rules.Load()
}

// Start allocates the queue and evaluator and launches the workers.
func (e *Engine) Start() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	switch e.State() {
	case StateRunning:
		return types.ErrEngineAlreadyStarted
	case StateStopping, StateStopped:
		return types.ErrEngineStopped
	}

	evaluator, err := NewEvaluator(DefaultPredicateOrder, e.cfg.HourLocation, e.observer)
	if err != nil {
		return err
	}

	e.evaluator = evaluator
	e.queue = newDispatchQueue(e.cfg.QueueSize)
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.done = make(chan struct{})

	var wg conc.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		w := &worker{id: i, engine: e, logger: e.logger.With("worker", i)}
		wg.Go(w.run)
	}
	go func() {
		wg.Wait()
		close(e.done)
	}()

	e.state.Store(int32(StateRunning))
	e.logger.Info("engine started",
		"workers", e.cfg.Workers,
		"queue_size", e.cfg.QueueSize,
		"queue_policy", e.cfg.QueuePolicy.String(),
		"hour_zone", e.cfg.HourLocation.String(),
		"rules", len(e.Rules()),
	)
	return nil
}

// Submit enqueues ev for matching.
// With QueuePolicyBlock it waits for a free slot or ctx; with QueuePolicyReject
// it fails with types.ErrQueueFull. Fails with types.ErrEngineNotRunning unless running.
func (e *Engine) Submit(ctx context.Context, ev *types.Event) error {
	if e.cfg.QueuePolicy == QueuePolicyReject {
		return e.TrySubmit(ev)
	}
	if e.State() != StateRunning {
		return types.ErrEngineNotRunning
	}

	if err := e.queue.Push(ctx, ev); err != nil {
		if err == types.ErrQueueClosed {
			return types.ErrEngineNotRunning
		}
		return err
	}
	e.metrics.setQueueDepth(e.queue.Len())
	return nil
}

// TrySubmit enqueues ev without blocking regardless of policy.
func (e *Engine) TrySubmit(ev *types.Event) error {
	if e.State() != StateRunning {
		return types.ErrEngineNotRunning
	}

	if err := e.queue.TryPush(ev); err != nil {
		switch err {
		case types.ErrQueueClosed:
			return types.ErrEngineNotRunning
		case types.ErrQueueFull:
			e.metrics.observeRejected()
		}
		return err
	}
	e.metrics.setQueueDepth(e.queue.Len())
	return nil
}

// Stop refuses new events, lets workers drain the queue and waits for them to exit.
// If ctx ends before the drain completes, workers abandon the remaining events
// and Stop still waits for them before returning the context error.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	switch e.State() {
	case StateUnstarted:
		e.lifecycleMu.Unlock()
		return types.ErrEngineNotRunning
	case StateStopping, StateStopped:
		e.lifecycleMu.Unlock()
		return types.ErrEngineStopped
	}
	e.state.Store(int32(StateStopping))
	e.lifecycleMu.Unlock()

	e.logger.Info("engine stopping", "pending", e.queue.Len())
	e.queue.Close()

	var err error
	select {
	case <-e.done:
	case <-ctx.Done():
		e.cancelRun()
		<-e.done
		err = fmt.Errorf("stop interrupted, pending bid requests abandoned: %w", ctx.Err())
	}
	e.cancelRun()

	e.metrics.setQueueDepth(e.queue.Len())
	e.state.Store(int32(StateStopped))
	e.logger.Info("engine stopped")
	return err
}
