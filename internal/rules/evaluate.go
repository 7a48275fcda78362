// internal/rules/evaluate.go
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Rule evaluation orchestration.
 *
 * Evaluates a CompiledRule against an Event as an ordered conjunction of
 * predicates, and scans a rule snapshot for the first matching rule.
 *
 * Evaluation flow:
 *   1. Predicates run in Evaluator.Predicates order (DefaultPredicateOrder)
 *   2. First failing predicate stops evaluation (short-circuit AND)
 *   3. Rule matches iff every predicate passed
 *
 * Scan flow:
 *   1. Rules visited in registration order
 *   2. First matched rule wins; later rules are not evaluated
 *   3. No match is a normal outcome, not an error
 *
 * Observer: optional instrumentation invoked once per evaluated predicate.
 * Predicates skipped by short-circuit are never reported, which is what the
 * short-circuit tests count.
 */

// ErrNoPredicates indicates an evaluator was built without predicates.
// An empty conjunction would vacuously match every rule.
var ErrNoPredicates = errors.New("evaluator requires at least one predicate")

// Observer receives every predicate evaluation. Must be safe for concurrent use
// when shared between workers.
type Observer func(p Predicate, passed bool)

// Evaluator is the ordered short-circuit conjunction of predicates.
// Read-only after construction; one instance is shared by all workers.
type Evaluator struct {
	Predicates []Predicate
	Location   *time.Location // hour-of-day zone; nil means UTC
	Observer   Observer
}

// NewEvaluator builds an evaluator over order.
// A nil order selects DefaultPredicateOrder; an explicitly empty order fails.
func NewEvaluator(order []Predicate, loc *time.Location, observer Observer) (*Evaluator, error) {
	if order == nil {
		order = DefaultPredicateOrder
	}
	if len(order) == 0 {
		return nil, ErrNoPredicates
	}
	for _, p := range order {
		if !p.Valid() {
			return nil, fmt.Errorf("unknown predicate %d", int(p))
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	preds := make([]Predicate, len(order))
	copy(preds, order)
	return &Evaluator{
		Predicates: preds,
		Location:   loc,
		Observer:   observer,
	}, nil
}

// Evaluate reports whether every predicate accepts the rule/event pair.
func (e *Evaluator) Evaluate(rule *CompiledRule, event *types.Event) bool {
	for _, p := range e.Predicates {
		passed := p.Match(rule, event, e.Location)
		if e.Observer != nil {
			e.Observer(p, passed)
		}
		if !passed {
			return false
		}
	}
	return true
}

// FirstMatch scans rules in order and returns the first matching rule.
// Returns nil when no rule matches.
func (e *Evaluator) FirstMatch(rules []*CompiledRule, event *types.Event) *CompiledRule {
	for _, rule := range rules {
		if e.Evaluate(rule, event) {
			return rule
		}
	}
	return nil
}
