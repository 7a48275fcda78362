package types

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// RuleIDPrefix is prepended to the registration sequence number.
const RuleIDPrefix = "Rule"

// FormatRuleID builds the identifier for the n-th registered rule.
func FormatRuleID(seq uint64) RuleID {
	return RuleID(RuleIDPrefix + strconv.FormatUint(seq, 10))
}

// ParseRuleID validates a rule identifier and returns its sequence number.
func ParseRuleID(s string) (uint64, error) {
	rest, ok := strings.CutPrefix(s, RuleIDPrefix)
	if !ok || rest == "" {
		return 0, fmt.Errorf("rule id %q: missing %q prefix", s, RuleIDPrefix)
	}
	seq, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rule id %q: %w", s, err)
	}
	return seq, nil
}

// EventIDSequence hands out monotonically increasing event IDs starting at 0.
// Safe for concurrent use; the zero value is ready.
type EventIDSequence struct {
	next atomic.Uint64
}

// Next returns the next event ID.
func (s *EventIDSequence) Next() EventID {
	return EventID(s.next.Add(1) - 1)
}

// NewMatchID generates a UUIDv7 match identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewMatchID() MatchID {
	return MatchID(uuid.Must(uuid.NewV7()).String())
}
