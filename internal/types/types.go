// Package types provides domain models shared across bidkeeper components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so the parsing boundary and the matching core can share
// them without pulling in transport or storage deps. ID utilities in ids.go
// import uuid but are isolated for the same reason.
package types

import (
	"fmt"
	"strconv"
)

// EventID identifies one bid request. Assigned monotonically by the producer.
type EventID uint64

// String renders the ID the way match records and logs show it.
func (id EventID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RuleID identifies one targeting rule, e.g. "Rule0".
// Assigned sequentially by the engine at registration time.
type RuleID string

// MatchID is a UUIDv7 identifying one recorded match notification.
type MatchID string

// Gender is the user gender dimension of a bid request.
// Wire values are the single letters used by bid request documents.
type Gender string

const (
	GenderMale   Gender = "m"
	GenderFemale Gender = "f"
)

// ParseGender converts a wire value to Gender.
// Unknown values fail with ErrInvalidEnum; nothing is coerced.
func ParseGender(s string) (Gender, error) {
	switch Gender(s) {
	case GenderMale, GenderFemale:
		return Gender(s), nil
	default:
		return "", fmt.Errorf("gender %q: %w", s, ErrInvalidEnum)
	}
}

// Valid reports whether g is one of the recognised genders.
func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

// Event is one incoming bid request.
// Immutable once constructed; handed from producer to queue to worker by pointer.
type Event struct {
	ID          EventID
	Gender      Gender
	Country     string
	AppCategory string
	Latitude    float64 // degrees
	Longitude   float64 // degrees
	DeviceModel string
	Timestamp   int64 // epoch milliseconds
}

// Resource limits enforced by rule compilation and request parsing.
const (
	// MaxSetValues caps each set-valued rule dimension.
	// Membership is a map lookup, so the limit bounds memory per rule, not scan time.
	MaxSetValues = 1024

	// MaxPathDepth prevents stack overflow during recursive path resolution.
	MaxPathDepth = 16

	// MaxBidRequestSize limits one serialized bid request.
	// Real bid requests are a few KB; anything near this is garbage or abuse.
	MaxBidRequestSize = 256 * 1024

	// HoursPerDay bounds the hour-of-day dimension (valid hours are 0..HoursPerDay-1).
	HoursPerDay = 24
)
