// internal/rules/predicates.go
package rules

import (
	"time"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Single-dimension predicates.
 *
 * Six predicates, each testing one attribute of an event against the same
 * dimension of a rule:
 *   - gender: equality
 *   - country, app category, device model: set membership
 *   - hour of day: event timestamp converted to an hour in the evaluator's
 *     location, then set membership
 *   - location: great-circle distance <= radius (inclusive)
 *
 * Why a closed enum: membership and order are fixed, so a tagged value with a
 * switch keeps dispatch cheap on the hot path and makes the order a plain
 * slice literal. Predicates hold no state and are safe for concurrent use.
 */

// Predicate identifies one attribute dimension.
type Predicate int

const (
	PredicateGender Predicate = iota
	PredicateCountry
	PredicateAppCategory
	PredicateDeviceModel
	PredicateHourOfDay
	PredicateLocation
)

// DefaultPredicateOrder is the fixed evaluation order every worker uses:
// gender, country, category, device, hour, location.
var DefaultPredicateOrder = []Predicate{
	PredicateGender,
	PredicateCountry,
	PredicateAppCategory,
	PredicateDeviceModel,
	PredicateHourOfDay,
	PredicateLocation,
}

// String returns the predicate name used in logs and metrics.
func (p Predicate) String() string {
	switch p {
	case PredicateGender:
		return "gender"
	case PredicateCountry:
		return "country"
	case PredicateAppCategory:
		return "app_category"
	case PredicateDeviceModel:
		return "device_model"
	case PredicateHourOfDay:
		return "hour_of_day"
	case PredicateLocation:
		return "location"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the six known predicates.
func (p Predicate) Valid() bool {
	return p >= PredicateGender && p <= PredicateLocation
}

// Match tests one dimension of rule against event.
// loc is only consulted by PredicateHourOfDay. Unknown predicates never match.
func (p Predicate) Match(rule *CompiledRule, event *types.Event, loc *time.Location) bool {
	switch p {
	case PredicateGender:
		return rule.Gender == event.Gender
	case PredicateCountry:
		return rule.Countries.Contains(event.Country)
	case PredicateAppCategory:
		return rule.AppCategories.Contains(event.AppCategory)
	case PredicateDeviceModel:
		return rule.DeviceModels.Contains(event.DeviceModel)
	case PredicateHourOfDay:
		return rule.Hours.Contains(HourOfDay(event.Timestamp, loc))
	case PredicateLocation:
		return WithinRadius(event.Latitude, event.Longitude, rule.Latitude, rule.Longitude, rule.RadiusKm)
	default:
		return false
	}
}

// HourOfDay converts an epoch-millisecond timestamp to the hour (0-23) in loc.
// A nil loc means UTC.
func HourOfDay(epochMillis int64, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(epochMillis).In(loc).Hour()
}
