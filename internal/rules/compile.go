// internal/rules/compile.go
package rules

import (
	"fmt"
	"math"

	"github.com/solatis/bidkeeper/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles types.Rule to CompiledRule with set indexes and validated ranges.
 * Workers only ever see CompiledRule values, which are never mutated after
 * Compile returns, so concurrent scans need no locking.
 *
 * Compilation workflow:
 *   1. Validate gender enum and numeric ranges (radius, hours, coordinates)
 *   2. Enforce MaxSetValues per set-valued dimension
 *   3. Build membership sets (map for strings, [24]bool for hours)
 *
 * Empty sets: a nil or empty slice compiles to an empty, non-nil set. The
 * dimension then rejects every event. This is deliberate: an unset dimension
 * never widens a rule.
 */

// StringSet is an immutable membership set for one string dimension.
type StringSet map[string]struct{}

// Contains reports whether v is a member.
func (s StringSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// HourSet is the hour-of-day dimension; index is the hour.
type HourSet [types.HoursPerDay]bool

// Contains reports whether hour is a member. Out-of-range hours are never members.
func (s *HourSet) Contains(hour int) bool {
	if hour < 0 || hour >= types.HoursPerDay {
		return false
	}
	return s[hour]
}

// CompiledRule is fully validated and ready for evaluation.
type CompiledRule struct {
	ID            types.RuleID
	Gender        types.Gender
	Countries     StringSet
	AppCategories StringSet
	DeviceModels  StringSet
	Hours         HourSet
	Latitude      float64
	Longitude     float64
	RadiusKm      float64
}

// Compile validates and pre-processes a rule for efficient evaluation.
// Errors wrap types.ErrInvalidRule.
func Compile(rule *types.Rule) (*CompiledRule, error) {
	if !rule.Gender.Valid() {
		return nil, invalidRule(rule, "gender %q: %v", rule.Gender, types.ErrInvalidEnum)
	}
	if math.IsNaN(rule.RadiusKm) || rule.RadiusKm < 0 {
		return nil, invalidRule(rule, "radius must be a non-negative number of kilometers, got %v", rule.RadiusKm)
	}
	if math.IsNaN(rule.Latitude) || rule.Latitude < -90 || rule.Latitude > 90 {
		return nil, invalidRule(rule, "latitude must be within [-90, 90], got %v", rule.Latitude)
	}
	if math.IsNaN(rule.Longitude) || rule.Longitude < -180 || rule.Longitude > 180 {
		return nil, invalidRule(rule, "longitude must be within [-180, 180], got %v", rule.Longitude)
	}

	countries, err := compileStringSet(rule, "countries", rule.Countries)
	if err != nil {
		return nil, err
	}
	categories, err := compileStringSet(rule, "app_categories", rule.AppCategories)
	if err != nil {
		return nil, err
	}
	devices, err := compileStringSet(rule, "device_models", rule.DeviceModels)
	if err != nil {
		return nil, err
	}

	compiled := &CompiledRule{
		ID:            rule.ID,
		Gender:        rule.Gender,
		Countries:     countries,
		AppCategories: categories,
		DeviceModels:  devices,
		Latitude:      rule.Latitude,
		Longitude:     rule.Longitude,
		RadiusKm:      rule.RadiusKm,
	}

	for _, h := range rule.Hours {
		if h < 0 || h >= types.HoursPerDay {
			return nil, invalidRule(rule, "hour must be within [0, %d], got %d", types.HoursPerDay-1, h)
		}
		compiled.Hours[h] = true
	}

	return compiled, nil
}

// compileStringSet builds a membership set, enforcing MaxSetValues.
// Duplicates collapse silently.
func compileStringSet(rule *types.Rule, dimension string, values []string) (StringSet, error) {
	if len(values) > types.MaxSetValues {
		return nil, invalidRule(rule, "%s has %d values, maximum is %d", dimension, len(values), types.MaxSetValues)
	}
	set := make(StringSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set, nil
}

func invalidRule(rule *types.Rule, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if rule.ID != "" {
		return fmt.Errorf("%w: %s: %s", types.ErrInvalidRule, rule.ID, msg)
	}
	return fmt.Errorf("%w: %s", types.ErrInvalidRule, msg)
}
