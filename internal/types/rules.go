// internal/types/rules.go
package types

/*
 * Domain types for rule registration.
 *
 * Rule is the authoring form handed to the engine. internal/rules compiles it
 * into CompiledRule (set indexes, validated ranges) before any worker sees it.
 * Set-valued dimensions are plain slices here so rule files and tests can
 * build them literally; a nil or empty slice means "rejects all" for that
 * dimension once compiled.
 *
 * Key types:
 *   - Rule: one targeting specification (conjunction of six dimensions)
 *   - PathSegment: one component of a bid request field path
 */

// Rule is one targeting specification.
// ID is assigned by the engine at registration; any caller value is overwritten.
type Rule struct {
	ID            RuleID
	Gender        Gender
	Countries     []string
	AppCategories []string
	DeviceModels  []string
	Hours         []int   // hours of day, 0-23
	Latitude      float64 // reference point, degrees
	Longitude     float64 // reference point, degrees
	RadiusKm      float64 // inclusive match radius, kilometers
}

// PathSegment represents one component of a field path.
// String for object keys, int for array indices.
type PathSegment struct {
	Key     string // object key (mutually exclusive with Index)
	Index   int    // array index (mutually exclusive with Key)
	IsIndex bool   // disambiguates Index=0 from unset
}
