// internal/rules/geo.go
package rules

import "math"

/*
 * Great-circle distance for the location predicate.
 *
 * Spherical law of cosines on radians, central angle converted to degrees,
 * then to kilometers through statute/nautical miles:
 *
 *   km = degrees * 60 * 1.1515 * 1.609344
 *
 * 60 nautical miles per degree, 1.1515 statute miles per nautical mile,
 * 1.609344 km per statute mile. Rule radii are authored against this exact
 * conversion, so it must not be swapped for a mean-earth-radius haversine.
 *
 * Bit-identical points short-circuit to zero: for coincident coordinates the
 * cosine can land a ULP above 1.0 and acos returns NaN, which would fail the
 * radius comparison even for radius 0. The cosine is additionally clamped to
 * [-1, 1] for nearly-coincident and antipodal points.
 */

const (
	nauticalMilesPerDegree   = 60.0
	statuteMilesPerNautical  = 1.1515
	kilometersPerStatuteMile = 1.609344
)

// DistanceKm returns the great-circle distance between two points in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	if sameBits(lat1, lat2) && sameBits(lon1, lon2) {
		return 0
	}

	phi1 := degreesToRadians(lat1)
	phi2 := degreesToRadians(lat2)
	theta := degreesToRadians(lon1 - lon2)

	cosAngle := math.Sin(phi1)*math.Sin(phi2) + math.Cos(phi1)*math.Cos(phi2)*math.Cos(theta)
	cosAngle = math.Max(-1, math.Min(1, cosAngle))

	angle := radiansToDegrees(math.Acos(cosAngle))
	return angle * nauticalMilesPerDegree * statuteMilesPerNautical * kilometersPerStatuteMile
}

// WithinRadius reports whether the point lies within radiusKm of the reference (inclusive).
func WithinRadius(lat, lon, refLat, refLon, radiusKm float64) bool {
	return DistanceKm(lat, lon, refLat, refLon) <= radiusKm
}

// sameBits compares IEEE-754 encodings; 0 and -0 are distinct.
func sameBits(a, b float64) bool {
	return math.Float64bits(a) == math.Float64bits(b)
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

func radiansToDegrees(r float64) float64 {
	return r * 180 / math.Pi
}
