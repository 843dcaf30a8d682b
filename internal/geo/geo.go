// Package geo computes great-circle distances between coordinates.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius of the spherical
// approximation. Accurate to well under 1% at the scale this server
// targets (meters to tens of kilometers).
const EarthRadiusMeters = 6371000

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Distance returns the haversine distance in meters between two points
// given in decimal degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	latDelta := toRadians(lat2 - lat1)
	lngDelta := toRadians(lng2 - lng1)

	h := math.Sin(latDelta/2)*math.Sin(latDelta/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(lngDelta/2)*math.Sin(lngDelta/2)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}
