// Package geo provides great-circle distance math shared by the position
// tracker (jump detection), the walking estimator (heuristic model), and the
// trip planner (nearest-stop and transfer search).
package geo

import (
	"math"

	"transitpulse/internal/types"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two
// coordinates, computed with the haversine formula.
func Distance(a, b types.LatLng) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RoundedKey returns a cache key for a coordinate pair, rounded to ~11 m
// precision (4 decimal places). Nearby queries share cache entries.
func RoundedKey(origin, destination types.LatLng) [4]float64 {
	return [4]float64{
		round4(origin.Latitude),
		round4(origin.Longitude),
		round4(destination.Latitude),
		round4(destination.Longitude),
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
