package geo

import (
	"math"

	"github.com/example/trip-dispatch/internal/models"
)

const earthRadiusM = 6371000.0

// Distance returns the great-circle distance between two coordinates in
// meters (haversine formula). Pure; callers validate their coordinates.
func Distance(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// ETASeconds estimates travel time for distanceMeters at speedMps. A nonzero
// distance never reports less than floorSeconds; zero distance reports zero.
func ETASeconds(distanceMeters, speedMps, floorSeconds float64) float64 {
	if distanceMeters <= 0 {
		return 0
	}
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	sec := distanceMeters / speedMps
	if sec < floorSeconds {
		return floorSeconds
	}
	return sec
}
