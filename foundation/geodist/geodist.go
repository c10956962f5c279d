// Package geodist provides great-circle distance calculations between coordinates.
package geodist

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius used by the spherical approximation.
const earthRadiusMeters = 6371000.0

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid returns false if the coordinate contains NaN or out-of-range values
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90.0 && c.Latitude <= 90.0 &&
		c.Longitude >= -180.0 && c.Longitude <= 180.0
}

// Distance returns the great-circle distance between a and b in meters using the
// haversine formula. Invalid coordinates produce an error rather than a zero
// distance, so callers cannot mistake a bad sample for co-location.
func Distance(a Coordinate, b Coordinate) (float64, error) {
	if !a.Valid() {
		return 0, fmt.Errorf("invalid coordinate %+v", a)
	}
	if !b.Valid() {
		return 0, fmt.Errorf("invalid coordinate %+v", b)
	}

	lat1 := a.Latitude * math.Pi / 180.0
	lon1 := a.Longitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	lon2 := b.Longitude * math.Pi / 180.0

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Sqrt(h))

	return c * earthRadiusMeters, nil
}
