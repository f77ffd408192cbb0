package spatial

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/jengzang/fleet-records-go/internal/models"
)

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
	MetersPerMile     = 1609.344
	MilesPerKilometer = 0.621371
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Distance returns the great-circle distance between two locations in meters
func Distance(a, b models.Location) float64 {
	return HaversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Centroid returns the spherical centroid of a set of locations.
// An empty input yields the zero location.
func Centroid(locs []models.Location) models.Location {
	switch len(locs) {
	case 0:
		return models.Location{}
	case 1:
		return locs[0]
	}

	var sum s2.Point
	for _, l := range locs {
		p := s2.PointFromLatLng(s2.LatLngFromDegrees(l.Latitude, l.Longitude))
		sum = s2.Point{Vector: sum.Add(p.Vector)}
	}
	if sum.Norm() == 0 {
		return locs[0]
	}

	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return models.Location{Latitude: ll.Lat.Degrees(), Longitude: ll.Lng.Degrees()}
}

// MetersToMiles converts meters to statute miles
func MetersToMiles(m float64) float64 {
	return m / MetersPerMile
}

// KilometersToMiles converts kilometers to statute miles
func KilometersToMiles(km float64) float64 {
	return km * MilesPerKilometer
}

// ValidCoordinates rejects out-of-range pairs and the (0,0) null fix
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}
