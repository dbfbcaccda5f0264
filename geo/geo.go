// Package geo holds the location math the zone rules depend on: great-circle
// distance, capture-radius checks and grid quantization of coordinates into zone ids.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the IUGG mean Earth radius
const EarthRadiusMeters = 6371008.8

// metersPerDegreeLat is the length of one degree of latitude on the mean sphere
const metersPerDegreeLat = EarthRadiusMeters * math.Pi / 180

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether p is a finite coordinate within the WGS84 bounds
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceFunc returns the distance in meters between two points
type DistanceFunc func(a, b Point) float64

// DistanceMeters is the haversine great-circle distance between a and b
func DistanceMeters(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ProximityValidator decides whether a reported location is close enough to a zone
type ProximityValidator struct {
	RadiusMeters float64
	Distance     DistanceFunc
}

// NewProximityValidator creates a validator backed by the haversine distance
func NewProximityValidator(radiusMeters float64) *ProximityValidator {
	return &ProximityValidator{RadiusMeters: radiusMeters, Distance: DistanceMeters}
}

// WithinRange reports whether claimant lies within the capture radius of zone.
// A distance equal to the radius is in range.
func (v *ProximityValidator) WithinRange(claimant, zone Point) bool {
	ok, _ := v.Check(claimant, zone)
	return ok
}

// Check is WithinRange that also returns the measured distance
func (v *ProximityValidator) Check(claimant, zone Point) (bool, float64) {
	distance := v.Distance
	if distance == nil {
		distance = DistanceMeters
	}
	d := distance(claimant, zone)
	return d <= v.RadiusMeters, d
}

// WithinRadius reports whether a and b are at most radiusMeters apart
func WithinRadius(a, b Point, radiusMeters float64) bool {
	return DistanceMeters(a, b) <= radiusMeters
}

// GridZoneID quantizes p onto a grid of gridSize degrees and returns the
// cell's stable zone id, e.g. "zone_37774_-122420"
func GridZoneID(p Point, gridSize float64) string {
	gridLat := int64(math.Floor(p.Lat / gridSize))
	gridLng := int64(math.Floor(p.Lng / gridSize))
	return fmt.Sprintf("zone_%d_%d", gridLat, gridLng)
}

// BoundingBox returns a lat/lng box that contains every point within
// radiusMeters of center. It is a cheap prefilter for radius searches.
func BoundingBox(center Point, radiusMeters float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusMeters / metersPerDegreeLat
	minLat = math.Max(-90, center.Lat-dLat)
	maxLat = math.Min(90, center.Lat+dLat)

	cosLat := math.Cos(toRadians(center.Lat))
	if cosLat < 1e-9 || maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}
	dLng := radiusMeters / (metersPerDegreeLat * cosLat)
	if dLng >= 180 {
		return minLat, maxLat, -180, 180
	}
	minLng = center.Lng - dLng
	maxLng = center.Lng + dLng
	if minLng < -180 || maxLng > 180 {
		// crossing the antimeridian; fall back to the full longitude band
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
