// Package geo holds the zone geometries and the spatial index used to
// answer containment queries against a fixed zone snapshot.
package geo

import (
	"errors"
	"math"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

var (
	ErrInvalidPoint      = errors.New("coordinate out of range")
	ErrInvalidRadius     = errors.New("radius must be positive")
	ErrTooFewVertices    = errors.New("polygon must have at least 3 vertices")
	ErrDuplicateVertex   = errors.New("polygon has repeated consecutive vertices")
	ErrSelfIntersecting  = errors.New("polygon edges intersect")
	ErrDegeneratePolygon = errors.New("polygon has zero area")
	ErrAntimeridian      = errors.New("polygon spans more than 180 degrees of longitude")
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point is finite and within latitude/longitude range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// BBox is an axis-aligned box in degrees.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Geometry is the capability set shared by every zone shape.
type Geometry interface {
	// Contains reports exact membership of p.
	Contains(p Point) bool
	// BoundingBox returns a box that encloses every contained point.
	BoundingBox() BBox
	// Distance returns meters from p to the shape, 0 when p is inside.
	Distance(p Point) float64
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// SpeedKmh returns the average speed implied by covering meters in seconds.
func SpeedKmh(meters, seconds float64) float64 {
	if seconds <= 0 {
		if meters == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return meters / seconds * 3.6
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
