package geo

import (
	"fmt"
	"math"
)

// Circle is a great-circle disc: every point within Radius meters of Center.
type Circle struct {
	Center Point
	Radius float64
	bbox   BBox
}

// NewCircle validates the circle and precomputes its bounding box.
func NewCircle(center Point, radius float64) (*Circle, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("center %v: %w", center, ErrInvalidPoint)
	}
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("radius %v: %w", radius, ErrInvalidRadius)
	}
	c := &Circle{Center: center, Radius: radius}
	c.bbox = circleBBox(center, radius)
	return c, nil
}

// Contains uses the haversine distance against the radius.
func (c *Circle) Contains(p Point) bool {
	if !c.bbox.Contains(p) {
		return false
	}
	return Haversine(c.Center, p) <= c.Radius
}

func (c *Circle) BoundingBox() BBox { return c.bbox }

func (c *Circle) Distance(p Point) float64 {
	d := Haversine(c.Center, p) - c.Radius
	if d < 0 {
		return 0
	}
	return d
}

// circleBBox follows the bounding-coordinates method: the latitude extent is
// the angular radius, the longitude extent asin(sin(r)/cos(lat)). Circles that
// reach a pole or the antimeridian get the full longitude range.
func circleBBox(center Point, radius float64) BBox {
	angular := radius / EarthRadius
	lat := toRad(center.Lat)
	minLat := lat - angular
	maxLat := lat + angular

	const pad = 1e-9
	full := BBox{
		MinLat: clamp(toDeg(minLat)-pad, -90, 90),
		MaxLat: clamp(toDeg(maxLat)+pad, -90, 90),
		MinLon: -180,
		MaxLon: 180,
	}
	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return full
	}

	ratio := math.Sin(angular) / math.Cos(lat)
	if ratio >= 1 {
		return full
	}
	dLon := toDeg(math.Asin(ratio))
	minLon := center.Lon - dLon
	maxLon := center.Lon + dLon
	if minLon < -180 || maxLon > 180 {
		return full
	}
	return BBox{
		MinLat: full.MinLat,
		MaxLat: full.MaxLat,
		MinLon: minLon - pad,
		MaxLon: maxLon + pad,
	}
}
