package geo

import (
	"fmt"
	"math"
)

// Polygon is a simple polygon whose containment test runs in a local
// equirectangular projection centred on the polygon. Good to well under a
// percent at zone scale (<100km).
type Polygon struct {
	Vertices []Point

	bbox   BBox
	origin Point
	cosLat float64
	ring   []vec
}

type vec struct{ x, y float64 }

// NewPolygon validates the ring and prepares it for queries. A closing vertex
// equal to the first one is accepted and dropped.
func NewPolygon(vertices []Point) (*Polygon, error) {
	pts := append([]Point(nil), vertices...)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("%d vertices: %w", len(pts), ErrTooFewVertices)
	}

	bbox := BBox{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for i, p := range pts {
		if !p.Valid() {
			return nil, fmt.Errorf("vertex %d %v: %w", i, p, ErrInvalidPoint)
		}
		if p == pts[(i+1)%len(pts)] {
			return nil, fmt.Errorf("vertex %d: %w", i, ErrDuplicateVertex)
		}
		bbox.MinLat = math.Min(bbox.MinLat, p.Lat)
		bbox.MaxLat = math.Max(bbox.MaxLat, p.Lat)
		bbox.MinLon = math.Min(bbox.MinLon, p.Lon)
		bbox.MaxLon = math.Max(bbox.MaxLon, p.Lon)
	}
	if bbox.MaxLon-bbox.MinLon > 180 {
		return nil, ErrAntimeridian
	}

	poly := &Polygon{
		Vertices: pts,
		bbox:     bbox,
		origin:   Point{Lat: (bbox.MinLat + bbox.MaxLat) / 2, Lon: (bbox.MinLon + bbox.MaxLon) / 2},
	}
	poly.cosLat = math.Cos(toRad(poly.origin.Lat))
	poly.ring = make([]vec, len(pts))
	for i, p := range pts {
		poly.ring[i] = poly.project(p)
	}

	// under one square meter is treated as no area at all
	if math.Abs(shoelace(poly.ring)) < 1 {
		return nil, ErrDegeneratePolygon
	}
	if i, j, ok := firstCrossing(poly.ring); ok {
		return nil, fmt.Errorf("edges %d and %d: %w", i, j, ErrSelfIntersecting)
	}
	return poly, nil
}

func (p *Polygon) project(pt Point) vec {
	return vec{
		x: toRad(pt.Lon-p.origin.Lon) * p.cosLat * EarthRadius,
		y: toRad(pt.Lat-p.origin.Lat) * EarthRadius,
	}
}

// Contains runs the even-odd ray casting test in projected coordinates.
func (p *Polygon) Contains(pt Point) bool {
	if !p.bbox.Contains(pt) {
		return false
	}
	q := p.project(pt)
	inside := false
	n := len(p.ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.ring[i], p.ring[j]
		if (a.y > q.y) != (b.y > q.y) &&
			q.x < (b.x-a.x)*(q.y-a.y)/(b.y-a.y)+a.x {
			inside = !inside
		}
	}
	return inside
}

func (p *Polygon) BoundingBox() BBox { return p.bbox }

func (p *Polygon) Distance(pt Point) float64 {
	if p.Contains(pt) {
		return 0
	}
	q := p.project(pt)
	best := math.Inf(1)
	n := len(p.ring)
	for i := 0; i < n; i++ {
		d := segmentDistance(q, p.ring[i], p.ring[(i+1)%n])
		if d < best {
			best = d
		}
	}
	return best
}

func shoelace(ring []vec) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		sum += a.x*b.y - b.x*a.y
	}
	return sum / 2
}

// firstCrossing returns the first pair of edges that touch outside their
// shared vertex. Edge i runs from ring[i] to ring[i+1].
func firstCrossing(ring []vec) (int, int, bool) {
	n := len(ring)
	for i := 0; i < n; i++ {
		a, b := ring[i], ring[(i+1)%n]
		// adjacent edge folding back onto this one
		c := ring[(i+2)%n]
		if cross(sub(b, a), sub(c, b)) == 0 && dot(sub(b, a), sub(c, b)) < 0 {
			return i, (i + 1) % n, true
		}
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsIntersect(a, b, ring[j], ring[(j+1)%n]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func segmentsIntersect(a, b, c, d vec) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)
	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && onSegment(a, c, b):
		return true
	case o2 == 0 && onSegment(a, d, b):
		return true
	case o3 == 0 && onSegment(c, a, d):
		return true
	case o4 == 0 && onSegment(c, b, d):
		return true
	}
	return false
}

func orientation(a, b, c vec) int {
	v := cross(sub(b, a), sub(c, b))
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// onSegment reports whether q lies within the box spanned by p and r.
func onSegment(p, q, r vec) bool {
	return q.x <= math.Max(p.x, r.x) && q.x >= math.Min(p.x, r.x) &&
		q.y <= math.Max(p.y, r.y) && q.y >= math.Min(p.y, r.y)
}

func segmentDistance(q, a, b vec) float64 {
	ab := sub(b, a)
	l2 := dot(ab, ab)
	if l2 == 0 {
		return math.Hypot(q.x-a.x, q.y-a.y)
	}
	t := clamp(dot(sub(q, a), ab)/l2, 0, 1)
	proj := vec{a.x + t*ab.x, a.y + t*ab.y}
	return math.Hypot(q.x-proj.x, q.y-proj.y)
}

func sub(a, b vec) vec      { return vec{a.x - b.x, a.y - b.y} }
func cross(a, b vec) float64 { return a.x*b.y - a.y*b.x }
func dot(a, b vec) float64   { return a.x*b.x + a.y*b.y }
