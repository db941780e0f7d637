package geo

import (
	"math"
	"sort"
)

// DefaultCellSize is the grid cell edge in degrees (~11km at the equator).
const DefaultCellSize = 0.1

// maxCellsPerEntry bounds how many grid cells one shape may occupy; larger
// shapes go to a list that every query scans.
const maxCellsPerEntry = 4096

// Entry is one indexed shape.
type Entry struct {
	ID       string
	Geometry Geometry
}

// Hit is a shape near a queried point.
type Hit struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

type cellKey struct{ x, y int32 }

// Index is an immutable uniform-grid index: bounding boxes pre-filter
// candidates, exact geometry decides. Build a new one instead of mutating.
type Index struct {
	cellSize float64
	entries  []Entry
	cells    map[cellKey][]int
	large    []int
}

// NewIndex builds an index over entries. cellSize <= 0 selects DefaultCellSize.
func NewIndex(entries []Entry, cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	ix := &Index{
		cellSize: cellSize,
		entries:  append([]Entry(nil), entries...),
		cells:    make(map[cellKey][]int),
	}
	for i, e := range ix.entries {
		b := e.Geometry.BoundingBox()
		x0, y0 := ix.cell(Point{Lat: b.MinLat, Lon: b.MinLon})
		x1, y1 := ix.cell(Point{Lat: b.MaxLat, Lon: b.MaxLon})
		if int64(x1-x0+1)*int64(y1-y0+1) > maxCellsPerEntry {
			ix.large = append(ix.large, i)
			continue
		}
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				k := cellKey{x, y}
				ix.cells[k] = append(ix.cells[k], i)
			}
		}
	}
	return ix
}

func (ix *Index) cell(p Point) (int32, int32) {
	return int32(math.Floor((p.Lon + 180) / ix.cellSize)), int32(math.Floor((p.Lat + 90) / ix.cellSize))
}

// Len returns the number of indexed shapes.
func (ix *Index) Len() int { return len(ix.entries) }

// Query returns the IDs of every shape containing p, sorted.
func (ix *Index) Query(p Point) []string {
	if ix == nil || !p.Valid() {
		return nil
	}
	var ids []string
	x, y := ix.cell(p)
	for _, i := range ix.cells[cellKey{x, y}] {
		if ix.entries[i].Geometry.Contains(p) {
			ids = append(ids, ix.entries[i].ID)
		}
	}
	for _, i := range ix.large {
		if ix.entries[i].Geometry.Contains(p) {
			ids = append(ids, ix.entries[i].ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Nearby returns shapes within radius meters of p, nearest first. Zone
// counts are small, so this is a linear scan.
func (ix *Index) Nearby(p Point, radius float64) []Hit {
	if ix == nil || !p.Valid() {
		return nil
	}
	var hits []Hit
	for _, e := range ix.entries {
		if d := e.Geometry.Distance(p); d <= radius {
			hits = append(hits, Hit{ID: e.ID, Distance: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}
