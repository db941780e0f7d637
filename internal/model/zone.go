package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tourguard/internal/geo"
)

// Severity is ordered: SeverityLow < SeverityMedium < SeverityHigh.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

func (s Severity) Valid() bool { return s >= SeverityLow && s <= SeverityHigh }

// ParseSeverity accepts low/medium/high, case-insensitive.
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return 0, Invalid("severity", "unknown severity %q", v)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Zone categories from the field teams' danger-zone catalogue.
const (
	CategoryRestricted = "restricted"
	CategoryWildlife   = "wildlife"
	CategoryNatural    = "natural"
	CategoryOther      = "other"
)

// Geometry kinds
const (
	GeometryCircle  = "circle"
	GeometryPolygon = "polygon"
)

// GeometrySpec is the wire form of a zone shape: a circle (center + radius in
// meters) or a polygon (ordered vertices).
type GeometrySpec struct {
	Type   string      `json:"type" yaml:"type"`
	Center *geo.Point  `json:"center,omitempty" yaml:"center,omitempty"`
	Radius float64     `json:"radius,omitempty" yaml:"radius,omitempty"`
	Points []geo.Point `json:"points,omitempty" yaml:"points,omitempty"`
}

// Build validates the geometry and returns the queryable shape.
func (g GeometrySpec) Build() (geo.Geometry, error) {
	switch g.Type {
	case GeometryCircle:
		if g.Center == nil {
			return nil, Invalid("geometry.center", "circle requires a center")
		}
		c, err := geo.NewCircle(*g.Center, g.Radius)
		if errors.Is(err, geo.ErrInvalidRadius) {
			return nil, Invalid("geometry.radius", "%v", err)
		}
		if err != nil {
			return nil, Invalid("geometry.center", "%v", err)
		}
		return c, nil
	case GeometryPolygon:
		p, err := geo.NewPolygon(g.Points)
		if err != nil {
			return nil, Invalid("geometry.points", "%v", err)
		}
		return p, nil
	}
	return nil, Invalid("geometry.type", "unknown geometry type %q", g.Type)
}

// Zone is a risk zone. Shape is the built geometry and is only set on zones
// that went through ZoneStore validation.
type Zone struct {
	ID                string       `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	Category          string       `json:"category" yaml:"category"`
	Scope             string       `json:"scope" yaml:"scope"`
	Description       string       `json:"description" yaml:"description"`
	RecommendedAction string       `json:"recommended_action" yaml:"recommended_action"`
	Severity          Severity     `json:"severity" yaml:"severity"`
	Geometry          GeometrySpec `json:"geometry" yaml:"geometry"`
	Version           uint64       `json:"version" yaml:"-"`
	Active            bool         `json:"active" yaml:"-"`
	UpdatedAt         time.Time    `json:"updated_at" yaml:"-"`

	Shape geo.Geometry `json:"-" yaml:"-"`
}

// Validate checks the zone attributes and builds its shape.
func (z *Zone) Validate() error {
	if strings.TrimSpace(z.Name) == "" {
		return Invalid("name", "name is required")
	}
	if !z.Severity.Valid() {
		return Invalid("severity", "severity must be low, medium or high")
	}
	switch z.Category {
	case "":
		z.Category = CategoryOther
	case CategoryRestricted, CategoryWildlife, CategoryNatural, CategoryOther:
	default:
		return Invalid("category", "unknown category %q", z.Category)
	}
	shape, err := z.Geometry.Build()
	if err != nil {
		return err
	}
	z.Shape = shape
	return nil
}
