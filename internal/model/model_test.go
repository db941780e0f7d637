package model

import (
	"encoding/json"
	"errors"
	"testing"

	"tourguard/internal/geo"
)

func TestSeverityOrderingAndText(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh) {
		t.Fatalf("severities must be ordered low < medium < high")
	}
	b, err := json.Marshal(struct{ S Severity }{SeverityHigh})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"S":"high"}` {
		t.Fatalf("marshal = %s", b)
	}
	var v struct{ S Severity }
	if err := json.Unmarshal([]byte(`{"S":"Medium"}`), &v); err != nil || v.S != SeverityMedium {
		t.Fatalf("unmarshal = %v, %v", v.S, err)
	}
	if _, err := ParseSeverity("critical"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseSeverity(critical) err = %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AlertStatus
		ok       bool
	}{
		{StatusActive, StatusInvestigating, true},
		{StatusActive, StatusResponding, true},
		{StatusActive, StatusResolved, true},
		{StatusInvestigating, StatusResponding, true},
		{StatusResponding, StatusInvestigating, true},
		{StatusResponding, StatusResolved, true},
		{StatusActive, StatusActive, false},
		{StatusResolved, StatusActive, false},
		{StatusResolved, StatusInvestigating, false},
		{StatusInvestigating, StatusActive, false},
		{StatusActive, "closed", false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestZoneValidate(t *testing.T) {
	center := &geo.Point{Lat: 26.1234, Lon: 91.7456}
	valid := Zone{
		Name:     "Restricted Border Area",
		Severity: SeverityHigh,
		Geometry: GeometrySpec{Type: GeometryCircle, Center: center, Radius: 2000},
	}
	z := valid
	if err := z.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if z.Shape == nil || z.Category != CategoryOther {
		t.Fatalf("Validate must build the shape and default the category, got %+v", z)
	}

	cases := []struct {
		name  string
		edit  func(*Zone)
		field string
	}{
		{"missing name", func(z *Zone) { z.Name = " " }, "name"},
		{"bad severity", func(z *Zone) { z.Severity = 0 }, "severity"},
		{"bad category", func(z *Zone) { z.Category = "volcano" }, "category"},
		{"zero radius", func(z *Zone) { z.Geometry.Radius = 0 }, "geometry.radius"},
		{"negative radius", func(z *Zone) { z.Geometry.Radius = -1 }, "geometry.radius"},
		{"no center", func(z *Zone) { z.Geometry.Center = nil }, "geometry.center"},
		{"unknown type", func(z *Zone) { z.Geometry.Type = "hexagon" }, "geometry.type"},
		{"two vertex polygon", func(z *Zone) {
			z.Geometry = GeometrySpec{Type: GeometryPolygon, Points: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}}
		}, "geometry.points"},
		{"bow tie polygon", func(z *Zone) {
			z.Geometry = GeometrySpec{Type: GeometryPolygon, Points: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 2}, {Lat: 2, Lon: 0}, {Lat: 0, Lon: 1}}}
		}, "geometry.points"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			z := valid
			tc.edit(&z)
			err := z.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ValidationError must unwrap to ErrValidation")
			}
		})
	}
}

func TestRejectErrorUnwrap(t *testing.T) {
	if !errors.Is(&RejectError{Reason: RejectOutOfOrder}, ErrOutOfOrder) {
		t.Fatalf("OUT_OF_ORDER must unwrap to ErrOutOfOrder")
	}
	if !errors.Is(&RejectError{Reason: RejectImplausibleJump}, ErrImplausibleJump) {
		t.Fatalf("IMPLAUSIBLE_JUMP must unwrap to ErrImplausibleJump")
	}
	if !errors.Is(&RejectError{Reason: RejectInvalidCoordinate}, ErrValidation) {
		t.Fatalf("INVALID_COORDINATE must unwrap to ErrValidation")
	}
}

func TestScopeMatches(t *testing.T) {
	if !ScopeMatches("", "Assam") || !ScopeMatches("*", "") || !ScopeMatches("Assam", "Assam") {
		t.Fatalf("global and equal scopes must match")
	}
	if ScopeMatches("Assam", "Meghalaya") || ScopeMatches("Assam", "") {
		t.Fatalf("different scopes must not match")
	}
}

func TestClassifyScore(t *testing.T) {
	cases := []struct {
		score float64
		want  SafetyClass
	}{
		{100, ClassSafe},
		{75, ClassSafe},
		{74.9, ClassModeratelySafe},
		{55, ClassModeratelySafe},
		{54.9, ClassUnsafe},
		{0, ClassUnsafe},
	}
	for _, c := range cases {
		if got := ClassifyScore(c.score); got != c.want {
			t.Fatalf("ClassifyScore(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestStateOf(t *testing.T) {
	high := &Alert{Severity: SeverityHigh}
	low := &Alert{Severity: SeverityLow}
	cases := []struct {
		name   string
		class  SafetyClass
		open   []*Alert
		inZone bool
		want   TouristState
	}{
		{"clear", ClassSafe, nil, false, StateSafe},
		{"inside a zone", ClassSafe, nil, true, StateCaution},
		{"low score", ClassModeratelySafe, nil, false, StateCaution},
		{"low alert", ClassSafe, []*Alert{low}, false, StateCaution},
		{"high alert", ClassSafe, []*Alert{low, high}, false, StateAlert},
	}
	for _, c := range cases {
		if got := StateOf(c.class, c.open, c.inZone); got != c.want {
			t.Fatalf("%s: state = %s, want %s", c.name, got, c.want)
		}
	}
}
