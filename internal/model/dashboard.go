package model

import "time"

// SafetyClass bands a safety score.
type SafetyClass string

const (
	ClassSafe           SafetyClass = "safe"
	ClassModeratelySafe SafetyClass = "moderately_safe"
	ClassUnsafe         SafetyClass = "unsafe"
)

// ClassifyScore maps a 0..100 score to its band: 75 and up is safe, 55 and
// up moderately safe.
func ClassifyScore(score float64) SafetyClass {
	switch {
	case score >= 75:
		return ClassSafe
	case score >= 55:
		return ClassModeratelySafe
	default:
		return ClassUnsafe
	}
}

// TouristState is the label an authority dashboard shows per tourist.
type TouristState string

const (
	StateSafe    TouristState = "safe"
	StateCaution TouristState = "caution"
	StateAlert   TouristState = "alert"
)

// StateOf labels a tourist: alert while a high-severity alert is open,
// caution while any alert is open, the tourist is inside a zone or the score
// is below the safe band.
func StateOf(class SafetyClass, open []*Alert, inZone bool) TouristState {
	for _, a := range open {
		if a.Severity == SeverityHigh {
			return StateAlert
		}
	}
	if len(open) > 0 || inZone || class != ClassSafe {
		return StateCaution
	}
	return StateSafe
}

// RegionSummary counts tourists and open alerts for one authority scope.
type RegionSummary struct {
	Region       string `json:"region"`
	Tourists     int    `json:"tourists"`
	ActiveAlerts int    `json:"active_alerts"`
}

// Summary is the headline view of an authority dashboard.
type Summary struct {
	ActiveTourists int             `json:"active_tourists"`
	ActiveAlerts   int             `json:"active_alerts"`
	ResolvedToday  int             `json:"resolved_today"`
	Regions        []RegionSummary `json:"regions"`
	GeneratedAt    time.Time       `json:"generated_at"`
}
