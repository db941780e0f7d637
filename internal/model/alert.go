package model

import (
	"time"

	"tourguard/internal/geo"
)

// AlertKind is what raised an alert.
type AlertKind string

const (
	AlertZoneEntry  AlertKind = "ZONE_ENTRY"
	AlertZoneExit   AlertKind = "ZONE_EXIT"
	AlertPanic      AlertKind = "PANIC"
	AlertInactivity AlertKind = "INACTIVITY"
	AlertAnomaly    AlertKind = "ANOMALY"
)

func (k AlertKind) Valid() bool {
	switch k {
	case AlertZoneEntry, AlertZoneExit, AlertPanic, AlertInactivity, AlertAnomaly:
		return true
	}
	return false
}

// AlertStatus is the authority-side lifecycle of an alert.
type AlertStatus string

const (
	StatusActive        AlertStatus = "active"
	StatusInvestigating AlertStatus = "investigating"
	StatusResponding    AlertStatus = "responding"
	StatusResolved      AlertStatus = "resolved"
)

// Open reports whether the alert still counts toward the one-open-alert rule.
func (s AlertStatus) Open() bool {
	return s == StatusActive || s == StatusInvestigating || s == StatusResponding
}

// CanTransition reports whether an alert may move from s to next.
// Resolved is terminal.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if !s.Open() || s == next {
		return false
	}
	return next == StatusResolved || next == StatusInvestigating || next == StatusResponding
}

// DeliveryState tracks the notification collaborator separately from status.
type DeliveryState string

const (
	DeliveryPending     DeliveryState = "pending"
	DeliveryDelivered   DeliveryState = "delivered"
	DeliveryFailed      DeliveryState = "failed"
	DeliveryNotRequired DeliveryState = "not_required"
)

// Alert is the locally recorded source of truth for an alert.
type Alert struct {
	ID                string        `json:"id"`
	Kind              AlertKind     `json:"kind"`
	TouristID         string        `json:"tourist_id"`
	ZoneID            string        `json:"zone_id,omitempty"`
	ZoneName          string        `json:"zone_name,omitempty"`
	Severity          Severity      `json:"severity"`
	Scope             string        `json:"scope,omitempty"`
	Status            AlertStatus   `json:"status"`
	Delivery          DeliveryState `json:"delivery"`
	Attempts          int           `json:"attempts"`
	Description       string        `json:"description,omitempty"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
	Location          *geo.Point    `json:"location,omitempty"`
	Note              string        `json:"note,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	LastNotifiedAt    *time.Time    `json:"last_notified_at,omitempty"`
}

// Key is the deduplication key. Panic alerts are never keyed.
func (a *Alert) Key() AlertKey {
	return AlertKey{TouristID: a.TouristID, Kind: a.Kind, ZoneID: a.ZoneID}
}

// Notification builds the tuple handed to the delivery collaborator.
func (a *Alert) Notification() Notification {
	return Notification{
		AlertID:           a.ID,
		TouristID:         a.TouristID,
		Kind:              a.Kind,
		Severity:          a.Severity,
		ZoneID:            a.ZoneID,
		Scope:             a.Scope,
		CreatedAt:         a.CreatedAt,
		Description:       a.Description,
		RecommendedAction: a.RecommendedAction,
		Location:          a.Location,
	}
}

// AlertKey identifies the (tourist, kind, zone) triple.
type AlertKey struct {
	TouristID string
	Kind      AlertKind
	ZoneID    string
}

// Notification is what leaves the engine.
type Notification struct {
	AlertID           string     `json:"alert_id"`
	TouristID         string     `json:"tourist_id"`
	Kind              AlertKind  `json:"kind"`
	Severity          Severity   `json:"severity"`
	ZoneID            string     `json:"zone_id,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	Description       string     `json:"description,omitempty"`
	RecommendedAction string     `json:"recommended_action,omitempty"`
	Location          *geo.Point `json:"location,omitempty"`
	Urgent            bool       `json:"urgent,omitempty"`
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Scope     string
	TouristID string
	Kind      AlertKind
	Status    AlertStatus
	Since     time.Time
	// ResolvedSince keeps alerts resolved at or after it.
	ResolvedSince time.Time
	Limit         int
}

// ScopeMatches reports whether a record scoped to scope is visible to the
// caller scope. Empty or "*" sees everything.
func ScopeMatches(caller, scope string) bool {
	return caller == "" || caller == "*" || caller == scope
}
