package model

import (
	"time"

	"tourguard/internal/geo"
)

// PositionSample is one location fix from a tourist's device.
type PositionSample struct {
	TouristID string  `json:"tourist_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Sequence  uint64  `json:"sequence"`
	Accuracy  float64 `json:"accuracy"` // meters
}

func (s PositionSample) Point() geo.Point { return geo.Point{Lat: s.Lat, Lon: s.Lon} }

func (s PositionSample) Time() time.Time { return time.UnixMilli(s.Timestamp) }

// RejectReason explains why PositionIngest dropped a sample.
type RejectReason string

const (
	RejectOutOfOrder        RejectReason = "OUT_OF_ORDER"
	RejectImplausibleJump   RejectReason = "IMPLAUSIBLE_JUMP"
	RejectInvalidCoordinate RejectReason = "INVALID_COORDINATE"
)

// RejectError wraps the matching sentinel so callers can errors.Is it.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

func (e *RejectError) Unwrap() error {
	switch e.Reason {
	case RejectOutOfOrder:
		return ErrOutOfOrder
	case RejectImplausibleJump:
		return ErrImplausibleJump
	}
	return ErrValidation
}

// TransitionKind is Entry or Exit.
type TransitionKind string

const (
	TransitionEntry TransitionKind = "ENTRY"
	TransitionExit  TransitionKind = "EXIT"
)

// ZoneTransition is produced by ProximityEvaluator.
type ZoneTransition struct {
	Kind   TransitionKind `json:"kind"`
	ZoneID string         `json:"zone_id"`
	At     time.Time      `json:"at"`
}

// Membership is a (tourist, zone) pair with its entry time.
type Membership struct {
	ZoneID    string    `json:"zone_id"`
	EnteredAt time.Time `json:"entered_at"`
}

// IngestResult is returned for every submitted sample.
type IngestResult struct {
	Accepted    bool             `json:"accepted"`
	Reason      RejectReason     `json:"reason,omitempty"`
	Transitions []ZoneTransition `json:"transitions,omitempty"`
	Alerts      []Alert          `json:"alerts,omitempty"`
	Score       float64          `json:"score"`
}

// TouristStatus is the read model for dashboards.
type TouristStatus struct {
	TouristID string `json:"tourist_id"`
	Name      string `json:"name,omitempty"`
	Scope     string `json:"scope,omitempty"`
	// Region is the authority scope currently responsible for the tourist.
	Region string `json:"region,omitempty"`
	// Location names the zones the tourist is in.
	Location       string           `json:"location,omitempty"`
	Position       *PositionSample  `json:"position,omitempty"`
	Recent         []PositionSample `json:"recent,omitempty"`
	Zones          []Membership     `json:"zones"`
	Score          float64          `json:"score"`
	Classification SafetyClass      `json:"classification"`
	State          TouristState     `json:"state"`
	OpenAlerts     int              `json:"open_alerts"`
	Nearby         []geo.Hit        `json:"nearby,omitempty"`
	LastSeen       *time.Time       `json:"last_seen,omitempty"`
	ZoneVersion    uint64           `json:"zone_version"`
}

// Tourist is the persisted part of a tourist's shard state.
type Tourist struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Scope        string          `json:"scope,omitempty"`
	LastSequence uint64          `json:"last_sequence"`
	Position     *PositionSample `json:"position,omitempty"`
	Zones        []Membership    `json:"zones"`
	Score        float64         `json:"score"`
	ScoreAt      time.Time       `json:"score_at"`
	RegisteredAt time.Time       `json:"registered_at"`
}

// Err returns the rejection as an error, or nil for an accepted sample.
func (r IngestResult) Err() error {
	if r.Accepted {
		return nil
	}
	return &RejectError{Reason: r.Reason}
}
