package store

import (
	"time"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

// ZoneRecord is the current state of a zone, retired ones included.
type ZoneRecord struct {
	ID                string             `gorm:"primaryKey;size:64"`
	Name              string             `gorm:"size:200;not null"`
	Category          string             `gorm:"size:20;not null"`
	Scope             string             `gorm:"size:100;index"`
	Description       string             `gorm:"type:text"`
	RecommendedAction string             `gorm:"type:text"`
	Severity          int                `gorm:"not null"`
	Geometry          model.GeometrySpec `gorm:"type:jsonb;serializer:json;not null"`
	Version           uint64             `gorm:"not null"`
	Active            bool               `gorm:"index"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime:false"`
}

func (ZoneRecord) TableName() string { return "zones" }

// ZoneVersionRecord is an append-only history row written on every change.
type ZoneVersionRecord struct {
	ID         uint               `gorm:"primaryKey"`
	ZoneID     string             `gorm:"size:64;index:idx_zone_versions_zone"`
	Version    uint64             `gorm:"index:idx_zone_versions_zone"`
	Name       string             `gorm:"size:200"`
	Severity   int
	Geometry   model.GeometrySpec `gorm:"type:jsonb;serializer:json"`
	Active     bool
	RecordedAt time.Time
}

func (ZoneVersionRecord) TableName() string { return "zone_versions" }

// AlertRecord mirrors model.Alert.
type AlertRecord struct {
	ID                string    `gorm:"primaryKey;size:64"`
	Kind              string    `gorm:"size:20;not null"`
	TouristID         string    `gorm:"size:128;not null;index"`
	ZoneID            string    `gorm:"size:64"`
	ZoneName          string    `gorm:"size:200"`
	Severity          int       `gorm:"not null"`
	Scope             string    `gorm:"size:100;index"`
	Status            string    `gorm:"size:20;not null;index"`
	Delivery          string    `gorm:"size:20;not null"`
	Attempts          int
	Description       string    `gorm:"type:text"`
	RecommendedAction string    `gorm:"type:text"`
	Lat               *float64
	Lon               *float64
	Note              string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:false"`
	ResolvedAt        *time.Time
	LastNotifiedAt    *time.Time
}

func (AlertRecord) TableName() string { return "alerts" }

// TouristRecord is the persisted shard state of one tourist. Memberships
// live in tourist_zones.
type TouristRecord struct {
	ID           string                `gorm:"primaryKey;size:128"`
	Name         string                `gorm:"size:200"`
	Scope        string                `gorm:"size:100"`
	LastSequence uint64
	Position     *model.PositionSample `gorm:"type:jsonb;serializer:json"`
	Score        float64
	ScoreAt      time.Time
	RegisteredAt time.Time
}

func (TouristRecord) TableName() string { return "tourists" }

// MembershipRecord is one (tourist, zone) pair.
type MembershipRecord struct {
	TouristID string `gorm:"primaryKey;size:128"`
	ZoneID    string `gorm:"primaryKey;size:64"`
	EnteredAt time.Time
}

func (MembershipRecord) TableName() string { return "tourist_zones" }

func zoneRecord(z *model.Zone) *ZoneRecord {
	return &ZoneRecord{
		ID:                z.ID,
		Name:              z.Name,
		Category:          z.Category,
		Scope:             z.Scope,
		Description:       z.Description,
		RecommendedAction: z.RecommendedAction,
		Severity:          int(z.Severity),
		Geometry:          z.Geometry,
		Version:           z.Version,
		Active:            z.Active,
		UpdatedAt:         z.UpdatedAt,
	}
}

func (r *ZoneRecord) toModel() model.Zone {
	return model.Zone{
		ID:                r.ID,
		Name:              r.Name,
		Category:          r.Category,
		Scope:             r.Scope,
		Description:       r.Description,
		RecommendedAction: r.RecommendedAction,
		Severity:          model.Severity(r.Severity),
		Geometry:          r.Geometry,
		Version:           r.Version,
		Active:            r.Active,
		UpdatedAt:         r.UpdatedAt,
	}
}

func alertRecord(a *model.Alert) *AlertRecord {
	rec := &AlertRecord{
		ID:                a.ID,
		Kind:              string(a.Kind),
		TouristID:         a.TouristID,
		ZoneID:            a.ZoneID,
		ZoneName:          a.ZoneName,
		Severity:          int(a.Severity),
		Scope:             a.Scope,
		Status:            string(a.Status),
		Delivery:          string(a.Delivery),
		Attempts:          a.Attempts,
		Description:       a.Description,
		RecommendedAction: a.RecommendedAction,
		Note:              a.Note,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		ResolvedAt:        a.ResolvedAt,
		LastNotifiedAt:    a.LastNotifiedAt,
	}
	if a.Location != nil {
		lat, lon := a.Location.Lat, a.Location.Lon
		rec.Lat, rec.Lon = &lat, &lon
	}
	return rec
}

func (r *AlertRecord) toModel() model.Alert {
	a := model.Alert{
		ID:                r.ID,
		Kind:              model.AlertKind(r.Kind),
		TouristID:         r.TouristID,
		ZoneID:            r.ZoneID,
		ZoneName:          r.ZoneName,
		Severity:          model.Severity(r.Severity),
		Scope:             r.Scope,
		Status:            model.AlertStatus(r.Status),
		Delivery:          model.DeliveryState(r.Delivery),
		Attempts:          r.Attempts,
		Description:       r.Description,
		RecommendedAction: r.RecommendedAction,
		Note:              r.Note,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		ResolvedAt:        r.ResolvedAt,
		LastNotifiedAt:    r.LastNotifiedAt,
	}
	if r.Lat != nil && r.Lon != nil {
		a.Location = &geo.Point{Lat: *r.Lat, Lon: *r.Lon}
	}
	return a
}

func touristRecord(t *model.Tourist) (*TouristRecord, []MembershipRecord) {
	rec := &TouristRecord{
		ID:           t.ID,
		Name:         t.Name,
		Scope:        t.Scope,
		LastSequence: t.LastSequence,
		Position:     t.Position,
		Score:        t.Score,
		ScoreAt:      t.ScoreAt,
		RegisteredAt: t.RegisteredAt,
	}
	ms := make([]MembershipRecord, 0, len(t.Zones))
	for _, m := range t.Zones {
		ms = append(ms, MembershipRecord{TouristID: t.ID, ZoneID: m.ZoneID, EnteredAt: m.EnteredAt})
	}
	return rec, ms
}

func (r *TouristRecord) toModel(ms []MembershipRecord) model.Tourist {
	t := model.Tourist{
		ID:           r.ID,
		Name:         r.Name,
		Scope:        r.Scope,
		LastSequence: r.LastSequence,
		Position:     r.Position,
		Score:        r.Score,
		ScoreAt:      r.ScoreAt,
		RegisteredAt: r.RegisteredAt,
		Zones:        []model.Membership{},
	}
	for _, m := range ms {
		t.Zones = append(t.Zones, model.Membership{ZoneID: m.ZoneID, EnteredAt: m.EnteredAt})
	}
	return t
}
