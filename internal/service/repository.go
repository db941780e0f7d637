package service

import (
	"context"

	"tourguard/internal/model"
)

// ZoneRepository persists every zone version, retired ones included.
type ZoneRepository interface {
	SaveZone(ctx context.Context, z *model.Zone) error
	LoadZones(ctx context.Context) ([]model.Zone, error)
}

// AlertRepository persists alerts. SaveAlert is an upsert keyed by ID.
type AlertRepository interface {
	SaveAlert(ctx context.Context, a *model.Alert) error
	LoadOpenAlerts(ctx context.Context) ([]model.Alert, error)
	ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
}

// TouristRepository persists shard state so memberships survive a restart.
type TouristRepository interface {
	SaveTourist(ctx context.Context, t *model.Tourist) error
	DeleteTourist(ctx context.Context, id string) error
	LoadTourists(ctx context.Context) ([]model.Tourist, error)
}

type Repository interface {
	ZoneRepository
	AlertRepository
	TouristRepository
}

// Cache is the read-side mirror used by dashboards. All methods are best effort.
type Cache interface {
	SetTouristStatus(ctx context.Context, st *model.TouristStatus) error
	DeleteTouristStatus(ctx context.Context, touristID string) error
	PushAlert(ctx context.Context, a *model.Alert) error
	SetZones(ctx context.Context, version uint64, zones []model.Zone) error
}
