package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tourguard/internal/model"
)

// Open connects to the database named by dsn. postgres:// URLs use the
// postgres driver, "sqlite:" prefixed paths use sqlite.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return gorm.Open(postgres.Open(dsn), cfg)
	case strings.HasPrefix(dsn, "sqlite:"):
		return gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), cfg)
	default:
		return nil, fmt.Errorf("unsupported database url %q", dsn)
	}
}

// IsPostgres reports whether dsn points at postgres.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// AutoMigrate creates the schema from the record types. Used for sqlite;
// postgres goes through Migrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ZoneRecord{},
		&ZoneVersionRecord{},
		&AlertRecord{},
		&TouristRecord{},
		&MembershipRecord{},
	)
}

// GormRepository persists zones, alerts and tourist state through gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a repository on db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// SaveZone upserts the current zone row and appends a history row.
func (r *GormRepository) SaveZone(ctx context.Context, z *model.Zone) error {
	rec := zoneRecord(z)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
			return err
		}
		return tx.Create(&ZoneVersionRecord{
			ZoneID:     z.ID,
			Version:    z.Version,
			Name:       z.Name,
			Severity:   int(z.Severity),
			Geometry:   z.Geometry,
			Active:     z.Active,
			RecordedAt: z.UpdatedAt,
		}).Error
	})
}

// LoadZones returns every zone, retired ones included, ordered by version.
func (r *GormRepository) LoadZones(ctx context.Context) ([]model.Zone, error) {
	var recs []ZoneRecord
	if err := r.db.WithContext(ctx).Order("version asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	zones := make([]model.Zone, 0, len(recs))
	for i := range recs {
		zones = append(zones, recs[i].toModel())
	}
	return zones, nil
}

// ZoneHistory returns the recorded versions of one zone, oldest first.
func (r *GormRepository) ZoneHistory(ctx context.Context, zoneID string) ([]ZoneVersionRecord, error) {
	var recs []ZoneVersionRecord
	err := r.db.WithContext(ctx).
		Where("zone_id = ?", zoneID).
		Order("version asc").
		Find(&recs).Error
	return recs, err
}

func (r *GormRepository) SaveAlert(ctx context.Context, a *model.Alert) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(alertRecord(a)).Error
}

// LoadOpenAlerts returns every unresolved alert, oldest first.
func (r *GormRepository) LoadOpenAlerts(ctx context.Context) ([]model.Alert, error) {
	var recs []AlertRecord
	err := r.db.WithContext(ctx).
		Where("status <> ?", string(model.StatusResolved)).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	alerts := make([]model.Alert, 0, len(recs))
	for i := range recs {
		alerts = append(alerts, recs[i].toModel())
	}
	return alerts, nil
}

// ListAlerts returns alerts matching f, newest first.
func (r *GormRepository) ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error) {
	q := r.db.WithContext(ctx).Model(&AlertRecord{})
	if f.Scope != "" && f.Scope != "*" {
		q = q.Where("scope = ?", f.Scope)
	}
	if f.TouristID != "" {
		q = q.Where("tourist_id = ?", f.TouristID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.ResolvedSince.IsZero() {
		q = q.Where("resolved_at >= ?", f.ResolvedSince)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []AlertRecord
	if err := q.Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	alerts := make([]model.Alert, 0, len(recs))
	for i := range recs {
		alerts = append(alerts, recs[i].toModel())
	}
	return alerts, nil
}

func (r *GormRepository) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	var rec AlertRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	a := rec.toModel()
	return &a, nil
}

// SaveTourist upserts the tourist row and replaces its memberships.
func (r *GormRepository) SaveTourist(ctx context.Context, t *model.Tourist) error {
	rec, ms := touristRecord(t)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error; err != nil {
			return err
		}
		if err := tx.Where("tourist_id = ?", t.ID).Delete(&MembershipRecord{}).Error; err != nil {
			return err
		}
		if len(ms) == 0 {
			return nil
		}
		return tx.Create(&ms).Error
	})
}

func (r *GormRepository) DeleteTourist(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tourist_id = ?", id).Delete(&MembershipRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&TouristRecord{}).Error
	})
}

func (r *GormRepository) LoadTourists(ctx context.Context) ([]model.Tourist, error) {
	db := r.db.WithContext(ctx)
	var recs []TouristRecord
	if err := db.Order("id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	var ms []MembershipRecord
	if err := db.Order("entered_at asc").Find(&ms).Error; err != nil {
		return nil, err
	}
	byTourist := make(map[string][]MembershipRecord, len(recs))
	for _, m := range ms {
		byTourist[m.TouristID] = append(byTourist[m.TouristID], m)
	}
	tourists := make([]model.Tourist, 0, len(recs))
	for i := range recs {
		tourists = append(tourists, recs[i].toModel(byTourist[recs[i].ID]))
	}
	return tourists, nil
}

// PurgeResolved deletes resolved alerts last updated before cutoff.
func (r *GormRepository) PurgeResolved(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(model.StatusResolved), cutoff).
		Delete(&AlertRecord{})
	return res.RowsAffected, res.Error
}

// Ping checks the underlying connection.
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
