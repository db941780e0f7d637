package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tourguard/internal/model"
)

const (
	statusKeyPrefix = "tourguard:status:"
	recentAlertsKey = "tourguard:alerts:recent"
	zonesKey        = "tourguard:zones"
	zonesVersionKey = "tourguard:zones:version"
)

// ErrMiss is returned when a key is not cached.
var ErrMiss = errors.New("cache miss")

// RedisCache mirrors tourist status, recent alerts and the active zone set
// into Redis for dashboards.
type RedisCache struct {
	redis     *redis.Client
	statusTTL time.Duration
	recentMax int64
}

// NewRedisCache creates a cache. statusTTL bounds how long a silent
// tourist's status stays visible; recentMax caps the recent alerts list.
func NewRedisCache(client *redis.Client, statusTTL time.Duration, recentMax int) *RedisCache {
	if recentMax <= 0 {
		recentMax = 200
	}
	return &RedisCache{redis: client, statusTTL: statusTTL, recentMax: int64(recentMax)}
}

func statusKey(touristID string) string {
	return statusKeyPrefix + touristID
}

func (c *RedisCache) SetTouristStatus(ctx context.Context, st *model.TouristStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, statusKey(st.TouristID), data, c.statusTTL).Err()
}

func (c *RedisCache) DeleteTouristStatus(ctx context.Context, touristID string) error {
	return c.redis.Del(ctx, statusKey(touristID)).Err()
}

// GetTouristStatus returns ErrMiss when nothing is cached.
func (c *RedisCache) GetTouristStatus(ctx context.Context, touristID string) (*model.TouristStatus, error) {
	data, err := c.redis.Get(ctx, statusKey(touristID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var st model.TouristStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", touristID, err)
	}
	return &st, nil
}

// PushAlert prepends the alert to the bounded recent list.
func (c *RedisCache) PushAlert(ctx context.Context, a *model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := c.redis.TxPipeline()
	pipe.LPush(ctx, recentAlertsKey, data)
	pipe.LTrim(ctx, recentAlertsKey, 0, c.recentMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentAlerts returns up to n alerts, newest first. Entries that no longer
// decode are skipped.
func (c *RedisCache) RecentAlerts(ctx context.Context, n int) ([]model.Alert, error) {
	if n <= 0 || int64(n) > c.recentMax {
		n = int(c.recentMax)
	}
	items, err := c.redis.LRange(ctx, recentAlertsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	alerts := make([]model.Alert, 0, len(items))
	for _, item := range items {
		var a model.Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// SetZones replaces the cached zone set. Older versions never overwrite newer
// ones.
func (c *RedisCache) SetZones(ctx context.Context, version uint64, zones []model.Zone) error {
	current, err := c.redis.Get(ctx, zonesVersionKey).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil && current > version {
		return nil
	}
	data, err := json.Marshal(zones)
	if err != nil {
		return err
	}
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, zonesKey, data, 0)
	pipe.Set(ctx, zonesVersionKey, strconv.FormatUint(version, 10), 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Zones returns the cached zone set and its version.
func (c *RedisCache) Zones(ctx context.Context) ([]model.Zone, uint64, error) {
	version, err := c.redis.Get(ctx, zonesVersionKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrMiss
	}
	if err != nil {
		return nil, 0, err
	}
	data, err := c.redis.Get(ctx, zonesKey).Bytes()
	if err != nil {
		return nil, 0, err
	}
	var zones []model.Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, 0, err
	}
	return zones, version, nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
