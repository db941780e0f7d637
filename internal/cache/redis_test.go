package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

func newTestCache(t *testing.T, recentMax int) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Hour, recentMax), mr
}

func TestTouristStatus(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 10)

	if _, err := c.GetTouristStatus(ctx, "t1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("empty cache: %v", err)
	}
	st := &model.TouristStatus{
		TouristID: "t1",
		Zones:     []model.Membership{{ZoneID: "forest", EnteredAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}},
		Score:     85,
	}
	if err := c.SetTouristStatus(ctx, st); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.GetTouristStatus(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Score != 85 || len(got.Zones) != 1 || got.Zones[0].ZoneID != "forest" {
		t.Fatalf("status = %+v", got)
	}
	if ttl := mr.TTL(statusKey("t1")); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := c.GetTouristStatus(ctx, "t1"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expired status still served: %v", err)
	}

	c.SetTouristStatus(ctx, st)
	if err := c.DeleteTouristStatus(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists(statusKey("t1")) {
		t.Fatal("status not deleted")
	}
}

func TestRecentAlertsBounded(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 3)
	for i := 0; i < 5; i++ {
		a := &model.Alert{ID: fmt.Sprintf("a%d", i), Kind: model.AlertZoneEntry, Severity: model.SeverityMedium}
		if err := c.PushAlert(ctx, a); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, err := c.RecentAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a4" || got[2].ID != "a2" {
		t.Fatalf("recent = %+v", got)
	}
	if got[0].Severity != model.SeverityMedium {
		t.Fatalf("severity = %v", got[0].Severity)
	}
	if two, _ := c.RecentAlerts(ctx, 2); len(two) != 2 {
		t.Fatalf("limited to %d", len(two))
	}
}

func TestZonesNeverGoBack(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 10)
	if _, _, err := c.Zones(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("empty zones: %v", err)
	}
	center := geo.Point{Lat: 27.19, Lon: 78.06}
	v2 := []model.Zone{
		{ID: "forest", Name: "Forest", Severity: model.SeverityMedium, Geometry: model.GeometrySpec{Type: model.GeometryCircle, Center: &center, Radius: 500}},
		{ID: "cliff", Name: "Cliff", Severity: model.SeverityHigh, Geometry: model.GeometrySpec{Type: model.GeometryCircle, Center: &center, Radius: 100}},
	}
	if err := c.SetZones(ctx, 2, v2); err != nil {
		t.Fatalf("set v2: %v", err)
	}
	if err := c.SetZones(ctx, 1, v2[:1]); err != nil {
		t.Fatalf("set v1: %v", err)
	}
	zones, version, err := c.Zones(ctx)
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	if version != 2 || len(zones) != 2 || zones[1].Severity != model.SeverityHigh {
		t.Fatalf("zones = v%d %+v", version, zones)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
