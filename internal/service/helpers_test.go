package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier fails the first `failures` calls, then succeeds.
type recordingNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []model.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.failures != 0 {
		if n.failures > 0 {
			n.failures--
		}
		return errors.New("channel down")
	}
	n.got = append(n.got, note)
	return nil
}

func (n *recordingNotifier) setFailures(v int) {
	n.mu.Lock()
	n.failures = v
	n.mu.Unlock()
}

func (n *recordingNotifier) delivered(kind model.AlertKind) []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Notification
	for _, note := range n.got {
		if kind == "" || note.Kind == kind {
			out = append(out, note)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Fixture zones around a hill station. Centers are far enough apart that
// only the polygon overlaps another zone.
var (
	cliffCenter  = geo.Point{Lat: 27.1751, Lon: 78.0421}
	forestCenter = geo.Point{Lat: 27.1900, Lon: 78.0600}
	riverCenter  = geo.Point{Lat: 27.1600, Lon: 78.0300}
)

func fixtureZones() []model.Zone {
	return []model.Zone{
		{
			ID: "cliff", Name: "North Cliff Edge", Category: model.CategoryNatural, Scope: "rangers",
			Severity: model.SeverityHigh, RecommendedAction: "Stay behind the railing",
			Geometry: model.GeometrySpec{Type: model.GeometryCircle, Center: &cliffCenter, Radius: 200},
		},
		{
			ID: "forest", Name: "Leopard Corridor", Category: model.CategoryWildlife, Scope: "forest-dept",
			Severity: model.SeverityMedium, RecommendedAction: "Travel in groups",
			Geometry: model.GeometrySpec{Type: model.GeometryCircle, Center: &forestCenter, Radius: 500},
		},
		{
			ID: "river", Name: "River Bank", Category: model.CategoryNatural, Scope: "rangers",
			Severity: model.SeverityLow,
			Geometry: model.GeometrySpec{Type: model.GeometryCircle, Center: &riverCenter, Radius: 300},
		},
		{
			ID: "army", Name: "Cantonment", Category: model.CategoryRestricted, Scope: "police",
			Severity: model.SeverityHigh,
			Geometry: model.GeometrySpec{Type: model.GeometryPolygon, Points: []geo.Point{
				{Lat: 27.185, Lon: 78.055}, {Lat: 27.185, Lon: 78.065}, {Lat: 27.195, Lon: 78.065}, {Lat: 27.195, Lon: 78.055},
			}},
		},
	}
}

func testConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Shards = 4
	cfg.SweepInterval = time.Hour
	cfg.Delivery.MaxAttempts = 3
	cfg.Delivery.InitialInterval = time.Millisecond
	cfg.Delivery.MaxInterval = 5 * time.Millisecond
	cfg.Delivery.AttemptTimeout = time.Second
	return cfg
}

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T, cfg EngineConfig, repo Repository) *engineFixture {
	t.Helper()
	clock := newFakeClock()
	zones := NewZoneStore(repo, nil, nil, cfg.CellSize)
	zones.now = clock.Now
	for _, z := range fixtureZones() {
		if _, _, err := zones.Upsert(context.Background(), z); err != nil {
			t.Fatalf("upsert %s: %v", z.ID, err)
		}
	}
	n := &recordingNotifier{}
	e := NewEngine(cfg, EngineDeps{Zones: zones, Repo: repo, Notifier: n, Clock: clock.Now})
	if repo != nil {
		if err := e.Restore(context.Background()); err != nil {
			t.Fatalf("restore: %v", err)
		}
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return &engineFixture{engine: e, clock: clock, notifier: n}
}

// sample builds a fix at clock time; seq also serves as an ordering hint.
func (f *engineFixture) sample(tourist string, seq uint64, p geo.Point) model.PositionSample {
	return model.PositionSample{
		TouristID: tourist,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Timestamp: f.clock.Now().UnixMilli(),
		Sequence:  seq,
		Accuracy:  5,
	}
}

func (f *engineFixture) submit(t *testing.T, s model.PositionSample) model.IngestResult {
	t.Helper()
	res, err := f.engine.SubmitPosition(context.Background(), s)
	if err != nil {
		t.Fatalf("submit %s #%d: %v", s.TouristID, s.Sequence, err)
	}
	return res
}

func zoneIDs(ms []model.Membership) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ZoneID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// memRepo is a minimal in-package Repository for restart tests.
type memRepo struct {
	mu       sync.Mutex
	zones    map[string]model.Zone
	alerts   map[string]model.Alert
	tourists map[string]model.Tourist
}

func newMemRepo() *memRepo {
	return &memRepo{
		zones:    make(map[string]model.Zone),
		alerts:   make(map[string]model.Alert),
		tourists: make(map[string]model.Tourist),
	}
}

func (r *memRepo) SaveZone(_ context.Context, z *model.Zone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *z
	cp.Shape = nil
	r.zones[z.ID] = cp
	return nil
}

func (r *memRepo) LoadZones(context.Context) ([]model.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Zone
	for _, z := range r.zones {
		out = append(out, z)
	}
	return out, nil
}

func (r *memRepo) SaveAlert(_ context.Context, a *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[a.ID] = *a
	return nil
}

func (r *memRepo) LoadOpenAlerts(context.Context) ([]model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Alert
	for _, a := range r.alerts {
		if a.Status.Open() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListAlerts(_ context.Context, f model.AlertFilter) ([]model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Alert
	for _, a := range r.alerts {
		a := a
		if matchFilter(&a, f) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &a, nil
}

func (r *memRepo) SaveTourist(_ context.Context, t *model.Tourist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tourists[t.ID] = *t
	return nil
}

func (r *memRepo) DeleteTourist(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tourists, id)
	return nil
}

func (r *memRepo) LoadTourists(context.Context) ([]model.Tourist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Tourist
	for _, t := range r.tourists {
		out = append(out, t)
	}
	return out, nil
}
