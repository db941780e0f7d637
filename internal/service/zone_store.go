package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tourguard/internal/geo"
	"tourguard/internal/metrics"
	"tourguard/internal/model"
)

// ZoneSnapshot is an immutable view of the active zones at one version.
// Never mutate a snapshot or the zones it holds.
type ZoneSnapshot struct {
	Version uint64
	Zones   []*model.Zone // sorted by ID
	byID    map[string]*model.Zone
	index   *geo.Index
}

func newZoneSnapshot(version uint64, zones []*model.Zone, cellSize float64) *ZoneSnapshot {
	sorted := append([]*model.Zone(nil), zones...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]*model.Zone, len(sorted))
	entries := make([]geo.Entry, 0, len(sorted))
	for _, z := range sorted {
		byID[z.ID] = z
		entries = append(entries, geo.Entry{ID: z.ID, Geometry: z.Shape})
	}
	return &ZoneSnapshot{
		Version: version,
		Zones:   sorted,
		byID:    byID,
		index:   geo.NewIndex(entries, cellSize),
	}
}

// Zone returns an active zone by ID.
func (s *ZoneSnapshot) Zone(id string) (*model.Zone, bool) {
	z, ok := s.byID[id]
	return z, ok
}

// Query returns the IDs of the zones containing p, sorted.
func (s *ZoneSnapshot) Query(p geo.Point) []string {
	return s.index.Query(p)
}

// Nearby returns zones within radius meters of p, nearest first.
func (s *ZoneSnapshot) Nearby(p geo.Point, radius float64) []geo.Hit {
	return s.index.Nearby(p, radius)
}

func (s *ZoneSnapshot) Len() int { return len(s.Zones) }

// ZoneStore is the versioned zone registry. Writers serialise on a mutex and
// publish a fresh snapshot with one atomic swap; readers never block.
type ZoneStore struct {
	mu       sync.Mutex
	snap     atomic.Pointer[ZoneSnapshot]
	repo     ZoneRepository
	cache    Cache
	metrics  *metrics.Metrics
	cellSize float64
	now      func() time.Time
}

// NewZoneStore returns an empty store at version 0. repo and cache may be nil.
func NewZoneStore(repo ZoneRepository, cache Cache, m *metrics.Metrics, cellSize float64) *ZoneStore {
	s := &ZoneStore{
		repo:     repo,
		cache:    cache,
		metrics:  m,
		cellSize: cellSize,
		now:      time.Now,
	}
	s.snap.Store(newZoneSnapshot(0, nil, cellSize))
	return s
}

// Snapshot returns the current snapshot.
func (s *ZoneStore) Snapshot() *ZoneSnapshot {
	return s.snap.Load()
}

// Version returns the current snapshot version.
func (s *ZoneStore) Version() uint64 {
	return s.snap.Load().Version
}

// Upsert validates z, persists it and publishes a new snapshot. An empty ID
// creates a zone. Nothing is applied when validation or persistence fails.
func (s *ZoneStore) Upsert(ctx context.Context, z model.Zone) (string, uint64, error) {
	if err := z.Validate(); err != nil {
		return "", 0, err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	z.Version = cur.Version + 1
	z.Active = true
	z.UpdatedAt = s.now().UTC()

	if s.repo != nil {
		if err := s.repo.SaveZone(ctx, &z); err != nil {
			return "", 0, fmt.Errorf("save zone %s: %w", z.ID, err)
		}
	}

	zones := make([]*model.Zone, 0, len(cur.Zones)+1)
	for _, old := range cur.Zones {
		if old.ID != z.ID {
			zones = append(zones, old)
		}
	}
	zones = append(zones, &z)
	next := newZoneSnapshot(z.Version, zones, s.cellSize)
	s.snap.Store(next)
	s.published(ctx, next)

	log.Printf("[ZoneStore] Upserted zone %s (%s) at version %d", z.ID, z.Name, z.Version)
	return z.ID, z.Version, nil
}

// Retire removes a zone from the active set. Tourists inside it get an Exit
// transition on their next accepted sample.
func (s *ZoneStore) Retire(ctx context.Context, id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	old, ok := cur.Zone(id)
	if !ok {
		return 0, fmt.Errorf("zone %s: %w", id, model.ErrNotFound)
	}

	retired := *old
	retired.Version = cur.Version + 1
	retired.Active = false
	retired.UpdatedAt = s.now().UTC()
	if s.repo != nil {
		if err := s.repo.SaveZone(ctx, &retired); err != nil {
			return 0, fmt.Errorf("retire zone %s: %w", id, err)
		}
	}

	zones := make([]*model.Zone, 0, len(cur.Zones))
	for _, z := range cur.Zones {
		if z.ID != id {
			zones = append(zones, z)
		}
	}
	next := newZoneSnapshot(retired.Version, zones, s.cellSize)
	s.snap.Store(next)
	s.published(ctx, next)

	log.Printf("[ZoneStore] Retired zone %s at version %d", id, retired.Version)
	return retired.Version, nil
}

// Load replaces the store content with what the repository holds. The
// version resumes from the highest persisted zone version.
func (s *ZoneStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64
	var zones []*model.Zone
	for i := range stored {
		z := stored[i]
		if z.Version > version {
			version = z.Version
		}
		if !z.Active {
			continue
		}
		if err := z.Validate(); err != nil {
			log.Printf("[ZoneStore] Skipping stored zone %s: %v", z.ID, err)
			continue
		}
		zones = append(zones, &z)
	}
	if cur := s.snap.Load(); cur.Version > version {
		version = cur.Version
	}
	next := newZoneSnapshot(version, zones, s.cellSize)
	s.snap.Store(next)
	s.published(ctx, next)

	log.Printf("[ZoneStore] Loaded %d active zones at version %d", len(zones), version)
	return nil
}

func (s *ZoneStore) published(ctx context.Context, snap *ZoneSnapshot) {
	s.metrics.SetZones(snap.Version, snap.Len())
	if s.cache == nil {
		return
	}
	zones := make([]model.Zone, 0, len(snap.Zones))
	for _, z := range snap.Zones {
		zones = append(zones, *z)
	}
	if err := s.cache.SetZones(ctx, snap.Version, zones); err != nil {
		log.Printf("[ZoneStore] Failed to cache zones: %v", err)
	}
}
