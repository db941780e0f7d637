package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tourguard/internal/model"
)

// MemoryRepository keeps everything in process. Used when no database is
// configured and by the simulator.
type MemoryRepository struct {
	mu       sync.RWMutex
	zones    map[string]model.Zone
	alerts   map[string]model.Alert
	tourists map[string]model.Tourist
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		zones:    make(map[string]model.Zone),
		alerts:   make(map[string]model.Alert),
		tourists: make(map[string]model.Tourist),
	}
}

func (r *MemoryRepository) SaveZone(_ context.Context, z *model.Zone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *z
	cp.Shape = nil
	r.zones[z.ID] = cp
	return nil
}

func (r *MemoryRepository) LoadZones(context.Context) ([]model.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *MemoryRepository) SaveAlert(_ context.Context, a *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) LoadOpenAlerts(context.Context) ([]model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Alert
	for _, a := range r.alerts {
		if a.Status.Open() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAlerts applies the same filter semantics as GormRepository.
func (r *MemoryRepository) ListAlerts(_ context.Context, f model.AlertFilter) ([]model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Alert
	for _, a := range r.alerts {
		if !model.ScopeMatches(f.Scope, a.Scope) {
			continue
		}
		if f.TouristID != "" && a.TouristID != f.TouristID {
			continue
		}
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.ResolvedSince.IsZero() && (a.ResolvedAt == nil || a.ResolvedAt.Before(f.ResolvedSince)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	return &a, nil
}

func (r *MemoryRepository) SaveTourist(_ context.Context, t *model.Tourist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	cp.Zones = append([]model.Membership(nil), t.Zones...)
	r.tourists[t.ID] = cp
	return nil
}

func (r *MemoryRepository) DeleteTourist(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tourists, id)
	return nil
}

func (r *MemoryRepository) LoadTourists(context.Context) ([]model.Tourist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Tourist, 0, len(r.tourists))
	for _, t := range r.tourists {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
