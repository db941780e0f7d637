package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"tourguard/internal/model"
)

// unassigned is the region reported for tourists with no zone and no
// registered scope.
const unassigned = "unassigned"

// visibleTo reports whether a caller scope may see a tourist, either through
// the region currently responsible for it or the scope it registered with.
func visibleTo(scope, region, registered string) bool {
	return model.ScopeMatches(scope, region) || (registered != "" && model.ScopeMatches(scope, registered))
}

// ListTourists returns the tourists visible to scope whose id, name,
// location or region contains query, case-insensitively. An empty query
// matches everyone. Results are ordered by tourist id.
func (e *Engine) ListTourists(scope, query string) []model.TouristStatus {
	q := strings.ToLower(strings.TrimSpace(query))
	snap := e.zones.Snapshot()
	var out []model.TouristStatus
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, ts := range sh.tourists {
			st := e.status(sh, ts, snap, false)
			if !visibleTo(scope, st.Region, st.Scope) || !matchesQuery(st, q) {
				continue
			}
			st.Recent = nil
			out = append(out, st)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TouristID < out[j].TouristID })
	return out
}

func matchesQuery(st model.TouristStatus, q string) bool {
	if q == "" {
		return true
	}
	for _, field := range []string{st.TouristID, st.Name, st.Location, st.Region} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Summary counts active tourists and open alerts per region, plus the alerts
// resolved since local midnight, as seen by scope.
func (e *Engine) Summary(ctx context.Context, scope string) (model.Summary, error) {
	now := e.now()
	sum := model.Summary{GeneratedAt: now}
	regions := make(map[string]*model.RegionSummary)
	region := func(name string) *model.RegionSummary {
		if name == "" {
			name = unassigned
		}
		r, ok := regions[name]
		if !ok {
			r = &model.RegionSummary{Region: name}
			regions[name] = r
		}
		return r
	}

	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, ts := range sh.tourists {
			reg := e.alertScope(ts)
			if !visibleTo(scope, reg, ts.scope) {
				continue
			}
			sum.ActiveTourists++
			region(reg).Tourists++
		}
		for _, a := range sh.router.OpenAlerts("") {
			if !model.ScopeMatches(scope, a.Scope) {
				continue
			}
			sum.ActiveAlerts++
			region(a.Scope).ActiveAlerts++
		}
		sh.mu.RUnlock()
	}

	resolved, err := e.resolvedSince(ctx, scope, startOfDay(now))
	if err != nil {
		return model.Summary{}, err
	}
	sum.ResolvedToday = resolved

	sum.Regions = make([]model.RegionSummary, 0, len(regions))
	for _, r := range regions {
		sum.Regions = append(sum.Regions, *r)
	}
	sort.Slice(sum.Regions, func(i, j int) bool { return sum.Regions[i].Region < sum.Regions[j].Region })
	return sum, nil
}

// resolvedSince counts alerts resolved at or after since. The repository
// keeps them past the in-memory retention, so it is preferred when present.
func (e *Engine) resolvedSince(ctx context.Context, scope string, since time.Time) (int, error) {
	f := model.AlertFilter{Scope: scope, Status: model.StatusResolved, ResolvedSince: since}
	if e.repo != nil {
		alerts, err := e.repo.ListAlerts(ctx, f)
		if err != nil {
			return 0, err
		}
		return len(alerts), nil
	}
	n := 0
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, a := range sh.router.byID {
			if matchFilter(a, f) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
