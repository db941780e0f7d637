package service

import (
	"sort"
	"time"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

// ProximityEvaluator diffs a tourist's stored membership against the zones
// containing a new position. It holds no state; callers apply the result.
type ProximityEvaluator struct{}

// Evaluate returns the new membership set and the transitions that lead to
// it: exits first, then entries, each ordered by zone ID. Retained zones keep
// their original entry time.
func (ProximityEvaluator) Evaluate(prev []model.Membership, snap *ZoneSnapshot, p geo.Point, at time.Time) ([]model.Membership, []model.ZoneTransition) {
	inside := snap.Query(p)

	current := make(map[string]bool, len(inside))
	for _, id := range inside {
		current[id] = true
	}
	before := make(map[string]time.Time, len(prev))
	for _, m := range prev {
		before[m.ZoneID] = m.EnteredAt
	}

	var exits, entries []model.ZoneTransition
	for _, m := range prev {
		if !current[m.ZoneID] {
			exits = append(exits, model.ZoneTransition{Kind: model.TransitionExit, ZoneID: m.ZoneID, At: at})
		}
	}

	next := make([]model.Membership, 0, len(inside))
	for _, id := range inside {
		if t, ok := before[id]; ok {
			next = append(next, model.Membership{ZoneID: id, EnteredAt: t})
			continue
		}
		next = append(next, model.Membership{ZoneID: id, EnteredAt: at})
		entries = append(entries, model.ZoneTransition{Kind: model.TransitionEntry, ZoneID: id, At: at})
	}

	sort.Slice(exits, func(i, j int) bool { return exits[i].ZoneID < exits[j].ZoneID })
	return next, append(exits, entries...)
}
