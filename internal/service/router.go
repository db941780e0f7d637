package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

// Outcome of routing one event.
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeRefreshed  Outcome = "refreshed"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeResolved   Outcome = "resolved"
	OutcomeIgnored    Outcome = "ignored"
)

// Event is anything the router turns into an alert.
type Event struct {
	Kind        model.AlertKind
	TouristID   string
	Zone        *model.Zone // entry and exit only
	Scope       string
	Location    *geo.Point
	Description string
	At          time.Time
}

// RouteResult describes what happened to an event. Alert points into router
// state and must only be read while the owning shard holds its lock.
type RouteResult struct {
	Kind    model.AlertKind
	Outcome Outcome
	Alert   *model.Alert
	Forward bool
}

// AlertRouter holds the alert table of one shard. It is not safe for
// concurrent use; the shard serialises access.
type AlertRouter struct {
	window     time.Duration
	forwardMin model.Severity
	retention  time.Duration
	newID      func() string

	byID        map[string]*model.Alert
	open        map[model.AlertKey]*model.Alert
	lastCreated map[model.AlertKey]time.Time
	// entries suppressed while the tourist is still inside the zone
	suppressed map[model.AlertKey]bool
	// open alerts per tourist, panics included
	byTourist map[string]map[string]*model.Alert
}

func NewAlertRouter(window time.Duration, forwardMin model.Severity, retention time.Duration) *AlertRouter {
	return &AlertRouter{
		window:      window,
		forwardMin:  forwardMin,
		retention:   retention,
		newID:       uuid.NewString,
		byID:        make(map[string]*model.Alert),
		open:        make(map[model.AlertKey]*model.Alert),
		lastCreated: make(map[model.AlertKey]time.Time),
		suppressed:  make(map[model.AlertKey]bool),
		byTourist:   make(map[string]map[string]*model.Alert),
	}
}

// Route applies the routing rules to ev.
func (r *AlertRouter) Route(ev Event) RouteResult {
	res := r.route(ev)
	res.Kind = ev.Kind
	return res
}

func (r *AlertRouter) route(ev Event) RouteResult {
	switch ev.Kind {
	case model.AlertPanic:
		a := r.create(ev, model.SeverityHigh)
		return RouteResult{Outcome: OutcomeCreated, Alert: a, Forward: true}
	case model.AlertZoneExit:
		if ev.Zone == nil {
			return RouteResult{Outcome: OutcomeIgnored}
		}
		key := model.AlertKey{TouristID: ev.TouristID, Kind: model.AlertZoneEntry, ZoneID: ev.Zone.ID}
		delete(r.suppressed, key)
		a, ok := r.open[key]
		if !ok {
			return RouteResult{Outcome: OutcomeIgnored}
		}
		r.resolve(a, ev.At, "tourist left the zone")
		return RouteResult{Outcome: OutcomeResolved, Alert: a}
	}

	sev := model.SeverityLow
	switch ev.Kind {
	case model.AlertZoneEntry:
		if ev.Zone == nil {
			return RouteResult{Outcome: OutcomeIgnored}
		}
		sev = ev.Zone.Severity
	case model.AlertInactivity:
		sev = model.SeverityMedium
	}

	key := r.keyOf(ev)
	if a, ok := r.open[key]; ok {
		a.UpdatedAt = ev.At
		if ev.Location != nil {
			a.Location = ev.Location
		}
		return RouteResult{Outcome: OutcomeRefreshed, Alert: a}
	}
	if last, ok := r.lastCreated[key]; ok && ev.At.Sub(last) < r.window {
		if ev.Kind == model.AlertZoneEntry {
			r.suppressed[key] = true
		}
		return RouteResult{Outcome: OutcomeSuppressed}
	}

	delete(r.suppressed, key)
	a := r.create(ev, sev)
	r.open[key] = a
	r.lastCreated[key] = ev.At
	return RouteResult{Outcome: OutcomeCreated, Alert: a, Forward: a.Delivery == model.DeliveryPending}
}

func (r *AlertRouter) keyOf(ev Event) model.AlertKey {
	k := model.AlertKey{TouristID: ev.TouristID, Kind: ev.Kind}
	if ev.Zone != nil {
		k.ZoneID = ev.Zone.ID
	}
	return k
}

func (r *AlertRouter) create(ev Event, sev model.Severity) *model.Alert {
	a := &model.Alert{
		ID:          r.newID(),
		Kind:        ev.Kind,
		TouristID:   ev.TouristID,
		Severity:    sev,
		Scope:       ev.Scope,
		Status:      model.StatusActive,
		Delivery:    model.DeliveryNotRequired,
		Description: ev.Description,
		Location:    ev.Location,
		CreatedAt:   ev.At,
		UpdatedAt:   ev.At,
	}
	if ev.Zone != nil {
		a.ZoneID = ev.Zone.ID
		a.ZoneName = ev.Zone.Name
		a.Scope = ev.Zone.Scope
		a.RecommendedAction = ev.Zone.RecommendedAction
		if a.Description == "" {
			a.Description = ev.Zone.Description
		}
	}
	if ev.Kind == model.AlertPanic || sev >= r.forwardMin {
		a.Delivery = model.DeliveryPending
	}
	r.track(a)
	return a
}

func (r *AlertRouter) track(a *model.Alert) {
	r.byID[a.ID] = a
	m, ok := r.byTourist[a.TouristID]
	if !ok {
		m = make(map[string]*model.Alert)
		r.byTourist[a.TouristID] = m
	}
	m[a.ID] = a
}

func (r *AlertRouter) resolve(a *model.Alert, at time.Time, note string) {
	a.Status = model.StatusResolved
	a.UpdatedAt = at
	t := at
	a.ResolvedAt = &t
	if note != "" && a.Note == "" {
		a.Note = note
	}
	if a.Kind != model.AlertPanic {
		if cur, ok := r.open[a.Key()]; ok && cur == a {
			delete(r.open, a.Key())
		}
	}
	if m, ok := r.byTourist[a.TouristID]; ok {
		delete(m, a.ID)
		if len(m) == 0 {
			delete(r.byTourist, a.TouristID)
		}
	}
}

// Suppressed reports whether an entry for key was suppressed and the tourist
// has not left the zone since. The next entry routed for key once the window
// has passed raises the alert.
func (r *AlertRouter) Suppressed(key model.AlertKey) bool {
	return r.suppressed[key]
}

// OpenFor returns the open keyed alert for key, if any.
func (r *AlertRouter) OpenFor(key model.AlertKey) (*model.Alert, bool) {
	a, ok := r.open[key]
	return a, ok
}

// Get returns an alert still held by the router.
func (r *AlertRouter) Get(id string) (*model.Alert, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// UpdateStatus moves an alert through its lifecycle.
func (r *AlertRouter) UpdateStatus(id string, next model.AlertStatus, note string, at time.Time) (*model.Alert, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
	}
	if !a.Status.CanTransition(next) {
		return nil, fmt.Errorf("alert %s %s -> %s: %w", id, a.Status, next, model.ErrInvalidTransition)
	}
	if next == model.StatusResolved {
		a.Note = note
		r.resolve(a, at, note)
		return a, nil
	}
	a.Status = next
	a.UpdatedAt = at
	if note != "" {
		a.Note = note
	}
	return a, nil
}

// ResolveKey resolves the open alert for key, returning it when one existed.
func (r *AlertRouter) ResolveKey(key model.AlertKey, at time.Time, note string) (*model.Alert, bool) {
	a, ok := r.open[key]
	if !ok {
		return nil, false
	}
	r.resolve(a, at, note)
	return a, true
}

// ResolveTourist resolves every open alert of a tourist and forgets its
// rate-limit history.
func (r *AlertRouter) ResolveTourist(touristID string, at time.Time, note string) []*model.Alert {
	out := r.OpenAlerts(touristID)
	for _, a := range out {
		r.resolve(a, at, note)
	}
	for k := range r.lastCreated {
		if k.TouristID == touristID {
			delete(r.lastCreated, k)
		}
	}
	for k := range r.suppressed {
		if k.TouristID == touristID {
			delete(r.suppressed, k)
		}
	}
	return out
}

// MarkDelivery records a delivery report. Resolved alerts keep their
// delivery state unless the report is a success.
func (r *AlertRouter) MarkDelivery(id string, state model.DeliveryState, attempts int, at time.Time) (*model.Alert, bool) {
	a, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	if !a.Status.Open() && state != model.DeliveryDelivered {
		return nil, false
	}
	a.Delivery = state
	a.Attempts += attempts
	if state == model.DeliveryDelivered {
		t := at
		a.LastNotifiedAt = &t
	}
	return a, true
}

// OpenAlerts returns the open alerts, optionally for one tourist, oldest first.
func (r *AlertRouter) OpenAlerts(touristID string) []*model.Alert {
	var out []*model.Alert
	if touristID != "" {
		for _, a := range r.byTourist[touristID] {
			out = append(out, a)
		}
	} else {
		for _, m := range r.byTourist {
			for _, a := range m {
				out = append(out, a)
			}
		}
	}
	sortAlerts(out)
	return out
}

// HasOpen reports whether the tourist has an open alert matching fn.
func (r *AlertRouter) HasOpen(touristID string, fn func(*model.Alert) bool) bool {
	for _, a := range r.byTourist[touristID] {
		if fn(a) {
			return true
		}
	}
	return false
}

// Restore loads an open alert back into the table after a restart. If the
// key already holds an open alert, the older of the two is resolved and
// returned so the caller can persist it.
func (r *AlertRouter) Restore(a model.Alert, at time.Time) *model.Alert {
	if !a.Status.Open() {
		return nil
	}
	cp := &a
	r.track(cp)
	if cp.Kind == model.AlertPanic {
		return nil
	}
	key := cp.Key()
	if last, ok := r.lastCreated[key]; !ok || cp.CreatedAt.After(last) {
		r.lastCreated[key] = cp.CreatedAt
	}
	cur, ok := r.open[key]
	if !ok {
		r.open[key] = cp
		return nil
	}
	older := cp
	if cur.CreatedAt.Before(cp.CreatedAt) {
		older = cur
		r.open[key] = cp
	}
	r.resolve(older, at, "superseded on restore")
	return older
}

// Prune drops resolved alerts older than the retention and rate-limit entries
// that can no longer suppress anything.
func (r *AlertRouter) Prune(now time.Time) int {
	n := 0
	for id, a := range r.byID {
		if !a.Status.Open() && a.ResolvedAt != nil && now.Sub(*a.ResolvedAt) >= r.retention {
			delete(r.byID, id)
			n++
		}
	}
	for k, t := range r.lastCreated {
		if now.Sub(t) >= r.window {
			delete(r.lastCreated, k)
		}
	}
	return n
}

func sortAlerts(as []*model.Alert) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}
