package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"tourguard/internal/geo"
	"tourguard/internal/metrics"
	"tourguard/internal/model"
)

// EngineDeps are the collaborators of the engine. Only Zones is required.
type EngineDeps struct {
	Zones    *ZoneStore
	Repo     Repository
	Cache    Cache
	Notifier Notifier
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Engine is the tracking pipeline: PositionIngest, ProximityEvaluator,
// AlertRouter and SafetyScorer, sharded by tourist. Within a shard every
// operation runs sequentially; shards share nothing but the zone snapshot.
type Engine struct {
	cfg        EngineConfig
	zones      *ZoneStore
	repo       Repository
	cache      Cache
	metrics    *metrics.Metrics
	now        func() time.Time
	ingest     *PositionIngest
	evaluator  ProximityEvaluator
	scorer     *SafetyScorer
	dispatcher *Dispatcher
	shards     []*shard

	startMu sync.Mutex
	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	// pending notifications found on restore, sent on Start
	resend []model.Notification
}

func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Zones == nil {
		deps.Zones = NewZoneStore(nil, nil, deps.Metrics, cfg.CellSize)
	}
	e := &Engine{
		cfg:     cfg,
		zones:   deps.Zones,
		repo:    deps.Repo,
		cache:   deps.Cache,
		metrics: deps.Metrics,
		now:     deps.Clock,
		ingest:  NewPositionIngest(cfg.MaxSpeedKmh, cfg.HistorySize, cfg.MaxAccuracy),
		scorer:  NewSafetyScorer(cfg.Score),
		done:    make(chan struct{}),
	}
	e.dispatcher = NewDispatcher(deps.Notifier, cfg.Delivery, deps.Metrics, e.onDelivery)
	e.shards = make([]*shard, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = newShard(i, cfg.QueueSize, NewAlertRouter(cfg.RateLimitWindow, cfg.ForwardMinSeverity, cfg.ResolvedRetention))
	}
	return e
}

// Zones returns the zone store the engine evaluates against.
func (e *Engine) Zones() *ZoneStore { return e.zones }

// Start launches the shard loops, the delivery workers and the sweeper.
func (e *Engine) Start(ctx context.Context) {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.running.Load() {
		return
	}
	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *shard) {
			defer e.wg.Done()
			s.run(e.done)
		}(s)
	}
	e.dispatcher.Start()
	e.running.Store(true)

	for _, n := range e.resend {
		e.forward(n)
	}
	e.resend = nil

	e.wg.Add(1)
	go e.sweeper(ctx)
	log.Printf("[Engine] Started with %d shards", len(e.shards))
}

// Stop halts all goroutines. Safe to call more than once.
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	close(e.done)
	e.dispatcher.Stop()
	e.wg.Wait()
	log.Println("[Engine] Stopped")
}

func (e *Engine) sweeper(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil && !errors.Is(err, ErrEngineStopped) && ctx.Err() == nil {
				log.Printf("[Engine] Sweep failed: %v", err)
			}
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

func (e *Engine) shardFor(touristID string) *shard {
	return e.shards[xxhash.Sum64String(touristID)%uint64(len(e.shards))]
}

func (e *Engine) newTourist(id string, now time.Time) *touristState {
	return &touristState{
		id:           id,
		track:        e.ingest.newTrack(),
		score:        e.scorer.Baseline(),
		scoreAt:      now,
		registeredAt: now,
	}
}

// SubmitPosition runs one sample through ingest, evaluation, routing and
// scoring. Ordering and jump rejections are reported in the result, not as an
// error; err is set for invalid input or when the engine cannot take work.
func (e *Engine) SubmitPosition(ctx context.Context, s model.PositionSample) (model.IngestResult, error) {
	if strings.TrimSpace(s.TouristID) == "" {
		return model.IngestResult{}, model.Invalid("tourist_id", "tourist_id is required")
	}
	sh := e.shardFor(s.TouristID)
	var res model.IngestResult
	err := e.do(ctx, sh, false, func() {
		res = e.processSample(sh, s)
	})
	if err != nil {
		return model.IngestResult{}, err
	}
	return sampleOutcome(res, s)
}

// SubmitPositionAsync queues s on its tourist's shard and returns as soon as
// it is queued, so callers feeding many tourists are not serialised behind
// one shard. done runs on the shard goroutine once the sample is handled and
// persisted; it must not block. ctx bounds only the wait for queue space.
func (e *Engine) SubmitPositionAsync(ctx context.Context, s model.PositionSample, done func(model.IngestResult, error)) error {
	if strings.TrimSpace(s.TouristID) == "" {
		return model.Invalid("tourist_id", "tourist_id is required")
	}
	sh := e.shardFor(s.TouristID)
	return e.enqueue(ctx, sh, false, func() {
		res := e.processSample(sh, s)
		if done != nil {
			done(sampleOutcome(res, s))
		}
	})
}

func (e *Engine) processSample(sh *shard, s model.PositionSample) model.IngestResult {
	res, w := e.handleSample(sh, s)
	e.flush(sh, &w)
	return res
}

func sampleOutcome(res model.IngestResult, s model.PositionSample) (model.IngestResult, error) {
	if res.Reason == model.RejectInvalidCoordinate {
		return res, &model.RejectError{Reason: res.Reason, Detail: fmt.Sprintf("lat=%v lon=%v accuracy=%v", s.Lat, s.Lon, s.Accuracy)}
	}
	return res, nil
}

func (e *Engine) handleSample(sh *shard, s model.PositionSample) (model.IngestResult, writes) {
	start := time.Now()
	now := e.now()
	var w writes

	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts, known := sh.tourists[s.TouristID]
	if !known {
		ts = e.newTourist(s.TouristID, now)
	}

	if rej := e.ingest.Check(ts.track, s); rej != nil {
		e.metrics.Sample(string(rej.Reason))
		res := model.IngestResult{Reason: rej.Reason, Score: ts.score}
		if rej.Reason == model.RejectImplausibleJump {
			pt := s.Point()
			r := sh.router.Route(Event{
				Kind:        model.AlertAnomaly,
				TouristID:   ts.id,
				Scope:       e.alertScope(ts),
				Location:    &pt,
				Description: "implausible jump: " + rej.Detail,
				At:          now,
			})
			e.applyRoute(ts, r, &w, &res)
			w.tourist = ts.record()
		}
		return res, w
	}

	if !known {
		sh.tourists[ts.id] = ts
	}
	e.decay(sh, ts, now)
	e.ingest.Accept(ts.track, s, now)
	e.metrics.Sample("accepted")

	res := model.IngestResult{Accepted: true}
	snap := e.zones.Snapshot()
	pt := s.Point()
	next, transitions := e.evaluator.Evaluate(ts.zones, snap, pt, s.Time())
	ts.zones = next
	res.Transitions = transitions

	for _, tr := range transitions {
		e.metrics.Transition(string(tr.Kind))
		zone, ok := snap.Zone(tr.ZoneID)
		if !ok {
			// retired since the tourist entered it
			zone = &model.Zone{ID: tr.ZoneID}
		}
		kind := model.AlertZoneEntry
		if tr.Kind == model.TransitionExit {
			kind = model.AlertZoneExit
		}
		r := sh.router.Route(Event{Kind: kind, TouristID: ts.id, Zone: zone, Location: &pt, At: now})
		e.applyRoute(ts, r, &w, &res)
	}
	e.retrySuppressed(sh, ts, snap, transitions, pt, now, &w, &res)

	ts.idleRaised = false
	if a, ok := sh.router.ResolveKey(model.AlertKey{TouristID: ts.id, Kind: model.AlertInactivity}, now, "position received"); ok {
		e.applyRoute(ts, RouteResult{Outcome: OutcomeResolved, Alert: a}, &w, &res)
	}

	res.Score = ts.score
	w.tourist = ts.record()
	st := e.status(sh, ts, snap, false)
	w.status = &st
	e.metrics.ObserveEvaluation(time.Since(start))
	return res, w
}

// retrySuppressed raises the entry alert for zones the tourist re-entered
// inside the rate-limit window and has stayed in since. Callers hold the
// shard lock.
func (e *Engine) retrySuppressed(sh *shard, ts *touristState, snap *ZoneSnapshot, transitions []model.ZoneTransition, pt geo.Point, now time.Time, w *writes, res *model.IngestResult) {
	for _, m := range ts.zones {
		key := model.AlertKey{TouristID: ts.id, Kind: model.AlertZoneEntry, ZoneID: m.ZoneID}
		if !sh.router.Suppressed(key) || transitionedIn(transitions, m.ZoneID) {
			continue
		}
		zone, ok := snap.Zone(m.ZoneID)
		if !ok {
			continue
		}
		r := sh.router.Route(Event{Kind: model.AlertZoneEntry, TouristID: ts.id, Zone: zone, Location: &pt, At: now})
		if r.Outcome == OutcomeCreated {
			e.applyRoute(ts, r, w, res)
		}
	}
}

func transitionedIn(ts []model.ZoneTransition, zoneID string) bool {
	for _, t := range ts {
		if t.ZoneID == zoneID {
			return true
		}
	}
	return false
}

// applyRoute folds a routing result into the tourist's score and the
// pending writes. Callers hold the shard lock.
func (e *Engine) applyRoute(ts *touristState, r RouteResult, w *writes, res *model.IngestResult) {
	kind := r.Kind
	if r.Alert != nil {
		kind = r.Alert.Kind
	}
	e.metrics.Alert(string(kind), string(r.Outcome))
	switch r.Outcome {
	case OutcomeCreated:
		ts.score = e.scorer.OnAlert(ts.score, r.Alert)
		w.alert(r.Alert)
		w.created = append(w.created, *r.Alert)
		if r.Forward {
			n := r.Alert.Notification()
			n.Urgent = r.Alert.Kind == model.AlertPanic
			w.forward = append(w.forward, n)
			e.metrics.Alert(string(r.Alert.Kind), "forwarded")
		}
	case OutcomeResolved:
		ts.score = e.scorer.OnAlert(ts.score, r.Alert)
		w.alert(r.Alert)
	case OutcomeRefreshed:
		w.alert(r.Alert)
	}
	if res != nil && r.Alert != nil {
		res.Alerts = append(res.Alerts, *r.Alert)
	}
}

// decay drifts the score for the time since its last update. Open alerts
// that carry a penalty hold the drift.
func (e *Engine) decay(sh *shard, ts *touristState, now time.Time) {
	holding := sh.router.HasOpen(ts.id, func(a *model.Alert) bool { return e.scorer.Holds(a.Severity) })
	ts.score = e.scorer.Decay(ts.score, now.Sub(ts.scoreAt), holding)
	ts.scoreAt = now
}

// alertScope picks the authority scope for alerts not tied to a zone: the
// scope of the most severe zone the tourist is in, else their registered one.
func (e *Engine) alertScope(ts *touristState) string {
	snap := e.zones.Snapshot()
	var best *model.Zone
	for _, m := range ts.zones {
		z, ok := snap.Zone(m.ZoneID)
		if !ok || z.Scope == "" {
			continue
		}
		if best == nil || z.Severity > best.Severity {
			best = z
		}
	}
	if best != nil {
		return best.Scope
	}
	return ts.scope
}

func (e *Engine) status(sh *shard, ts *touristState, snap *ZoneSnapshot, withNearby bool) model.TouristStatus {
	open := sh.router.OpenAlerts(ts.id)
	class := model.ClassifyScore(ts.score)
	st := model.TouristStatus{
		TouristID:      ts.id,
		Name:           ts.name,
		Scope:          ts.scope,
		Region:         e.alertScope(ts),
		Location:       zoneNames(snap, ts.zones),
		Zones:          append([]model.Membership{}, ts.zones...),
		Score:          ts.score,
		Classification: class,
		State:          model.StateOf(class, open, len(ts.zones) > 0),
		OpenAlerts:     len(open),
		ZoneVersion:    snap.Version,
	}
	if ts.track.hasLast {
		last := ts.track.last
		st.Position = &last
		seen := ts.track.acceptedAt
		st.LastSeen = &seen
		st.Recent = ts.track.history.items()
		if withNearby && e.cfg.NearbyRadius > 0 {
			st.Nearby = snap.Nearby(last.Point(), e.cfg.NearbyRadius)
		}
	}
	return st
}

func zoneNames(snap *ZoneSnapshot, ms []model.Membership) string {
	names := make([]string, 0, len(ms))
	for _, m := range ms {
		if z, ok := snap.Zone(m.ZoneID); ok && z.Name != "" {
			names = append(names, z.Name)
		} else {
			names = append(names, m.ZoneID)
		}
	}
	return strings.Join(names, ", ")
}

// flush persists and forwards what a task produced. It runs on the shard
// goroutine without the shard lock. Failures are logged; in-memory state
// stays the source of truth.
func (e *Engine) flush(sh *shard, w *writes) {
	if w.empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
	defer cancel()

	if e.repo != nil {
		for i := range w.alerts {
			if err := e.repo.SaveAlert(ctx, &w.alerts[i]); err != nil {
				log.Printf("[Engine] Failed to save alert %s: %v", w.alerts[i].ID, err)
			}
		}
		if w.tourist != nil {
			if err := e.repo.SaveTourist(ctx, w.tourist); err != nil {
				log.Printf("[Engine] Failed to save tourist %s: %v", w.tourist.ID, err)
			}
		}
		if w.deleteTourist != "" {
			if err := e.repo.DeleteTourist(ctx, w.deleteTourist); err != nil {
				log.Printf("[Engine] Failed to delete tourist %s: %v", w.deleteTourist, err)
			}
		}
	}
	if e.cache != nil {
		for i := range w.created {
			if err := e.cache.PushAlert(ctx, &w.created[i]); err != nil {
				log.Printf("[Engine] Failed to cache alert %s: %v", w.created[i].ID, err)
			}
		}
		if w.status != nil {
			if err := e.cache.SetTouristStatus(ctx, w.status); err != nil {
				log.Printf("[Engine] Failed to cache status of %s: %v", w.status.TouristID, err)
			}
		}
		if w.deleteTourist != "" {
			if err := e.cache.DeleteTouristStatus(ctx, w.deleteTourist); err != nil {
				log.Printf("[Engine] Failed to drop cached status of %s: %v", w.deleteTourist, err)
			}
		}
	}
	for _, n := range w.forward {
		if !e.dispatcher.Enqueue(n) {
			e.applyDelivery(sh, DeliveryReport{
				AlertID:   n.AlertID,
				TouristID: n.TouristID,
				Err:       fmt.Errorf("%w: delivery queue full", model.ErrDeliveryFailed),
				At:        e.now(),
			})
		}
	}
}

func (e *Engine) forward(n model.Notification) {
	if !e.dispatcher.Enqueue(n) {
		log.Printf("[Engine] Could not queue alert %s for delivery", n.AlertID)
	}
}

// onDelivery is called by dispatcher workers; the report is applied on the
// owning shard.
func (e *Engine) onDelivery(r DeliveryReport) {
	sh := e.shardFor(r.TouristID)
	err := e.do(context.Background(), sh, false, func() { e.applyDelivery(sh, r) })
	if err != nil && !errors.Is(err, ErrEngineStopped) && !errors.Is(err, ErrEngineNotStarted) {
		log.Printf("[Engine] Dropped delivery report for %s: %v", r.AlertID, err)
	}
}

func (e *Engine) applyDelivery(sh *shard, r DeliveryReport) {
	state := model.DeliveryDelivered
	if r.Err != nil {
		state = model.DeliveryFailed
	}
	sh.mu.Lock()
	a, ok := sh.router.MarkDelivery(r.AlertID, state, r.Attempts, r.At)
	var cp model.Alert
	if ok {
		cp = *a
	}
	sh.mu.Unlock()
	if !ok {
		return
	}
	if r.Err != nil {
		log.Printf("[Engine] Alert %s marked %s: %v", r.AlertID, state, r.Err)
	}
	if e.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
		defer cancel()
		if err := e.repo.SaveAlert(ctx, &cp); err != nil {
			log.Printf("[Engine] Failed to save delivery state of %s: %v", cp.ID, err)
		}
	}
}

// Panic raises a high-severity alert that bypasses suppression and jumps
// ahead of queued routine work for the tourist's shard. Unknown tourists are
// created. A nil location falls back to the last accepted position.
func (e *Engine) Panic(ctx context.Context, touristID string, location *geo.Point, message string) (model.Alert, error) {
	if strings.TrimSpace(touristID) == "" {
		return model.Alert{}, model.Invalid("tourist_id", "tourist_id is required")
	}
	if location != nil && !location.Valid() {
		return model.Alert{}, model.Invalid("location", "coordinate out of range")
	}
	if message == "" {
		message = "Panic button pressed"
	}
	sh := e.shardFor(touristID)
	var out model.Alert
	err := e.do(ctx, sh, true, func() {
		now := e.now()
		var w writes
		sh.mu.Lock()
		ts, ok := sh.tourists[touristID]
		if !ok {
			ts = e.newTourist(touristID, now)
			sh.tourists[touristID] = ts
		}
		loc := location
		if loc == nil && ts.track.hasLast {
			p := ts.track.last.Point()
			loc = &p
		}
		e.decay(sh, ts, now)
		r := sh.router.Route(Event{
			Kind:        model.AlertPanic,
			TouristID:   ts.id,
			Scope:       e.alertScope(ts),
			Location:    loc,
			Description: message,
			At:          now,
		})
		e.applyRoute(ts, r, &w, nil)
		out = *r.Alert
		w.tourist = ts.record()
		st := e.status(sh, ts, e.zones.Snapshot(), false)
		w.status = &st
		sh.mu.Unlock()
		e.flush(sh, &w)
	})
	if err != nil {
		return model.Alert{}, err
	}
	log.Printf("[Engine] PANIC from tourist %s, alert %s", touristID, out.ID)
	return out, nil
}

// RegisterTourist creates a tourist or updates their name and scope.
func (e *Engine) RegisterTourist(ctx context.Context, id, name, scope string) (model.TouristStatus, error) {
	if strings.TrimSpace(id) == "" {
		return model.TouristStatus{}, model.Invalid("tourist_id", "tourist_id is required")
	}
	sh := e.shardFor(id)
	var st model.TouristStatus
	err := e.do(ctx, sh, false, func() {
		now := e.now()
		var w writes
		sh.mu.Lock()
		ts, ok := sh.tourists[id]
		if !ok {
			ts = e.newTourist(id, now)
			sh.tourists[id] = ts
		}
		ts.name = name
		ts.scope = scope
		w.tourist = ts.record()
		st = e.status(sh, ts, e.zones.Snapshot(), false)
		w.status = &st
		sh.mu.Unlock()
		e.flush(sh, &w)
	})
	return st, err
}

// EndSession archives a tourist: open alerts are resolved, memberships are
// dropped without Exit alerts and the shard forgets them.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	sh := e.shardFor(id)
	var found bool
	err := e.do(ctx, sh, false, func() {
		now := e.now()
		var w writes
		sh.mu.Lock()
		ts, ok := sh.tourists[id]
		found = ok
		if ok {
			for _, a := range sh.router.ResolveTourist(id, now, "session ended") {
				e.applyRoute(ts, RouteResult{Outcome: OutcomeResolved, Alert: a}, &w, nil)
			}
			delete(sh.tourists, id)
			w.deleteTourist = id
		}
		sh.mu.Unlock()
		e.flush(sh, &w)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("tourist %s: %w", id, model.ErrNotFound)
	}
	log.Printf("[Engine] Session ended for tourist %s", id)
	return nil
}

// locateAlert finds the shard holding an alert.
func (e *Engine) locateAlert(id string) (*shard, bool) {
	for _, sh := range e.shards {
		sh.mu.RLock()
		_, ok := sh.router.Get(id)
		sh.mu.RUnlock()
		if ok {
			return sh, true
		}
	}
	return nil, false
}

// notHeld explains why an alert the shards no longer hold cannot change.
func (e *Engine) notHeld(ctx context.Context, id string) error {
	if e.repo != nil {
		if a, err := e.repo.GetAlert(ctx, id); err == nil && !a.Status.Open() {
			return fmt.Errorf("alert %s is %s: %w", id, a.Status, model.ErrInvalidTransition)
		}
	}
	return fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
}

// UpdateAlertStatus moves an alert through Active, Investigating, Responding
// and Resolved.
func (e *Engine) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus, note string) (model.Alert, error) {
	sh, ok := e.locateAlert(id)
	if !ok {
		return model.Alert{}, e.notHeld(ctx, id)
	}
	var out model.Alert
	var opErr error
	err := e.do(ctx, sh, false, func() {
		now := e.now()
		var w writes
		sh.mu.Lock()
		a, err := sh.router.UpdateStatus(id, status, note, now)
		if err != nil {
			opErr = err
			sh.mu.Unlock()
			return
		}
		out = *a
		w.alert(a)
		if ts, ok := sh.tourists[a.TouristID]; ok {
			if a.Status == model.StatusResolved {
				e.decay(sh, ts, now)
				ts.score = e.scorer.OnAlert(ts.score, a)
				e.metrics.Alert(string(a.Kind), string(OutcomeResolved))
			}
			w.tourist = ts.record()
			st := e.status(sh, ts, e.zones.Snapshot(), false)
			w.status = &st
		}
		sh.mu.Unlock()
		e.flush(sh, &w)
	})
	if err != nil {
		return model.Alert{}, err
	}
	if opErr != nil {
		return model.Alert{}, opErr
	}
	log.Printf("[Engine] Alert %s -> %s", id, status)
	return out, nil
}

// ResendAlert queues another delivery of an open alert, typically after it
// was marked failed.
func (e *Engine) ResendAlert(ctx context.Context, id string) (model.Alert, error) {
	sh, ok := e.locateAlert(id)
	if !ok {
		return model.Alert{}, e.notHeld(ctx, id)
	}
	var out model.Alert
	var opErr error
	err := e.do(ctx, sh, false, func() {
		var w writes
		sh.mu.Lock()
		a, ok := sh.router.Get(id)
		switch {
		case !ok:
			opErr = fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
		case !a.Status.Open():
			opErr = fmt.Errorf("alert %s: %w", id, model.ErrAlertClosed)
		default:
			a.Delivery = model.DeliveryPending
			out = *a
			w.alert(a)
			n := a.Notification()
			n.Urgent = a.Kind == model.AlertPanic
			w.forward = append(w.forward, n)
		}
		sh.mu.Unlock()
		e.flush(sh, &w)
	})
	if err != nil {
		return model.Alert{}, err
	}
	return out, opErr
}

// GetActiveAlerts returns open alerts visible to scope; "" or "*" sees all.
func (e *Engine) GetActiveAlerts(scope string) []model.Alert {
	var out []model.Alert
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, a := range sh.router.OpenAlerts("") {
			if model.ScopeMatches(scope, a.Scope) {
				out = append(out, *a)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetAlert returns an alert from memory, falling back to the repository.
func (e *Engine) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	for _, sh := range e.shards {
		sh.mu.RLock()
		a, ok := sh.router.Get(id)
		var cp model.Alert
		if ok {
			cp = *a
		}
		sh.mu.RUnlock()
		if ok {
			return cp, nil
		}
	}
	if e.repo != nil {
		a, err := e.repo.GetAlert(ctx, id)
		if err != nil {
			return model.Alert{}, err
		}
		return *a, nil
	}
	return model.Alert{}, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
}

// ListAlerts returns alert history from the repository, or from memory when
// none is configured.
func (e *Engine) ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error) {
	if e.repo != nil {
		return e.repo.ListAlerts(ctx, f)
	}
	var out []model.Alert
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, a := range sh.router.byID {
			if matchFilter(a, f) {
				out = append(out, *a)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchFilter(a *model.Alert, f model.AlertFilter) bool {
	if f.Scope != "" && !model.ScopeMatches(f.Scope, a.Scope) {
		return false
	}
	if f.TouristID != "" && a.TouristID != f.TouristID {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.ResolvedSince.IsZero() && (a.ResolvedAt == nil || a.ResolvedAt.Before(f.ResolvedSince)) {
		return false
	}
	return true
}

// GetTouristStatus returns position, zones, score and nearby zones.
func (e *Engine) GetTouristStatus(id string) (model.TouristStatus, error) {
	sh := e.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ts, ok := sh.tourists[id]
	if !ok {
		return model.TouristStatus{}, fmt.Errorf("tourist %s: %w", id, model.ErrNotFound)
	}
	return e.status(sh, ts, e.zones.Snapshot(), true), nil
}

// Sweep raises inactivity alerts, decays scores and prunes resolved alerts
// on every shard. It runs on a ticker and can be called directly.
func (e *Engine) Sweep(ctx context.Context) error {
	tourists, open := 0, 0
	for _, sh := range e.shards {
		sh := sh
		err := e.do(ctx, sh, false, func() {
			now := e.now()
			var w []writes
			sh.mu.Lock()
			for _, ts := range sh.tourists {
				e.decay(sh, ts, now)
				var tw writes
				if !ts.idleRaised && ts.track.idle(now, e.cfg.IdleWindow) {
					ts.idleRaised = true
					last := ts.track.last.Point()
					r := sh.router.Route(Event{
						Kind:        model.AlertInactivity,
						TouristID:   ts.id,
						Scope:       e.alertScope(ts),
						Location:    &last,
						Description: fmt.Sprintf("no position received for %s", now.Sub(ts.track.acceptedAt).Truncate(time.Second)),
						At:          now,
					})
					e.applyRoute(ts, r, &tw, nil)
					tw.tourist = ts.record()
					w = append(w, tw)
				}
			}
			sh.router.Prune(now)
			tourists += len(sh.tourists)
			open += len(sh.router.OpenAlerts(""))
			sh.mu.Unlock()
			for i := range w {
				e.flush(sh, &w[i])
			}
		})
		if err != nil {
			return err
		}
	}
	e.metrics.SetEngineCounts(tourists, open)
	return nil
}

// Restore reloads tourists and open alerts from the repository. Call it
// before Start. Pending deliveries are re-queued when the engine starts.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	if e.running.Load() {
		return fmt.Errorf("restore on a running engine")
	}
	now := e.now()

	tourists, err := e.repo.LoadTourists(ctx)
	if err != nil {
		return fmt.Errorf("load tourists: %w", err)
	}
	for _, t := range tourists {
		sh := e.shardFor(t.ID)
		ts := e.newTourist(t.ID, now)
		ts.name = t.Name
		ts.scope = t.Scope
		ts.zones = t.Zones
		ts.score = clampScore(t.Score, e.scorer.Baseline())
		if !t.ScoreAt.IsZero() {
			ts.scoreAt = t.ScoreAt
		}
		if !t.RegisteredAt.IsZero() {
			ts.registeredAt = t.RegisteredAt
		}
		if t.Position != nil {
			e.ingest.Accept(ts.track, *t.Position, now)
		}
		ts.track.lastSeq = t.LastSequence
		sh.tourists[t.ID] = ts
	}

	alerts, err := e.repo.LoadOpenAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load open alerts: %w", err)
	}
	for _, a := range alerts {
		sh := e.shardFor(a.TouristID)
		if old := sh.router.Restore(a, now); old != nil {
			if err := e.repo.SaveAlert(ctx, old); err != nil {
				log.Printf("[Engine] Failed to save superseded alert %s: %v", old.ID, err)
			}
		}
	}
	for _, sh := range e.shards {
		for _, a := range sh.router.OpenAlerts("") {
			if a.Delivery == model.DeliveryPending {
				n := a.Notification()
				n.Urgent = a.Kind == model.AlertPanic
				e.resend = append(e.resend, n)
			}
		}
	}
	log.Printf("[Engine] Restored %d tourists and %d open alerts", len(tourists), len(alerts))
	return nil
}
