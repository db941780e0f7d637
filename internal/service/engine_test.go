package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

var outside = geo.Point{Lat: 27.1700, Lon: 78.0500}

func TestMembershipMatchesContainingZones(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	path := []geo.Point{
		outside,
		cliffCenter,
		{Lat: 27.1765, Lon: 78.0421}, // ~155 m north, still on the cliff
		outside,
		{Lat: 27.1800, Lon: 78.0550},
		forestCenter, // forest and cantonment
		{Lat: 27.1940, Lon: 78.0640}, // cantonment only
		riverCenter,
	}
	snap := f.engine.Zones().Snapshot()
	for i, p := range path {
		f.clock.Advance(2 * time.Minute)
		res := f.submit(t, f.sample("t1", uint64(i+1), p))
		if !res.Accepted {
			t.Fatalf("step %d rejected: %s", i, res.Reason)
		}
		st, err := f.engine.GetTouristStatus("t1")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var want []string
		for _, z := range snap.Zones {
			if z.Shape.Contains(p) {
				want = append(want, z.ID)
			}
		}
		if got := zoneIDs(st.Zones); !equalStrings(got, want) {
			t.Fatalf("step %d at %+v: zones = %v, want %v", i, p, got, want)
		}
	}
}

func TestEnterExitWithInterleavedTourists(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)

	var transitions []model.ZoneTransition
	f.clock.Advance(time.Minute)
	transitions = append(transitions, f.submit(t, f.sample("alice", 1, outside)).Transitions...)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("other-%d", i)
			for seq := uint64(1); seq <= 5; seq++ {
				p := cliffCenter
				if seq%2 == 0 {
					p = outside
				}
				s := model.PositionSample{TouristID: id, Lat: p.Lat, Lon: p.Lon, Timestamp: int64(seq) * 120000, Sequence: seq}
				if _, err := f.engine.SubmitPosition(context.Background(), s); err != nil {
					t.Errorf("submit %s: %v", id, err)
				}
			}
		}(i)
	}

	f.clock.Advance(time.Minute)
	transitions = append(transitions, f.submit(t, f.sample("alice", 2, cliffCenter)).Transitions...)
	f.clock.Advance(time.Minute)
	transitions = append(transitions, f.submit(t, f.sample("alice", 3, cliffCenter)).Transitions...)
	f.clock.Advance(time.Minute)
	transitions = append(transitions, f.submit(t, f.sample("alice", 4, outside)).Transitions...)
	wg.Wait()

	if len(transitions) != 2 {
		t.Fatalf("transitions = %+v, want entry then exit", transitions)
	}
	if transitions[0].Kind != model.TransitionEntry || transitions[0].ZoneID != "cliff" {
		t.Fatalf("first transition = %+v", transitions[0])
	}
	if transitions[1].Kind != model.TransitionExit || transitions[1].ZoneID != "cliff" {
		t.Fatalf("second transition = %+v", transitions[1])
	}
}

func TestPanicIsNeverSuppressed(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	ctx := context.Background()

	first, err := f.engine.Panic(ctx, "t1", &outside, "")
	if err != nil {
		t.Fatalf("panic: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	second, err := f.engine.Panic(ctx, "t1", &outside, "second press")
	if err != nil {
		t.Fatalf("panic: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("both panics share alert %s", first.ID)
	}
	if first.Severity != model.SeverityHigh || first.Delivery != model.DeliveryPending {
		t.Fatalf("panic alert = %+v", first)
	}
	waitFor(t, "two panic notifications", func() bool {
		return len(f.notifier.delivered(model.AlertPanic)) == 2
	})
}

func TestRepeatedEntryWithinWindowNotifiesOnce(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	forestEdge := geo.Point{Lat: 27.1900, Lon: 78.0700}

	f.submit(t, f.sample("t1", 1, forestEdge))
	f.clock.Advance(time.Minute)

	res := f.submit(t, f.sample("t1", 2, forestCenter))
	var entry *model.Alert
	for i := range res.Alerts {
		if res.Alerts[i].Kind == model.AlertZoneEntry && res.Alerts[i].ZoneID == "forest" {
			entry = &res.Alerts[i]
		}
	}
	if entry == nil || entry.Severity != model.SeverityMedium {
		t.Fatalf("expected a medium forest entry alert, got %+v", res.Alerts)
	}

	f.clock.Advance(30 * time.Second)
	f.submit(t, f.sample("t1", 3, forestEdge))
	f.clock.Advance(30 * time.Second)
	res = f.submit(t, f.sample("t1", 4, forestCenter))
	for _, a := range res.Alerts {
		if a.Kind == model.AlertZoneEntry && a.ZoneID == "forest" {
			t.Fatalf("second entry produced alert %+v", a)
		}
	}

	waitFor(t, "forest entry notification", func() bool {
		return len(f.notifier.delivered(model.AlertZoneEntry)) >= 1
	})
	time.Sleep(50 * time.Millisecond)
	var forest int
	for _, n := range f.notifier.delivered(model.AlertZoneEntry) {
		if n.ZoneID == "forest" {
			forest++
		}
	}
	if forest != 1 {
		t.Fatalf("forest entry notifications = %d, want 1", forest)
	}
}

func TestOutOfOrderSampleChangesNothing(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.submit(t, f.sample("t1", 5, cliffCenter))
	before, _ := f.engine.GetTouristStatus("t1")

	f.clock.Advance(time.Minute)
	for _, seq := range []uint64{5, 4, 1} {
		res := f.submit(t, f.sample("t1", seq, outside))
		if res.Accepted || res.Reason != model.RejectOutOfOrder {
			t.Fatalf("seq %d: result = %+v", seq, res)
		}
		if !errors.Is(res.Err(), model.ErrOutOfOrder) {
			t.Fatalf("seq %d: Err() = %v", seq, res.Err())
		}
	}

	after, _ := f.engine.GetTouristStatus("t1")
	if after.Position.Sequence != 5 || after.Position.Lat != cliffCenter.Lat {
		t.Fatalf("position changed: %+v", after.Position)
	}
	if !equalStrings(zoneIDs(after.Zones), zoneIDs(before.Zones)) {
		t.Fatalf("zones changed: %v -> %v", zoneIDs(before.Zones), zoneIDs(after.Zones))
	}
}

func TestImplausibleJumpRaisesAnomaly(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.submit(t, f.sample("t1", 1, riverCenter))

	// ~4.5 km in ten seconds
	f.clock.Advance(10 * time.Second)
	res := f.submit(t, f.sample("t1", 2, forestCenter))
	if res.Accepted || res.Reason != model.RejectImplausibleJump {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Alerts) != 1 {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
	a := res.Alerts[0]
	if a.Kind != model.AlertAnomaly || a.Severity != model.SeverityLow || a.Delivery != model.DeliveryNotRequired {
		t.Fatalf("anomaly alert = %+v", a)
	}

	st, _ := f.engine.GetTouristStatus("t1")
	if got := zoneIDs(st.Zones); !equalStrings(got, []string{"river"}) {
		t.Fatalf("zones = %v, want [river]", got)
	}
	if st.Position.Sequence != 1 {
		t.Fatalf("position moved to %+v", st.Position)
	}

	// the next plausible sample is measured against the last accepted one
	f.clock.Advance(time.Minute)
	if res := f.submit(t, f.sample("t1", 3, riverCenter)); !res.Accepted {
		t.Fatalf("follow-up rejected: %s", res.Reason)
	}
}

func TestInvalidCoordinateIsAnError(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	_, err := f.engine.SubmitPosition(context.Background(), model.PositionSample{TouristID: "t1", Lat: 91, Lon: 0, Sequence: 1})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, err := f.engine.GetTouristStatus("t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("tourist created by invalid sample: %v", err)
	}
	if _, err := f.engine.SubmitPosition(context.Background(), model.PositionSample{Lat: 1, Lon: 1}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("missing tourist id: %v", err)
	}
}

func TestPanicPreemptsQueuedWork(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	e := f.engine
	sh := e.shardFor("t1")
	ctx := context.Background()

	release := make(chan struct{})
	blocked := make(chan struct{})
	go e.do(ctx, sh, false, func() {
		close(blocked)
		<-release
	})
	<-blocked

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.do(ctx, sh, false, record(fmt.Sprintf("normal-%d", i)))
		}(i)
	}
	waitFor(t, "routine tasks queued", func() bool { return len(sh.normal) == 3 })

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.do(ctx, sh, true, record("urgent"))
	}()
	waitFor(t, "urgent task queued", func() bool { return len(sh.urgent) == 1 })

	close(release)
	wg.Wait()

	if len(order) != 4 || order[0] != "urgent" {
		t.Fatalf("execution order = %v, want urgent first", order)
	}
}

func TestPanicUsesUrgentQueue(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	e := f.engine
	sh := e.shardFor("t1")
	ctx := context.Background()

	release := make(chan struct{})
	blocked := make(chan struct{})
	go e.do(ctx, sh, false, func() {
		close(blocked)
		<-release
	})
	<-blocked

	done := make(chan error, 1)
	go func() {
		_, err := e.Panic(ctx, "t1", nil, "")
		done <- err
	}()
	waitFor(t, "panic queued", func() bool { return len(sh.urgent) == 1 })
	if len(sh.normal) != 0 {
		t.Fatalf("panic landed in the routine queue")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("panic: %v", err)
	}
}

func TestDeliveryFailureKeepsAlertActive(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.notifier.setFailures(-1)
	ctx := context.Background()

	a, err := f.engine.Panic(ctx, "t1", &outside, "")
	if err != nil {
		t.Fatalf("panic: %v", err)
	}
	waitFor(t, "delivery failure", func() bool {
		got, err := f.engine.GetAlert(ctx, a.ID)
		return err == nil && got.Delivery == model.DeliveryFailed
	})
	got, _ := f.engine.GetAlert(ctx, a.ID)
	if got.Status != model.StatusActive || got.Attempts != 3 {
		t.Fatalf("failed alert = %+v", got)
	}

	f.notifier.setFailures(0)
	resent, err := f.engine.ResendAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if resent.Delivery != model.DeliveryPending {
		t.Fatalf("resent delivery = %s", resent.Delivery)
	}
	waitFor(t, "redelivery", func() bool {
		got, err := f.engine.GetAlert(ctx, a.ID)
		return err == nil && got.Delivery == model.DeliveryDelivered && got.LastNotifiedAt != nil
	})
}

func TestUpdateAlertStatusRestoresScore(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	ctx := context.Background()
	f.submit(t, f.sample("t1", 1, outside))
	f.clock.Advance(time.Minute)
	res := f.submit(t, f.sample("t1", 2, cliffCenter))
	if len(res.Alerts) != 1 || res.Score != 70 {
		t.Fatalf("entry result = %+v", res)
	}
	id := res.Alerts[0].ID

	if _, err := f.engine.UpdateAlertStatus(ctx, id, model.StatusInvestigating, "ranger dispatched"); err != nil {
		t.Fatalf("investigating: %v", err)
	}
	a, err := f.engine.UpdateAlertStatus(ctx, id, model.StatusResolved, "escorted back")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.ResolvedAt == nil || a.Note != "escorted back" {
		t.Fatalf("resolved alert = %+v", a)
	}
	st, _ := f.engine.GetTouristStatus("t1")
	if st.Score != 80 {
		t.Fatalf("score = %v, want 80 after half restoration", st.Score)
	}
	if _, err := f.engine.UpdateAlertStatus(ctx, id, model.StatusResponding, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("reopen resolved: %v", err)
	}
	if _, err := f.engine.ResendAlert(ctx, id); !errors.Is(err, model.ErrAlertClosed) {
		t.Fatalf("resend resolved: %v", err)
	}
	if _, err := f.engine.UpdateAlertStatus(ctx, "missing", model.StatusResolved, ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown alert: %v", err)
	}
}

func TestGetActiveAlertsFiltersByScope(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	ctx := context.Background()
	f.submit(t, f.sample("t1", 1, outside))
	f.submit(t, f.sample("t2", 1, outside))
	f.clock.Advance(time.Minute)
	f.submit(t, f.sample("t1", 2, cliffCenter))
	f.submit(t, f.sample("t2", 2, forestCenter))

	all := f.engine.GetActiveAlerts("*")
	if len(all) != 3 {
		t.Fatalf("active alerts = %d, want 3 (cliff, forest, cantonment)", len(all))
	}
	if all[0].Severity != model.SeverityHigh || all[len(all)-1].Severity != model.SeverityMedium {
		t.Fatalf("not ordered by severity: %+v", all)
	}
	rangers := f.engine.GetActiveAlerts("rangers")
	if len(rangers) != 1 || rangers[0].ZoneID != "cliff" {
		t.Fatalf("rangers see %+v", rangers)
	}

	list, err := f.engine.ListAlerts(ctx, model.AlertFilter{TouristID: "t2"})
	if err != nil || len(list) != 2 {
		t.Fatalf("list t2 = %v, %v", list, err)
	}
}

func TestSweepRaisesInactivityOnce(t *testing.T) {
	cfg := testConfig()
	cfg.IdleWindow = 30 * time.Minute
	f := newEngineFixture(t, cfg, nil)
	ctx := context.Background()
	f.submit(t, f.sample("t1", 1, outside))

	f.clock.Advance(31 * time.Minute)
	if err := f.engine.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := f.engine.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var idle []model.Alert
	for _, a := range f.engine.GetActiveAlerts("") {
		if a.Kind == model.AlertInactivity {
			idle = append(idle, a)
		}
	}
	if len(idle) != 1 || idle[0].Severity != model.SeverityMedium {
		t.Fatalf("inactivity alerts = %+v", idle)
	}

	f.clock.Advance(time.Minute)
	res := f.submit(t, f.sample("t1", 2, outside))
	if len(res.Alerts) != 1 || res.Alerts[0].Status != model.StatusResolved {
		t.Fatalf("next sample should resolve inactivity: %+v", res.Alerts)
	}
}

func TestEndSession(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	ctx := context.Background()
	if _, err := f.engine.RegisterTourist(ctx, "t1", "Asha", "rangers"); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.submit(t, f.sample("t1", 1, cliffCenter))
	if len(f.engine.GetActiveAlerts("")) != 1 {
		t.Fatalf("expected the cliff entry alert")
	}
	if err := f.engine.EndSession(ctx, "t1"); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if n := len(f.engine.GetActiveAlerts("")); n != 0 {
		t.Fatalf("%d alerts still open", n)
	}
	if _, err := f.engine.GetTouristStatus("t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("tourist still tracked: %v", err)
	}
	if err := f.engine.EndSession(ctx, "t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("second end session: %v", err)
	}
}

func TestRetiredZoneExitsOnNextSample(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.submit(t, f.sample("t1", 1, cliffCenter))
	if _, err := f.engine.Zones().Retire(context.Background(), "cliff"); err != nil {
		t.Fatalf("retire: %v", err)
	}
	f.clock.Advance(time.Minute)
	res := f.submit(t, f.sample("t1", 2, cliffCenter))
	if len(res.Transitions) != 1 || res.Transitions[0].Kind != model.TransitionExit {
		t.Fatalf("transitions = %+v", res.Transitions)
	}
	if len(f.engine.GetActiveAlerts("")) != 0 {
		t.Fatalf("entry alert not resolved by the exit")
	}
}

func TestRestoreKeepsMembershipAndAlerts(t *testing.T) {
	repo := newMemRepo()
	cfg := testConfig()
	// the first delivery attempt fails and the retry is still waiting at shutdown
	first := cfg
	first.Delivery.InitialInterval = time.Hour
	first.Delivery.MaxInterval = time.Hour
	f := newEngineFixture(t, first, repo)
	f.notifier.setFailures(-1)
	f.submit(t, f.sample("t1", 1, outside))
	f.clock.Advance(time.Minute)
	f.submit(t, f.sample("t1", 2, cliffCenter))
	f.engine.Stop()

	open, _ := repo.LoadOpenAlerts(context.Background())
	if len(open) != 1 {
		t.Fatalf("persisted open alerts = %d", len(open))
	}

	zones := NewZoneStore(repo, nil, nil, cfg.CellSize)
	if err := zones.Load(context.Background()); err != nil {
		t.Fatalf("load zones: %v", err)
	}
	if zones.Version() != 4 {
		t.Fatalf("zone version = %d, want 4", zones.Version())
	}
	n := &recordingNotifier{}
	e := NewEngine(cfg, EngineDeps{Zones: zones, Repo: repo, Notifier: n, Clock: f.clock.Now})
	if err := e.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop()

	st, err := e.GetTouristStatus("t1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := zoneIDs(st.Zones); !equalStrings(got, []string{"cliff"}) {
		t.Fatalf("restored zones = %v", got)
	}

	// still inside: no second entry alert
	f.clock.Advance(time.Minute)
	res, err := e.SubmitPosition(context.Background(), f.sample("t1", 3, cliffCenter))
	if err != nil || !res.Accepted || len(res.Transitions) != 0 {
		t.Fatalf("post-restore sample = %+v, %v", res, err)
	}
	if active := e.GetActiveAlerts(""); len(active) != 1 || active[0].ID != open[0].ID {
		t.Fatalf("active after restore = %+v", active)
	}
	// a sequence replay from before the restart is still rejected
	res, _ = e.SubmitPosition(context.Background(), f.sample("t1", 2, cliffCenter))
	if res.Reason != model.RejectOutOfOrder {
		t.Fatalf("replayed sequence accepted: %+v", res)
	}
	// the alert never got through before the restart, so it is sent again
	waitFor(t, "resend after restart", func() bool { return len(n.delivered(model.AlertZoneEntry)) == 1 })
}

func TestJumpWithHugeAccuracyIsStillAnomaly(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.submit(t, f.sample("t1", 1, riverCenter))

	f.clock.Advance(10 * time.Second)
	s := f.sample("t1", 2, forestCenter)
	s.Accuracy = 20000
	res := f.submit(t, s)
	if res.Accepted || res.Reason != model.RejectImplausibleJump {
		t.Fatalf("result = %+v, want implausible jump", res)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Kind != model.AlertAnomaly {
		t.Fatalf("alerts = %+v", res.Alerts)
	}
}

// gatedRepo holds every SaveTourist until gate is closed and records how many
// were waiting at once.
type gatedRepo struct {
	*memRepo
	gate     chan struct{}
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (r *gatedRepo) SaveTourist(ctx context.Context, t *model.Tourist) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	r.mu.Unlock()
	<-r.gate
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return r.memRepo.SaveTourist(ctx, t)
}

func (r *gatedRepo) peakInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func TestSubmitPositionAsyncRunsShardsInParallel(t *testing.T) {
	repo := &gatedRepo{memRepo: newMemRepo(), gate: make(chan struct{})}
	var once sync.Once
	release := func() { once.Do(func() { close(repo.gate) }) }
	f := newEngineFixture(t, testConfig(), repo)
	defer release()

	// one tourist per shard
	var ids []string
	seen := make(map[*shard]bool)
	for i := 0; len(ids) < len(f.engine.shards); i++ {
		id := fmt.Sprintf("t%d", i)
		if sh := f.engine.shardFor(id); !seen[sh] {
			seen[sh] = true
			ids = append(ids, id)
		}
	}

	var mu sync.Mutex
	results := make(map[string][]model.IngestResult)
	done := func(id string) func(model.IngestResult, error) {
		return func(res model.IngestResult, err error) {
			if err != nil {
				t.Errorf("%s: %v", id, err)
			}
			mu.Lock()
			results[id] = append(results[id], res)
			mu.Unlock()
		}
	}
	for _, id := range ids {
		for seq := uint64(1); seq <= 2; seq++ {
			if err := f.engine.SubmitPositionAsync(context.Background(), f.sample(id, seq, outside), done(id)); err != nil {
				t.Fatalf("queue %s #%d: %v", id, seq, err)
			}
		}
	}

	// every shard is blocked in persistence at the same time
	waitFor(t, "all shards persisting", func() bool { return repo.peakInFlight() == len(ids) })
	release()

	waitFor(t, "all results", func() bool {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, r := range results {
			n += len(r)
		}
		return n == 2*len(ids)
	})
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		for i, res := range results[id] {
			if !res.Accepted {
				t.Fatalf("%s sample %d = %+v, per-tourist order lost", id, i+1, res)
			}
		}
	}
}

func TestSubmitPositionAsyncRequiresTourist(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	err := f.engine.SubmitPositionAsync(context.Background(), model.PositionSample{Lat: 1, Lon: 1, Sequence: 1}, nil)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

// slowNotifier succeeds once release is closed, whatever its context says.
type slowNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (n *slowNotifier) Notify(context.Context, model.Notification) error {
	n.once.Do(func() { close(n.started) })
	<-n.release
	return nil
}

func TestDeliveryFinishingDuringStopIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	clock := newFakeClock()
	zones := NewZoneStore(nil, nil, nil, testConfig().CellSize)
	zones.now = clock.Now
	for _, z := range fixtureZones() {
		if _, _, err := zones.Upsert(context.Background(), z); err != nil {
			t.Fatalf("upsert %s: %v", z.ID, err)
		}
	}
	n := &slowNotifier{started: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(testConfig(), EngineDeps{Zones: zones, Notifier: n, Clock: clock.Now})
	e.Start(context.Background())
	f := &engineFixture{engine: e, clock: clock}

	f.submit(t, f.sample("t1", 1, outside))
	clock.Advance(time.Minute)
	f.submit(t, f.sample("t1", 2, cliffCenter))
	select {
	case <-n.started:
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never started")
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	waitFor(t, "engine stopping", func() bool { return !e.running.Load() })
	close(n.release)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return")
	}
	if strings.Contains(buf.String(), "Dropped delivery report") {
		t.Fatalf("shutdown logged a dropped report:\n%s", buf.String())
	}
}

func TestReentryInsideWindowAlertsOnceWindowPasses(t *testing.T) {
	f := newEngineFixture(t, testConfig(), nil)
	f.submit(t, f.sample("t1", 1, outside))
	f.clock.Advance(time.Minute)
	first := f.submit(t, f.sample("t1", 2, cliffCenter))
	if len(first.Alerts) != 1 || first.Alerts[0].Kind != model.AlertZoneEntry {
		t.Fatalf("first entry = %+v", first.Alerts)
	}
	f.clock.Advance(time.Minute)
	f.submit(t, f.sample("t1", 3, outside))
	f.clock.Advance(time.Minute)
	if res := f.submit(t, f.sample("t1", 4, cliffCenter)); len(res.Alerts) != 0 {
		t.Fatalf("re-entry inside window raised %+v", res.Alerts)
	}
	if active := f.engine.GetActiveAlerts(""); len(active) != 0 {
		t.Fatalf("active inside window = %+v", active)
	}

	// still inside once the window has passed
	f.clock.Advance(5 * time.Minute)
	res := f.submit(t, f.sample("t1", 5, cliffCenter))
	if len(res.Transitions) != 0 || len(res.Alerts) != 1 || res.Alerts[0].ZoneID != "cliff" || res.Alerts[0].Kind != model.AlertZoneEntry {
		t.Fatalf("sample after window = %+v", res)
	}
	if active := f.engine.GetActiveAlerts(""); len(active) != 1 || active[0].ID == first.Alerts[0].ID {
		t.Fatalf("active after window = %+v", active)
	}

	// later samples refresh the same alert
	f.clock.Advance(time.Minute)
	if res := f.submit(t, f.sample("t1", 6, cliffCenter)); len(res.Alerts) != 0 {
		t.Fatalf("duplicate alert %+v", res.Alerts)
	}
	waitFor(t, "two cliff notifications", func() bool { return len(f.notifier.delivered(model.AlertZoneEntry)) == 2 })
}

func TestSummaryCountsResolvedTodayFromRepository(t *testing.T) {
	repo := newMemRepo()
	f := newEngineFixture(t, testConfig(), repo)
	// resolved yesterday, outside today's count
	yesterday := t0.Add(-20 * time.Hour)
	repo.SaveAlert(context.Background(), &model.Alert{ID: "old", Kind: model.AlertZoneEntry, TouristID: "tx", Scope: "rangers",
		Status: model.StatusResolved, CreatedAt: yesterday, UpdatedAt: yesterday, ResolvedAt: &yesterday})

	f.submit(t, f.sample("t1", 1, outside))
	f.clock.Advance(time.Minute)
	res := f.submit(t, f.sample("t1", 2, cliffCenter))
	f.clock.Advance(time.Minute)
	f.submit(t, f.sample("t1", 3, outside))
	if len(res.Alerts) != 1 {
		t.Fatalf("entry alerts = %+v", res.Alerts)
	}

	sum, err := f.engine.Summary(context.Background(), "rangers")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.ResolvedToday != 1 || sum.ActiveAlerts != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := f.engine.ListTourists("rangers", ""); len(got) != 0 {
		t.Fatalf("tourist outside every zone listed for rangers: %+v", got)
	}
	if got := f.engine.ListTourists("", "T1"); len(got) != 1 || got[0].Recent != nil {
		t.Fatalf("global search = %+v", got)
	}
}
