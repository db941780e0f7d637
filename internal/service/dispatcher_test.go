package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tourguard/internal/model"
)

func fastDelivery() DeliveryConfig {
	return DeliveryConfig{
		Workers:         1,
		QueueSize:       8,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		AttemptTimeout:  time.Second,
	}
}

func startDispatcher(t *testing.T, n Notifier, cfg DeliveryConfig) (*Dispatcher, chan DeliveryReport) {
	t.Helper()
	reports := make(chan DeliveryReport, 16)
	d := NewDispatcher(n, cfg, nil, func(r DeliveryReport) { reports <- r })
	d.Start()
	t.Cleanup(d.Stop)
	return d, reports
}

func nextReport(t *testing.T, ch chan DeliveryReport) DeliveryReport {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery report")
	}
	return DeliveryReport{}
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	n := &recordingNotifier{failures: 2}
	d, reports := startDispatcher(t, n, fastDelivery())
	if !d.Enqueue(model.Notification{AlertID: "a1", TouristID: "t1", Kind: model.AlertZoneEntry}) {
		t.Fatal("enqueue failed")
	}
	r := nextReport(t, reports)
	if r.Err != nil || r.Attempts != 3 || r.AlertID != "a1" {
		t.Fatalf("report = %+v", r)
	}
	if len(n.delivered("")) != 1 {
		t.Fatalf("delivered %d times", len(n.delivered("")))
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	n := &recordingNotifier{failures: -1}
	d, reports := startDispatcher(t, n, fastDelivery())
	d.Enqueue(model.Notification{AlertID: "a1", TouristID: "t1", Kind: model.AlertPanic, Urgent: true})
	r := nextReport(t, reports)
	if !errors.Is(r.Err, model.ErrDeliveryFailed) || r.Attempts != 3 {
		t.Fatalf("report = %+v", r)
	}
}

type permanentNotifier struct{ calls atomic.Int32 }

func (p *permanentNotifier) Notify(context.Context, model.Notification) error {
	p.calls.Add(1)
	return backoff.Permanent(errors.New("rejected by receiver"))
}

func TestDispatcherStopsOnPermanentError(t *testing.T) {
	n := &permanentNotifier{}
	d, reports := startDispatcher(t, n, fastDelivery())
	d.Enqueue(model.Notification{AlertID: "a1", TouristID: "t1"})
	r := nextReport(t, reports)
	if !errors.Is(r.Err, model.ErrDeliveryFailed) || r.Attempts != 1 || n.calls.Load() != 1 {
		t.Fatalf("report = %+v, calls = %d", r, n.calls.Load())
	}
}

type blockingNotifier struct {
	release chan struct{}
	order   chan string
}

func (b *blockingNotifier) Notify(ctx context.Context, n model.Notification) error {
	if n.AlertID == "block" {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	b.order <- n.AlertID
	return nil
}

func TestDispatcherPrefersUrgent(t *testing.T) {
	n := &blockingNotifier{release: make(chan struct{}), order: make(chan string, 8)}
	d, reports := startDispatcher(t, n, fastDelivery())

	d.Enqueue(model.Notification{AlertID: "block"})
	waitFor(t, "worker busy", func() bool { return len(d.normal) == 0 })
	d.Enqueue(model.Notification{AlertID: "entry-1"})
	d.Enqueue(model.Notification{AlertID: "entry-2"})
	d.Enqueue(model.Notification{AlertID: "panic", Urgent: true})
	close(n.release)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-n.order:
			got = append(got, id)
		case <-time.After(3 * time.Second):
			t.Fatalf("only delivered %v", got)
		}
	}
	if got[0] != "panic" {
		t.Fatalf("delivery order = %v, want panic first", got)
	}
	for i := 0; i < 4; i++ {
		nextReport(t, reports)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	cfg := fastDelivery()
	cfg.QueueSize = 1
	// not started, so nothing drains the queue
	d := NewDispatcher(LogNotifier{}, cfg, nil, nil)
	if !d.Enqueue(model.Notification{AlertID: "a1"}) {
		t.Fatal("first enqueue failed")
	}
	if d.Enqueue(model.Notification{AlertID: "a2"}) {
		t.Fatal("enqueue past capacity succeeded")
	}
	if !d.Enqueue(model.Notification{AlertID: "p1", Urgent: true}) {
		t.Fatal("urgent queue shares the routine capacity")
	}
	d.Stop()
	if d.Enqueue(model.Notification{AlertID: "a3", Urgent: true}) {
		t.Fatal("enqueue after stop succeeded")
	}
}

func TestDispatcherKeepsRetryingPastDefaultElapsedCap(t *testing.T) {
	cfg := fastDelivery()
	// a single backoff step longer than backoff's default total budget
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour
	n := &recordingNotifier{failures: -1}
	d, reports := startDispatcher(t, n, cfg)
	d.Enqueue(model.Notification{AlertID: "a1", TouristID: "t1", Kind: model.AlertZoneEntry})

	waitFor(t, "first attempt", func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.calls == 1
	})
	select {
	case r := <-reports:
		t.Fatalf("gave up while retries remain: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherHonoursMaxElapsedTime(t *testing.T) {
	cfg := fastDelivery()
	cfg.InitialInterval = time.Hour
	cfg.MaxInterval = time.Hour
	cfg.MaxElapsedTime = time.Minute
	n := &recordingNotifier{failures: -1}
	d, reports := startDispatcher(t, n, cfg)
	d.Enqueue(model.Notification{AlertID: "a1", TouristID: "t1"})
	r := nextReport(t, reports)
	if !errors.Is(r.Err, model.ErrDeliveryFailed) || r.Attempts != 1 {
		t.Fatalf("report = %+v", r)
	}
}
