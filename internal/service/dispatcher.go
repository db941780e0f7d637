package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tourguard/internal/metrics"
	"tourguard/internal/model"
)

// DeliveryReport is sent back to the engine once a notification is delivered
// or every attempt has failed.
type DeliveryReport struct {
	AlertID   string
	TouristID string
	Attempts  int
	Err       error
	At        time.Time
}

// Dispatcher delivers notifications off the ingest path. Urgent (panic)
// notifications are taken before any queued routine ones.
type Dispatcher struct {
	notifier Notifier
	cfg      DeliveryConfig
	metrics  *metrics.Metrics
	report   func(DeliveryReport)
	now      func() time.Time

	urgent chan model.Notification
	normal chan model.Notification

	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(n Notifier, cfg DeliveryConfig, m *metrics.Metrics, report func(DeliveryReport)) *Dispatcher {
	if n == nil {
		n = LogNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		notifier: n,
		cfg:      cfg,
		metrics:  m,
		report:   report,
		now:      time.Now,
		urgent:   make(chan model.Notification, cfg.QueueSize),
		normal:   make(chan model.Notification, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	log.Printf("[Dispatcher] Started %d workers", d.cfg.Workers)
}

// Stop cancels in-flight retries and waits for the workers. Queued
// notifications are dropped; their alerts stay pending.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
	log.Println("[Dispatcher] Stopped")
}

// Enqueue never blocks. It returns false when the queue is full or the
// dispatcher is stopped.
func (d *Dispatcher) Enqueue(n model.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	q, name := d.normal, "normal"
	if n.Urgent {
		q, name = d.urgent, "urgent"
	}
	select {
	case q <- n:
		return true
	default:
		d.metrics.QueueDrop(name)
		log.Printf("[Dispatcher] %s queue full, alert %s not queued", name, n.AlertID)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.urgent:
			d.deliver(n)
			continue
		default:
		}
		select {
		case n := <-d.urgent:
			d.deliver(n)
		case n := <-d.normal:
			d.deliver(n)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(n model.Notification) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		d.metrics.Delivery("attempt")
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
		defer cancel()
		return struct{}{}, d.notifier.Notify(ctx, n)
	}
	_, err := backoff.Retry(d.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(d.cfg.MaxElapsedTime),
	)
	if err != nil {
		d.metrics.Delivery("failed")
		log.Printf("[Dispatcher] Alert %s (%s) failed after %d attempts: %v", n.AlertID, n.Kind, attempts, err)
		err = fmt.Errorf("%w: %w", model.ErrDeliveryFailed, err)
	} else {
		d.metrics.Delivery("delivered")
	}
	if errors.Is(d.ctx.Err(), context.Canceled) && err != nil {
		// shutting down; the alert stays pending and is re-sent after restart
		return
	}
	if d.report != nil {
		d.report(DeliveryReport{AlertID: n.AlertID, TouristID: n.TouristID, Attempts: attempts, Err: err, At: d.now()})
	}
}
