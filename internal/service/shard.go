package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"tourguard/internal/model"
)

var (
	ErrEngineStopped    = errors.New("engine stopped")
	ErrEngineNotStarted = errors.New("engine not started")
)

// touristState is owned by exactly one shard.
type touristState struct {
	id           string
	name         string
	scope        string
	track        *track
	zones        []model.Membership
	score        float64
	scoreAt      time.Time
	registeredAt time.Time
	// inactivity was raised for the current silence; cleared by the next sample
	idleRaised bool
}

func (t *touristState) record() *model.Tourist {
	rec := &model.Tourist{
		ID:           t.id,
		Name:         t.name,
		Scope:        t.scope,
		LastSequence: t.track.lastSeq,
		Zones:        append([]model.Membership(nil), t.zones...),
		Score:        t.score,
		ScoreAt:      t.scoreAt,
		RegisteredAt: t.registeredAt,
	}
	if t.track.hasLast {
		last := t.track.last
		rec.Position = &last
	}
	return rec
}

// shard serialises every mutation for the tourists hashed to it. The loop
// goroutine is the only writer; the RWMutex lets queries read a consistent
// view while it works.
type shard struct {
	idx      int
	mu       sync.RWMutex
	tourists map[string]*touristState
	router   *AlertRouter

	urgent chan func()
	normal chan func()
}

func newShard(idx, queueSize int, router *AlertRouter) *shard {
	return &shard{
		idx:      idx,
		tourists: make(map[string]*touristState),
		router:   router,
		urgent:   make(chan func(), queueSize),
		normal:   make(chan func(), queueSize),
	}
}

// run drains urgent work before looking at routine work.
func (s *shard) run(done <-chan struct{}) {
	for {
		select {
		case t := <-s.urgent:
			t()
			continue
		default:
		}
		select {
		case t := <-s.urgent:
			t()
		case t := <-s.normal:
			t()
		case <-done:
			return
		}
	}
}

// writes collects the side effects of one shard task. They are flushed on
// the shard goroutine after the lock is released, so per-tourist order holds.
type writes struct {
	tourist       *model.Tourist
	deleteTourist string
	status        *model.TouristStatus
	alerts        []model.Alert
	created       []model.Alert
	forward       []model.Notification
}

func (w *writes) alert(a *model.Alert) {
	for i := range w.alerts {
		if w.alerts[i].ID == a.ID {
			w.alerts[i] = *a
			return
		}
	}
	w.alerts = append(w.alerts, *a)
}

func (w *writes) empty() bool {
	return w.tourist == nil && w.deleteTourist == "" && w.status == nil &&
		len(w.alerts) == 0 && len(w.forward) == 0
}

// enqueue hands fn to the shard goroutine without waiting for it to run.
func (e *Engine) enqueue(ctx context.Context, s *shard, urgent bool, fn func()) error {
	if !e.running.Load() {
		return ErrEngineNotStarted
	}
	q := s.normal
	if urgent {
		q = s.urgent
	}
	select {
	case q <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// do runs fn on the shard goroutine and waits for it.
func (e *Engine) do(ctx context.Context, s *shard, urgent bool, fn func()) error {
	finished := make(chan struct{})
	err := e.enqueue(ctx, s, urgent, func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}
