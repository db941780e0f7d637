package service

import (
	"fmt"
	"math"
	"time"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

// history is a fixed-capacity ring of accepted samples, oldest evicted first.
type history struct {
	buf  []model.PositionSample
	next int
	n    int
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{buf: make([]model.PositionSample, capacity)}
}

func (h *history) push(s model.PositionSample) {
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

func (h *history) len() int { return h.n }

// items returns the samples oldest first.
func (h *history) items() []model.PositionSample {
	out := make([]model.PositionSample, 0, h.n)
	start := (h.next - h.n + len(h.buf)) % len(h.buf)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// track is the per-tourist ingest state.
type track struct {
	lastSeq    uint64
	hasLast    bool
	last       model.PositionSample
	acceptedAt time.Time
	history    *history
}

// PositionIngest validates samples against a tourist's track.
type PositionIngest struct {
	maxSpeedKmh float64
	historySize int
	// maxAccuracy caps how much of a fix's reported accuracy radius is
	// forgiven in the jump check.
	maxAccuracy float64
}

func NewPositionIngest(maxSpeedKmh float64, historySize int, maxAccuracy float64) *PositionIngest {
	return &PositionIngest{maxSpeedKmh: maxSpeedKmh, historySize: historySize, maxAccuracy: maxAccuracy}
}

func (p *PositionIngest) slack(accuracy float64) float64 {
	if p.maxAccuracy > 0 && accuracy > p.maxAccuracy {
		return p.maxAccuracy
	}
	return accuracy
}

func (p *PositionIngest) newTrack() *track {
	return &track{history: newHistory(p.historySize)}
}

// Check decides whether s may be accepted on tr without changing tr.
// Order: coordinate range, sequence, implied speed.
func (p *PositionIngest) Check(tr *track, s model.PositionSample) *model.RejectError {
	if !s.Point().Valid() {
		return &model.RejectError{Reason: model.RejectInvalidCoordinate, Detail: fmt.Sprintf("lat=%v lon=%v", s.Lat, s.Lon)}
	}
	if math.IsNaN(s.Accuracy) || math.IsInf(s.Accuracy, 0) || s.Accuracy < 0 {
		return &model.RejectError{Reason: model.RejectInvalidCoordinate, Detail: fmt.Sprintf("accuracy=%v", s.Accuracy)}
	}
	if !tr.hasLast {
		return nil
	}
	if s.Sequence <= tr.lastSeq {
		return &model.RejectError{Reason: model.RejectOutOfOrder, Detail: fmt.Sprintf("sequence %d <= %d", s.Sequence, tr.lastSeq)}
	}

	// Both fixes may be off by their accuracy radius, up to maxAccuracy each;
	// only movement beyond that counts toward the implied speed.
	dist := geo.Haversine(tr.last.Point(), s.Point()) - p.slack(tr.last.Accuracy) - p.slack(s.Accuracy)
	if dist <= 0 {
		return nil
	}
	seconds := float64(s.Timestamp-tr.last.Timestamp) / 1000
	if speed := geo.SpeedKmh(dist, seconds); speed > p.maxSpeedKmh {
		return &model.RejectError{
			Reason: model.RejectImplausibleJump,
			Detail: fmt.Sprintf("%.0fm in %.1fs implies %.0f km/h", dist, seconds, speed),
		}
	}
	return nil
}

// Accept records s as the tourist's current position.
func (p *PositionIngest) Accept(tr *track, s model.PositionSample, now time.Time) {
	tr.lastSeq = s.Sequence
	tr.hasLast = true
	tr.last = s
	tr.acceptedAt = now
	tr.history.push(s)
}

// Submit runs Check and, when it passes, Accept.
func (p *PositionIngest) Submit(tr *track, s model.PositionSample, now time.Time) *model.RejectError {
	if rej := p.Check(tr, s); rej != nil {
		return rej
	}
	p.Accept(tr, s, now)
	return nil
}

// idle reports whether no sample was accepted on tr within window.
func (tr *track) idle(now time.Time, window time.Duration) bool {
	return tr.hasLast && now.Sub(tr.acceptedAt) >= window
}
