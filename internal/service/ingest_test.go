package service

import (
	"errors"
	"math"
	"testing"
	"time"

	"tourguard/internal/model"
)

func TestPositionIngestCheck(t *testing.T) {
	p := NewPositionIngest(300, 4, 100)
	base := model.PositionSample{TouristID: "t1", Lat: 27.1751, Lon: 78.0421, Timestamp: t0.UnixMilli(), Sequence: 10, Accuracy: 10}

	tests := []struct {
		name   string
		sample func(model.PositionSample) model.PositionSample
		want   model.RejectReason
	}{
		{"next sequence", func(s model.PositionSample) model.PositionSample { s.Sequence = 11; s.Timestamp += 60000; return s }, ""},
		{"duplicate sequence", func(s model.PositionSample) model.PositionSample { return s }, model.RejectOutOfOrder},
		{"older sequence", func(s model.PositionSample) model.PositionSample { s.Sequence = 3; return s }, model.RejectOutOfOrder},
		{"latitude out of range", func(s model.PositionSample) model.PositionSample { s.Sequence = 11; s.Lat = 90.5; return s }, model.RejectInvalidCoordinate},
		{"NaN longitude", func(s model.PositionSample) model.PositionSample { s.Sequence = 11; s.Lon = math.NaN(); return s }, model.RejectInvalidCoordinate},
		{"negative accuracy", func(s model.PositionSample) model.PositionSample { s.Sequence = 11; s.Accuracy = -1; return s }, model.RejectInvalidCoordinate},
		{
			// 0.1 degree of latitude is ~11 km; in 60 s that is ~670 km/h
			"jump", func(s model.PositionSample) model.PositionSample {
				s.Sequence = 11
				s.Lat += 0.1
				s.Timestamp += 60000
				return s
			}, model.RejectImplausibleJump,
		},
		{
			"same time, within accuracy", func(s model.PositionSample) model.PositionSample {
				s.Sequence = 11
				s.Lat += 0.0001 // ~11 m against 20 m of combined accuracy
				return s
			}, "",
		},
		{
			"same time, beyond accuracy", func(s model.PositionSample) model.PositionSample {
				s.Sequence = 11
				s.Lat += 0.001
				return s
			}, model.RejectImplausibleJump,
		},
		{
			// a huge reported accuracy only forgives maxAccuracy per fix
			"jump hidden behind accuracy", func(s model.PositionSample) model.PositionSample {
				s.Sequence = 11
				s.Lat += 0.18 // ~20 km in 10 s
				s.Timestamp += 10000
				s.Accuracy = 20000
				return s
			}, model.RejectImplausibleJump,
		},
		{
			"plausible drive", func(s model.PositionSample) model.PositionSample {
				s.Sequence = 11
				s.Lat += 0.01 // ~1.1 km in 60 s, ~67 km/h
				s.Timestamp += 60000
				return s
			}, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := p.newTrack()
			p.Accept(tr, base, t0)
			rej := p.Check(tr, tt.sample(base))
			if tt.want == "" {
				if rej != nil {
					t.Fatalf("rejected: %v", rej)
				}
				return
			}
			if rej == nil || rej.Reason != tt.want {
				t.Fatalf("got %v, want %s", rej, tt.want)
			}
			if tr.lastSeq != base.Sequence || tr.last != base {
				t.Fatalf("Check mutated the track")
			}
		})
	}
}

func TestPositionIngestFirstSampleSkipsOrdering(t *testing.T) {
	p := NewPositionIngest(300, 4, 100)
	tr := p.newTrack()
	if rej := p.Submit(tr, model.PositionSample{TouristID: "t1", Lat: 1, Lon: 1, Sequence: 0}, t0); rej != nil {
		t.Fatalf("first sample rejected: %v", rej)
	}
	if rej := p.Submit(tr, model.PositionSample{TouristID: "t1", Lat: 1, Lon: 1, Sequence: 0}, t0); rej == nil || !errors.Is(rej, model.ErrOutOfOrder) {
		t.Fatalf("repeat of sequence 0: %v", rej)
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	p := NewPositionIngest(300, 3, 100)
	tr := p.newTrack()
	for seq := uint64(1); seq <= 5; seq++ {
		s := model.PositionSample{TouristID: "t1", Lat: 10, Lon: 10, Timestamp: int64(seq) * 1000, Sequence: seq}
		if rej := p.Submit(tr, s, t0); rej != nil {
			t.Fatalf("seq %d: %v", seq, rej)
		}
	}
	items := tr.history.items()
	if len(items) != 3 || items[0].Sequence != 3 || items[2].Sequence != 5 {
		t.Fatalf("history = %+v", items)
	}
}

func TestTrackIdle(t *testing.T) {
	p := NewPositionIngest(300, 3, 100)
	tr := p.newTrack()
	if tr.idle(t0.Add(time.Hour), time.Minute) {
		t.Fatal("a track without samples is never idle")
	}
	p.Accept(tr, model.PositionSample{Lat: 1, Lon: 1, Sequence: 1}, t0)
	if tr.idle(t0.Add(59*time.Second), time.Minute) {
		t.Fatal("idle too early")
	}
	if !tr.idle(t0.Add(time.Minute), time.Minute) {
		t.Fatal("not idle after the window")
	}
}
