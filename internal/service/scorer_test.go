package service

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"tourguard/internal/model"
)

func TestScorerPenaltyAndRestore(t *testing.T) {
	s := NewSafetyScorer(DefaultScoreConfig())
	score := s.Baseline()
	a := &model.Alert{Severity: model.SeverityHigh, Status: model.StatusActive}

	score = s.OnAlert(score, a)
	if score != 70 {
		t.Fatalf("after high alert: %v", score)
	}
	a.Status = model.StatusResolved
	if score = s.OnAlert(score, a); score != 80 {
		t.Fatalf("after resolve: %v", score)
	}
	if got := s.Decay(score, 5*time.Minute, false); got != 85 {
		t.Fatalf("after 5 minutes drift: %v", got)
	}
	if got := s.Decay(score, 5*time.Minute, true); got != 80 {
		t.Fatalf("held drift moved the score: %v", got)
	}
	if got := s.Decay(95, time.Hour, false); got != 90 {
		t.Fatalf("drift overshot the baseline from above: %v", got)
	}
	if got := s.Decay(80, time.Hour, false); got != 90 {
		t.Fatalf("drift overshot the baseline from below: %v", got)
	}
}

func TestScorerStaysBounded(t *testing.T) {
	configs := []ScoreConfig{
		DefaultScoreConfig(),
		{Baseline: 100, HighPenalty: 500, MediumPenalty: 250, LowPenalty: 90, RestoreFraction: 3, DriftPerMinute: 1000},
		{Baseline: 150, HighPenalty: -40, MediumPenalty: -10, LowPenalty: -1, RestoreFraction: 1, DriftPerMinute: -5},
		{Baseline: math.NaN(), HighPenalty: math.Inf(1), RestoreFraction: 0.5, DriftPerMinute: math.NaN()},
	}
	rng := rand.New(rand.NewSource(7))
	severities := []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh}
	for ci, cfg := range configs {
		s := NewSafetyScorer(cfg)
		score := s.Baseline()
		for i := 0; i < 5000; i++ {
			switch rng.Intn(3) {
			case 0:
				score = s.OnAlert(score, &model.Alert{Severity: severities[rng.Intn(3)], Status: model.StatusActive})
			case 1:
				score = s.OnAlert(score, &model.Alert{Severity: severities[rng.Intn(3)], Status: model.StatusResolved})
			default:
				score = s.Decay(score, time.Duration(rng.Int63n(int64(3*time.Hour))), rng.Intn(4) == 0)
			}
			if math.IsNaN(score) || score < 0 || score > 100 {
				t.Fatalf("config %d step %d: score %v out of range", ci, i, score)
			}
		}
	}
}

func TestScorerRepeatedPenaltiesFloorAtZero(t *testing.T) {
	s := NewSafetyScorer(DefaultScoreConfig())
	score := s.Baseline()
	for i := 0; i < 50; i++ {
		score = s.OnAlert(score, &model.Alert{Severity: model.SeverityHigh, Status: model.StatusActive})
	}
	if score != 0 {
		t.Fatalf("score = %v, want 0", score)
	}
}
