package service

import (
	"math"
	"time"

	"tourguard/internal/model"
)

// SafetyScorer maintains the bounded per-tourist safety score. Scores are
// passed in and returned; the owning shard stores them.
type SafetyScorer struct {
	cfg ScoreConfig
}

func NewSafetyScorer(cfg ScoreConfig) *SafetyScorer {
	return &SafetyScorer{cfg: cfg}
}

func (s *SafetyScorer) Baseline() float64 { return clampScore(s.cfg.Baseline, 100) }

func (s *SafetyScorer) penalty(sev model.Severity) float64 {
	switch sev {
	case model.SeverityHigh:
		return s.cfg.HighPenalty
	case model.SeverityMedium:
		return s.cfg.MediumPenalty
	case model.SeverityLow:
		return s.cfg.LowPenalty
	}
	return 0
}

// OnAlert applies a newly created alert (penalty) or a resolved one
// (partial restoration).
func (s *SafetyScorer) OnAlert(score float64, a *model.Alert) float64 {
	p := s.penalty(a.Severity)
	if a.Status == model.StatusResolved {
		return clampScore(score+p*s.cfg.RestoreFraction, s.Baseline())
	}
	return clampScore(score-p, s.Baseline())
}

// Decay drifts the score toward the baseline for elapsed time. The drift is
// held while the tourist has an open alert that carries a penalty.
func (s *SafetyScorer) Decay(score float64, elapsed time.Duration, holding bool) float64 {
	base := s.Baseline()
	score = clampScore(score, base)
	if holding || elapsed <= 0 {
		return score
	}
	step := s.cfg.DriftPerMinute * elapsed.Minutes()
	switch {
	case score < base:
		score = math.Min(base, score+step)
	case score > base:
		score = math.Max(base, score-step)
	}
	return clampScore(score, base)
}

// Holds reports whether an open alert of this severity pauses the drift.
func (s *SafetyScorer) Holds(sev model.Severity) bool {
	return s.penalty(sev) > 0
}

func clampScore(v, fallback float64) float64 {
	if math.IsNaN(v) {
		v = fallback
	}
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
