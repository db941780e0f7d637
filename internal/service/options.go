package service

import (
	"time"

	"tourguard/internal/model"
)

// EngineConfig holds every tunable coefficient of the pipeline.
type EngineConfig struct {
	Shards    int
	QueueSize int

	// PositionIngest
	MaxSpeedKmh float64
	// MaxAccuracy is the most accuracy radius, in meters, forgiven per fix
	// when computing the implied speed.
	MaxAccuracy float64
	HistorySize int
	IdleWindow  time.Duration

	// AlertRouter
	RateLimitWindow    time.Duration
	ForwardMinSeverity model.Severity
	ResolvedRetention  time.Duration

	// GeoIndex
	CellSize     float64
	NearbyRadius float64

	Score    ScoreConfig
	Delivery DeliveryConfig

	SweepInterval time.Duration
	// PersistTimeout bounds each repository/cache write issued by a shard.
	PersistTimeout time.Duration
}

// ScoreConfig drives SafetyScorer.
type ScoreConfig struct {
	Baseline        float64
	HighPenalty     float64
	MediumPenalty   float64
	LowPenalty      float64
	RestoreFraction float64
	DriftPerMinute  float64
}

// DeliveryConfig drives the Dispatcher.
type DeliveryConfig struct {
	Workers         int
	QueueSize       int
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
	// MaxElapsedTime bounds the whole retry sequence; zero leaves only
	// MaxAttempts as the limit.
	MaxElapsedTime time.Duration
}

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Baseline:        90,
		HighPenalty:     20,
		MediumPenalty:   5,
		LowPenalty:      0,
		RestoreFraction: 0.5,
		DriftPerMinute:  1,
	}
}

func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		Workers:         4,
		QueueSize:       1024,
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		AttemptTimeout:  5 * time.Second,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Shards:             8,
		QueueSize:          256,
		MaxSpeedKmh:        300,
		MaxAccuracy:        100,
		HistorySize:        32,
		IdleWindow:         30 * time.Minute,
		RateLimitWindow:    5 * time.Minute,
		ForwardMinSeverity: model.SeverityMedium,
		ResolvedRetention:  time.Hour,
		CellSize:           0.1,
		NearbyRadius:       2000,
		Score:              DefaultScoreConfig(),
		Delivery:           DefaultDeliveryConfig(),
		SweepInterval:      30 * time.Second,
		PersistTimeout:     5 * time.Second,
	}
}

// withDefaults fills zero fields so partially filled configs stay usable.
func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxSpeedKmh <= 0 {
		c.MaxSpeedKmh = d.MaxSpeedKmh
	}
	if c.MaxAccuracy <= 0 {
		c.MaxAccuracy = d.MaxAccuracy
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = d.IdleWindow
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if !c.ForwardMinSeverity.Valid() {
		c.ForwardMinSeverity = d.ForwardMinSeverity
	}
	if c.ResolvedRetention <= 0 {
		c.ResolvedRetention = d.ResolvedRetention
	}
	if c.CellSize <= 0 {
		c.CellSize = d.CellSize
	}
	if c.NearbyRadius < 0 {
		c.NearbyRadius = 0
	}
	if c.Score == (ScoreConfig{}) {
		c.Score = d.Score
	}
	if c.Delivery.Workers <= 0 {
		c.Delivery.Workers = d.Delivery.Workers
	}
	if c.Delivery.QueueSize <= 0 {
		c.Delivery.QueueSize = d.Delivery.QueueSize
	}
	if c.Delivery.MaxAttempts == 0 {
		c.Delivery.MaxAttempts = d.Delivery.MaxAttempts
	}
	if c.Delivery.InitialInterval <= 0 {
		c.Delivery.InitialInterval = d.Delivery.InitialInterval
	}
	if c.Delivery.MaxInterval <= 0 {
		c.Delivery.MaxInterval = d.Delivery.MaxInterval
	}
	if c.Delivery.AttemptTimeout <= 0 {
		c.Delivery.AttemptTimeout = d.Delivery.AttemptTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}
