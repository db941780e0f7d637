package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tourguard/internal/auth"
	"tourguard/internal/middleware"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

// RateLimitRule applies to every path starting with Path.
type RateLimitRule struct {
	Path      string
	Limit     int
	Window    time.Duration
	Algorithm middleware.RateLimitAlgorithm
	Type      middleware.RateLimitType
}

// RateLimitConfig is the rate limiting section.
type RateLimitConfig struct {
	Enabled       bool
	DefaultRule   RateLimitRule
	SpecificRules []RateLimitRule
	// Exempt lists route patterns that are never limited.
	Exempt []string
}

// Config holds all configuration for the tourguard server
type Config struct {
	APIPort int
	// TrustedProxies may set X-Forwarded-For; empty trusts none.
	TrustedProxies []string
	// DatabaseURL selects the repository: postgres://, sqlite:<path>, or
	// empty for in-memory state only.
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	SeedFile    string

	JWTSecret string
	TokenTTL  time.Duration

	JetStreamEnabled bool
	JetStreamMaxAge  time.Duration
	WebhookURL       string
	WebhookSecret    string

	// SubscriberTimeout bounds one NATS position message through the engine.
	SubscriberTimeout time.Duration
	// RecentAlerts is how many alerts the Redis feed keeps.
	RecentAlerts int
	StatusTTL    time.Duration
	// AlertRetention is how long resolved alerts stay in the database; 0 keeps them.
	AlertRetention time.Duration

	Engine    service.EngineConfig
	RateLimit RateLimitConfig
}

// Load reads .env when present, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[Config] Loaded .env")
	}
	return &Config{
		APIPort:           getEnvAsInt("API_PORT", 3000),
		TrustedProxies:    getEnvAsList("TRUSTED_PROXIES", nil),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		NATSURL:           getEnv("NATS_URL", ""),
		SeedFile:          getEnv("SEED_FILE", "configs/seed.yaml"),
		JWTSecret:         getEnv("JWT_SECRET", "tourguard-secret-key-change-in-production"),
		TokenTTL:          getEnvAsDuration("JWT_TTL", 12*time.Hour),
		JetStreamEnabled:  getEnvAsBool("JETSTREAM_ENABLED", false),
		JetStreamMaxAge:   getEnvAsDuration("JETSTREAM_MAX_AGE", 7*24*time.Hour),
		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		SubscriberTimeout: getEnvAsDuration("SUBSCRIBER_TIMEOUT", 5*time.Second),
		RecentAlerts:      getEnvAsInt("RECENT_ALERTS", 200),
		StatusTTL:         getEnvAsDuration("STATUS_TTL", 24*time.Hour),
		AlertRetention:    getEnvAsDuration("ALERT_RETENTION", 30*24*time.Hour),
		Engine:            loadEngineConfig(),
		RateLimit:         loadRateLimitConfig(),
	}
}

func loadEngineConfig() service.EngineConfig {
	d := service.DefaultEngineConfig()
	forward, err := model.ParseSeverity(getEnv("FORWARD_MIN_SEVERITY", d.ForwardMinSeverity.String()))
	if err != nil {
		log.Printf("[Config] FORWARD_MIN_SEVERITY: %v, using %s", err, d.ForwardMinSeverity)
		forward = d.ForwardMinSeverity
	}
	return service.EngineConfig{
		Shards:             getEnvAsInt("ENGINE_SHARDS", d.Shards),
		QueueSize:          getEnvAsInt("ENGINE_QUEUE_SIZE", d.QueueSize),
		MaxSpeedKmh:        getEnvAsFloat("MAX_SPEED_KMH", d.MaxSpeedKmh),
		MaxAccuracy:        getEnvAsFloat("MAX_ACCURACY_DISCOUNT", d.MaxAccuracy),
		HistorySize:        getEnvAsInt("HISTORY_SIZE", d.HistorySize),
		IdleWindow:         getEnvAsDuration("IDLE_WINDOW", d.IdleWindow),
		RateLimitWindow:    getEnvAsDuration("ALERT_RATE_LIMIT_WINDOW", d.RateLimitWindow),
		ForwardMinSeverity: forward,
		ResolvedRetention:  getEnvAsDuration("RESOLVED_RETENTION", d.ResolvedRetention),
		CellSize:           getEnvAsFloat("GRID_CELL_SIZE", d.CellSize),
		NearbyRadius:       getEnvAsFloat("NEARBY_RADIUS", d.NearbyRadius),
		Score: service.ScoreConfig{
			Baseline:        getEnvAsFloat("SCORE_BASELINE", d.Score.Baseline),
			HighPenalty:     getEnvAsFloat("SCORE_HIGH_PENALTY", d.Score.HighPenalty),
			MediumPenalty:   getEnvAsFloat("SCORE_MEDIUM_PENALTY", d.Score.MediumPenalty),
			LowPenalty:      getEnvAsFloat("SCORE_LOW_PENALTY", d.Score.LowPenalty),
			RestoreFraction: getEnvAsFloat("SCORE_RESTORE_FRACTION", d.Score.RestoreFraction),
			DriftPerMinute:  getEnvAsFloat("SCORE_DRIFT_PER_MINUTE", d.Score.DriftPerMinute),
		},
		Delivery: service.DeliveryConfig{
			Workers:         getEnvAsInt("DELIVERY_WORKERS", d.Delivery.Workers),
			QueueSize:       getEnvAsInt("DELIVERY_QUEUE_SIZE", d.Delivery.QueueSize),
			MaxAttempts:     uint(getEnvAsInt("DELIVERY_MAX_ATTEMPTS", int(d.Delivery.MaxAttempts))),
			InitialInterval: getEnvAsDuration("DELIVERY_INITIAL_INTERVAL", d.Delivery.InitialInterval),
			MaxInterval:     getEnvAsDuration("DELIVERY_MAX_INTERVAL", d.Delivery.MaxInterval),
			AttemptTimeout:  getEnvAsDuration("DELIVERY_ATTEMPT_TIMEOUT", d.Delivery.AttemptTimeout),
			MaxElapsedTime:  getEnvAsDuration("DELIVERY_MAX_ELAPSED", d.Delivery.MaxElapsedTime),
		},
		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", d.SweepInterval),
		PersistTimeout: getEnvAsDuration("PERSIST_TIMEOUT", d.PersistTimeout),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
		DefaultRule: RateLimitRule{
			Path:      "*",
			Limit:     getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 300),
			Window:    getEnvAsDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
			Algorithm: middleware.RateLimitAlgorithm(getEnv("RATE_LIMIT_DEFAULT_ALGORITHM", "token_bucket")),
			Type:      middleware.RateLimitType(getEnv("RATE_LIMIT_DEFAULT_TYPE", "ip")),
		},
		SpecificRules: []RateLimitRule{
			// login: 5 per minute per IP
			{
				Path:      "/api/v1/auth/login",
				Limit:     getEnvAsInt("RATE_LIMIT_LOGIN_LIMIT", 5),
				Window:    getEnvAsDuration("RATE_LIMIT_LOGIN_WINDOW", time.Minute),
				Algorithm: middleware.RateLimitAlgorithm(getEnv("RATE_LIMIT_LOGIN_ALGORITHM", "fixed_window")),
				Type:      middleware.RateLimitType(getEnv("RATE_LIMIT_LOGIN_TYPE", "ip")),
			},
			// device uplink
			{
				Path:      "/api/v1/positions",
				Limit:     getEnvAsInt("RATE_LIMIT_INGEST_LIMIT", 120),
				Window:    getEnvAsDuration("RATE_LIMIT_INGEST_WINDOW", time.Minute),
				Algorithm: middleware.RateLimitAlgorithm(getEnv("RATE_LIMIT_INGEST_ALGORITHM", "token_bucket")),
				Type:      middleware.RateLimitType(getEnv("RATE_LIMIT_INGEST_TYPE", "ip")),
			},
		},
		// a tourist in trouble is never turned away
		Exempt: getEnvAsList("RATE_LIMIT_EXEMPT", []string{"/api/v1/tourists/:id/panic"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// RuleForPath returns the first specific rule whose path prefixes path, or
// the default rule.
func (c *Config) RuleForPath(path string) RateLimitRule {
	for _, rule := range c.RateLimit.SpecificRules {
		if rule.Path != "" && strings.HasPrefix(path, rule.Path) {
			return rule
		}
	}
	return c.RateLimit.DefaultRule
}

// ToMiddlewareConfig converts a rule for the rate limit middleware.
func (r *RateLimitRule) ToMiddlewareConfig() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		Limit:     r.Limit,
		Window:    int(r.Window.Seconds()),
		Algorithm: r.Algorithm,
		Type:      r.Type,
	}
}

// Seed is the optional YAML file with initial zones and authority accounts.
type Seed struct {
	Zones    []model.Zone   `yaml:"zones"`
	Accounts []auth.Account `yaml:"accounts"`
}

// LoadSeed reads the seed file. A missing file yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Printf("[Config] Seed file %s not found, starting empty", path)
		return &Seed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i := range seed.Accounts {
		a := &seed.Accounts[i]
		if a.PasswordHash == "" && a.Password != "" {
			hash, err := auth.HashPassword(a.Password)
			if err != nil {
				return nil, fmt.Errorf("hash password of %s: %w", a.Username, err)
			}
			a.PasswordHash = hash
		}
		a.Password = ""
	}
	for i := range seed.Zones {
		if err := seed.Zones[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed zone %d (%s): %w", i, seed.Zones[i].ID, err)
		}
	}
	return &seed, nil
}
