package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"tourguard/internal/auth"
	"tourguard/internal/cache"
	"tourguard/internal/config"
	"tourguard/internal/handler"
	"tourguard/internal/metrics"
	"tourguard/internal/server"
	"tourguard/internal/service"
	"tourguard/internal/store"

	_ "tourguard/docs"
)

// @title Tourguard API
// @version 1.0
// @description Tourist safety geofencing and alert routing

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:3000
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	log.Println("[API] Starting tourguard...")

	cfg := config.Load()
	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatalf("[API] Failed to load seed: %v", err)
	}

	m, err := metrics.New(nil)
	if err != nil {
		log.Fatalf("[API] Failed to register metrics: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	var repo service.Repository
	var gormRepo *store.GormRepository
	if cfg.DatabaseURL != "" {
		if store.IsPostgres(cfg.DatabaseURL) {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				log.Fatalf("[API] Failed to migrate database: %v", err)
			}
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[API] Failed to connect to database: %v", err)
		}
		if !store.IsPostgres(cfg.DatabaseURL) {
			if err := store.AutoMigrate(db); err != nil {
				log.Fatalf("[API] Failed to migrate database: %v", err)
			}
		}
		log.Println("[API] Connected to database")
		gormRepo = store.NewGormRepository(db)
		repo = gormRepo
	} else {
		log.Println("[API] DATABASE_URL not set, state is kept in memory")
		repo = store.NewMemoryRepository()
	}

	// Redis
	var redisClient *redis.Client
	var redisCache *cache.RedisCache
	var engineCache service.Cache
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("[API] Invalid REDIS_URL: %v", err)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatalf("[API] Failed to connect to Redis: %v", err)
		}
		log.Println("[API] Connected to Redis")
		defer redisClient.Close()
		redisCache = cache.NewRedisCache(redisClient, cfg.StatusTTL, cfg.RecentAlerts)
		engineCache = redisCache
	}

	// NATS
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL,
			nats.Name("tourguard"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("[NATS] Disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("[NATS] Reconnected to %s", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			log.Fatalf("[API] Failed to connect to NATS: %v", err)
		}
		log.Println("[API] Connected to NATS")
		defer natsConn.Close()
	}

	hub := handler.NewWSHub(natsConn)
	notifier, jetstream := buildNotifier(cfg, natsConn, hub)

	// Zones
	zones := service.NewZoneStore(repo, engineCache, m, cfg.Engine.CellSize)
	if err := zones.Load(ctx); err != nil {
		log.Fatalf("[API] Failed to load zones: %v", err)
	}
	if zones.Version() == 0 && len(seed.Zones) > 0 {
		for _, z := range seed.Zones {
			if _, _, err := zones.Upsert(ctx, z); err != nil {
				log.Fatalf("[API] Failed to seed zone %s: %v", z.ID, err)
			}
		}
		log.Printf("[API] Seeded %d zones", len(seed.Zones))
	}

	// Engine
	engine := service.NewEngine(cfg.Engine, service.EngineDeps{
		Zones:    zones,
		Repo:     repo,
		Cache:    engineCache,
		Notifier: notifier,
		Metrics:  m,
	})
	if err := engine.Restore(ctx); err != nil {
		log.Fatalf("[API] Failed to restore engine state: %v", err)
	}
	engine.Start(ctx)

	var subscriber *service.PositionSubscriber
	if natsConn != nil {
		subscriber = service.NewPositionSubscriber(engine, natsConn, cfg.SubscriberTimeout)
		if err := subscriber.Start(); err != nil {
			log.Fatalf("[API] Failed to start uplink subscriber: %v", err)
		}
	}

	if gormRepo != nil && cfg.AlertRetention > 0 {
		go purgeResolved(ctx, gormRepo, cfg.AlertRetention)
	}

	authSvc := auth.NewService(cfg.JWTSecret, cfg.TokenTTL, seed.Accounts)

	deps := server.Deps{
		Engine:    engine,
		Auth:      authSvc,
		Metrics:   m,
		Redis:     redisClient,
		Cache:     redisCache,
		NATS:      natsConn,
		JetStream: jetstream,
		Hub:       hub,
	}
	if gormRepo != nil {
		deps.Database = gormRepo
		deps.History = gormRepo
	}
	srv := server.NewServer(cfg, deps)
	srv.Setup()

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	go func() {
		if err := srv.Run(addr); err != nil {
			log.Fatalf("[API] Failed to start server: %v", err)
		}
	}()
	log.Printf("[API] Server ready on %s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[API] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	engine.Stop()
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			log.Printf("[API] NATS drain: %v", err)
		}
	}
	log.Println("[API] Server stopped")
}

// buildNotifier picks the delivery channel. With JetStream the durable
// publish is the primary channel and dashboards read the same subjects; with
// plain NATS alerts are published on core subjects; without NATS the hub is
// fed directly.
func buildNotifier(cfg *config.Config, nc *nats.Conn, hub *handler.WSHub) (service.Notifier, *service.JetStreamNotifier) {
	var list service.MultiNotifier
	var js *service.JetStreamNotifier
	switch {
	case nc != nil && cfg.JetStreamEnabled:
		var err error
		js, err = service.NewJetStreamNotifier(nc, cfg.JetStreamMaxAge)
		if err != nil {
			log.Fatalf("[API] Failed to set up JetStream: %v", err)
		}
		list = append(list, js)
		log.Printf("[API] Alerts go to JetStream stream %s", service.StreamAlerts)
	case nc != nil:
		list = append(list, service.NewNATSNotifier(nc))
		log.Println("[API] Alerts go to NATS core subjects")
	default:
		list = append(list, hub, service.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		list = append(list, service.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
		log.Printf("[API] Alerts are also posted to %s", cfg.WebhookURL)
	}
	if len(list) == 1 {
		return list[0], js
	}
	return list, js
}

func newRedisClient(url string) (*redis.Client, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: url}), nil
}

// purgeResolved drops resolved alerts older than retention once an hour.
func purgeResolved(ctx context.Context, repo *store.GormRepository, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeResolved(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("[API] Failed to purge resolved alerts: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[API] Purged %d resolved alerts", n)
			}
		}
	}
}
