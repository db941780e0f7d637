package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"tourguard/internal/auth"
	"tourguard/internal/cache"
	"tourguard/internal/config"
	"tourguard/internal/handler"
	"tourguard/internal/metrics"
	"tourguard/internal/middleware"
	"tourguard/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators built by main. Only Engine and Auth are required.
type Deps struct {
	Engine    *service.Engine
	Auth      *auth.Service
	Metrics   *metrics.Metrics
	Database  Pinger
	History   handler.ZoneHistory
	Redis     *redis.Client
	Cache     *cache.RedisCache
	NATS      *nats.Conn
	JetStream *service.JetStreamNotifier
	Hub       *handler.WSHub
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	http   *http.Server
	config *config.Config
	deps   Deps
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{config: cfg, deps: deps}
}

// Setup initializes routes and handlers
func (s *Server) Setup() {
	d := s.deps
	if d.Hub == nil {
		d.Hub = handler.NewWSHub(d.NATS)
		s.deps.Hub = d.Hub
	}
	go d.Hub.Run()
	log.Println("[Server] WebSocket hub started")

	authHandler := handler.NewAuthHandler(d.Auth)
	positionHandler := handler.NewPositionHandler(d.Engine)
	var recent handler.RecentAlerts
	if d.Cache != nil {
		recent = d.Cache
	}
	alertHandler := handler.NewAlertHandler(d.Engine, recent)
	dashboardHandler := handler.NewDashboardHandler(d.Engine)
	zoneHandler := handler.NewZoneHandler(d.Engine.Zones(), s.config.Engine.NearbyRadius)
	if d.History != nil {
		zoneHandler.SetHistory(d.History)
	}
	wsHandler := handler.NewWSHandler(d.Hub, d.Auth)

	s.router = gin.Default()
	if err := s.router.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		log.Printf("[Server] Invalid TRUSTED_PROXIES, trusting none: %v", err)
		_ = s.router.SetTrustedProxies(nil)
	}
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Metrics(d.Metrics))
	var limits *middleware.RateLimitGroup
	if s.config.RateLimit.Enabled && d.Redis != nil {
		limits = s.rateLimitGroup()
		s.router.Use(limits.Middleware())
		log.Println("[Server] Rate limiting enabled")
	}

	// Swagger UI
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	s.router.GET("/health", s.health)

	// WebSocket authenticates with ?token= since browsers cannot set headers
	s.router.GET("/ws/alerts", wsHandler.HandleAlerts)

	v1 := s.router.Group("/api/v1")
	// Device-facing and public
	v1.POST("/auth/login", authHandler.Login)
	v1.POST("/positions", positionHandler.Submit)
	v1.POST("/positions/batch", positionHandler.SubmitBatch)
	v1.POST("/tourists/:id/panic", positionHandler.Panic)

	api := v1.Group("", middleware.Auth(d.Auth))
	if limits != nil {
		api.Use(limits.UserMiddleware())
	}
	{
		api.GET("/auth/me", authHandler.Me)
		api.GET("/ws/stats", wsHandler.GetStats)

		// Tourists
		api.GET("/tourists", dashboardHandler.Tourists)
		api.POST("/tourists", positionHandler.Register)
		api.GET("/tourists/:id/status", positionHandler.Status)
		api.DELETE("/tourists/:id", positionHandler.EndSession)

		api.GET("/summary", dashboardHandler.Summary)

		// Alerts
		api.GET("/alerts", alertHandler.List)
		api.GET("/alerts/active", alertHandler.Active)
		api.GET("/alerts/recent", alertHandler.Recent)
		api.GET("/alerts/export", alertHandler.Export)
		api.GET("/alerts/:id", alertHandler.Get)
		api.POST("/alerts/:id/status", alertHandler.UpdateStatus)
		api.POST("/alerts/:id/resend", alertHandler.Resend)

		// Zones
		api.GET("/zones", zoneHandler.List)
		api.POST("/zones/check", zoneHandler.Check)
		api.GET("/zones/import-template", zoneHandler.DownloadImportTemplate)
		api.GET("/zones/:id", zoneHandler.Get)
		api.GET("/zones/:id/history", zoneHandler.History)

		admin := api.Group("", middleware.RequireAdmin())
		admin.POST("/zones", zoneHandler.Create)
		admin.PUT("/zones/:id", zoneHandler.Update)
		admin.DELETE("/zones/:id", zoneHandler.Retire)
		admin.POST("/zones/import", zoneHandler.Import)
		admin.GET("/zones/import/:task_id/errors", zoneHandler.DownloadImportErrorReport)
	}
}

func (s *Server) rateLimitGroup() *middleware.RateLimitGroup {
	rl := s.config.RateLimit
	group := middleware.NewRateLimitGroup(middleware.NewRedisRateLimiter(s.deps.Redis), rl.DefaultRule.ToMiddlewareConfig())
	for i := range rl.SpecificRules {
		rule := rl.SpecificRules[i]
		group.AddSpecificConfig(rule.Path, rule.ToMiddlewareConfig())
	}
	group.Exempt(rl.Exempt...)
	return group
}

// health reports each dependency; the engine itself answering is enough
// for "ok" since every backend is optional.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	d := s.deps
	health := gin.H{
		"status":       "ok",
		"zone_version": d.Engine.Zones().Version(),
		"ws_clients":   d.Hub.GetClientCount(),
	}
	degraded := false

	if d.Database != nil {
		if err := d.Database.Ping(ctx); err != nil {
			health["database"] = err.Error()
			degraded = true
		} else {
			health["database"] = "ok"
		}
	} else {
		health["database"] = "memory"
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			health["redis"] = err.Error()
			degraded = true
		} else {
			health["redis"] = "ok"
		}
	} else {
		health["redis"] = "disabled"
	}

	if d.NATS != nil {
		health["nats"] = d.NATS.Status().String()
		if !d.NATS.IsConnected() {
			degraded = true
		}
	} else {
		health["nats"] = "disabled"
	}

	if d.JetStream != nil {
		health["jetstream"] = "enabled"
		if info, err := d.JetStream.StreamInfo(); err == nil {
			health["jetstream_alerts"] = gin.H{
				"messages": info.State.Msgs,
				"bytes":    info.State.Bytes,
			}
		}
	} else {
		health["jetstream"] = "disabled"
	}

	if degraded {
		health["status"] = "degraded"
	}
	c.JSON(http.StatusOK, health)
}

// Run starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("[Server] HTTP server listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// GetWSHub returns the WebSocket hub
func (s *Server) GetWSHub() *handler.WSHub {
	return s.deps.Hub
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// expires, then stops the hub.
func (s *Server) Shutdown(ctx context.Context) {
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Printf("[Server] HTTP shutdown: %v", err)
		}
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Stop()
		log.Println("[Server] WebSocket hub stopped")
	}
}
