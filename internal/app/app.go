package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/infra/httpclient"
	"github.com/wuhu/studio/internal/module/studio"
	sharedcache "github.com/wuhu/studio/internal/shared/cache"
	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/shared/logger"
	"github.com/wuhu/studio/internal/utils/metrics"
	"github.com/wuhu/studio/internal/utils/middleware"
)

const metricsNamespace = "wuhu"

// App represents the application.
type App struct {
	config   *config.Config
	redis    redis.UniversalClient
	router   *gin.Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Modules
	studioModule *studio.Module
}

// New creates a new application instance. A nil log builds one from the log section.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if log == nil {
		log = logger.New(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		config:   cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.NewWithRegistry(metricsNamespace, registry),
	}

	// Initialize Redis (optional)
	ctx := context.Background()
	redisClient, err := sharedcache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// Redis only backs the download cache, so run without it
		log.Warn("redis unavailable, download cache disabled", zap.Error(err))
	} else if redisClient != nil {
		app.redis = redisClient
	}

	// Initialize modules
	if err := app.initModules(); err != nil {
		app.closeRedis()
		return nil, fmt.Errorf("init modules: %w", err)
	}

	// Initialize router
	app.router = app.setupRouter()

	// Start modules
	if err := app.studioModule.Start(ctx); err != nil {
		app.closeRedis()
		return nil, fmt.Errorf("start studio module: %w", err)
	}

	return app, nil
}

// initModules initializes all application modules.
func (a *App) initModules() error {
	studioModule, err := studio.NewModule(&studio.Config{
		Config:     a.config,
		Redis:      a.redis,
		HTTPClient: httpclient.New(a.config.HTTPClient),
		Logger:     a.logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return fmt.Errorf("create studio module: %w", err)
	}
	a.studioModule = studioModule
	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	// Set Gin mode based on environment
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID(a.logger))
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.CORSConfigFrom(a.config.CORS)))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	a.studioModule.RegisterRoutes(v1)

	return r
}

// health reports liveness. An unreachable remote endpoint degrades the status but the
// service itself stays up.
func (a *App) health(c *gin.Context) {
	remote := a.studioModule.Health()
	status := "ok"
	if !remote.Healthy {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"sessions": a.studioModule.Sessions().Count(),
		"remote":   remote,
	})
}

// Router returns the Gin router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop stops background work and releases connections.
func (a *App) Stop() {
	if a.studioModule != nil {
		a.studioModule.Stop()
	}
	a.closeRedis()
	_ = a.logger.Sync()
}

func (a *App) closeRedis() {
	if err := sharedcache.Close(a.redis); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	a.redis = nil
}
