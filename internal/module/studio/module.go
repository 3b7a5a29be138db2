package studio

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/module/studio/chat"
	"github.com/wuhu/studio/internal/module/studio/download"
	"github.com/wuhu/studio/internal/module/studio/handler"
	"github.com/wuhu/studio/internal/module/studio/imageproc"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/service"
	"github.com/wuhu/studio/internal/module/studio/session"
	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/utils/metrics"
)

// Module represents the studio module.
type Module struct {
	// Core components
	processor     *imageproc.Processor
	chatClient    *chat.Client
	healthMonitor *chat.HealthMonitor
	relay         *download.Relay
	loop          *orchestrator.Loop
	sessions      *session.Manager

	// Service
	service *service.Service

	// Handler
	handler *handler.Handler
}

// Config contains module dependencies.
type Config struct {
	// Application configuration
	Config *config.Config

	// Redis client for the download cache (optional)
	Redis redis.UniversalClient

	// Shared outbound HTTP client (optional)
	HTTPClient *http.Client

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Clock drives pacing; nil uses the wall clock
	Clock orchestrator.Clock
}

// NewModule creates a new studio module.
func NewModule(cfg *Config) (*Module, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("application config required")
	}
	appCfg := cfg.Config
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = orchestrator.RealClock{}
	}

	m := &Module{}

	m.processor = imageproc.NewProcessor(&imageproc.Config{
		MaxImages: appCfg.Studio.MaxReferences,
	}, log.Named("imageproc"), cfg.Metrics)

	chatClient, err := chat.NewClient(cfg.HTTPClient, chat.ConfigFrom(appCfg.Remote), log.Named("chat"), cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}
	m.chatClient = chatClient

	m.healthMonitor = chat.NewHealthMonitor(cfg.HTTPClient, chatClient.BaseURL(), &chat.HealthMonitorConfig{
		CheckInterval:    appCfg.Remote.HealthCheckInterval,
		FailureThreshold: appCfg.Remote.FailureThreshold,
		Timeout:          appCfg.Remote.CircuitTimeout,
	}, log.Named("health"), cfg.Metrics)

	// Download cache (optional)
	var blobCache download.BlobCache
	if cfg.Redis != nil {
		blobCache = download.NewRedisCache(cfg.Redis, &download.RedisCacheConfig{
			Prefix: appCfg.Download.CachePrefix,
			TTL:    appCfg.Download.CacheTTL,
		}, cfg.Metrics)
	}
	m.relay = download.NewRelay(cfg.HTTPClient, blobCache, download.ConfigFrom(appCfg.Download), log.Named("download"), cfg.Metrics)

	m.loop = orchestrator.NewLoop(chatClient, m.relay, clock, &orchestrator.Config{
		PacingDelay: appCfg.Studio.PacingDelay,
	}, log, cfg.Metrics)

	m.sessions = session.NewManager(session.ConfigFrom(appCfg.Session, appCfg.Studio.DefaultPrompt), log, cfg.Metrics)

	m.service = service.NewService(m.processor, chatClient, m.loop, m.relay, m.sessions, &service.Config{
		MaxCount:      appCfg.Studio.MaxCount,
		DefaultPrompt: appCfg.Studio.DefaultPrompt,
	}, log)

	m.handler = handler.NewHandler(m.service, appCfg.Studio.MaxUploadBytes)

	return m, nil
}

// Start starts the session sweeper and the remote health monitor.
func (m *Module) Start(ctx context.Context) error {
	m.sessions.Start()
	m.healthMonitor.Start(ctx)
	return nil
}

// Stop stops background work.
func (m *Module) Stop() {
	m.healthMonitor.Stop()
	m.sessions.Stop()
}

// RegisterRoutes registers studio routes.
func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.handler.RegisterRoutes(r)
}

// Health returns the remote endpoint health.
func (m *Module) Health() chat.HealthStatus {
	return m.healthMonitor.Status()
}

// Service returns the studio service.
func (m *Module) Service() *service.Service {
	return m.service
}

// Sessions returns the session manager.
func (m *Module) Sessions() *session.Manager {
	return m.sessions
}
