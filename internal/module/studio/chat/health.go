package chat

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/utils/metrics"
)

// HealthStatus is a snapshot of the remote endpoint health.
type HealthStatus struct {
	Healthy      bool      `json:"healthy"`
	BreakerState string    `json:"breaker_state"`
	LastCheck    time.Time `json:"last_check,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// HealthMonitorConfig contains health monitor configuration.
type HealthMonitorConfig struct {
	CheckInterval    time.Duration
	FailureThreshold uint32
	Timeout          time.Duration
	ProbeTimeout     time.Duration
}

// DefaultHealthMonitorConfig returns the default health monitor configuration.
func DefaultHealthMonitorConfig() *HealthMonitorConfig {
	return &HealthMonitorConfig{
		CheckInterval:    30 * time.Second,
		FailureThreshold: 3,
		Timeout:          60 * time.Second,
		ProbeTimeout:     10 * time.Second,
	}
}

// HealthMonitor probes the remote endpoint in the background. Probes go through a circuit
// breaker so an unreachable endpoint is reported as open instead of probed on every tick.
// It never sits in the path of generation or translation calls.
type HealthMonitor struct {
	mu sync.RWMutex

	httpClient *http.Client
	url        string
	breaker    *gobreaker.CircuitBreaker[struct{}]
	config     *HealthMonitorConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics

	lastCheck time.Time
	lastErr   error

	stopOnce    sync.Once
	stopMonitor chan struct{}
	wg          sync.WaitGroup
}

// NewHealthMonitor creates a monitor for the endpoint rooted at baseURL.
func NewHealthMonitor(httpClient *http.Client, baseURL string, config *HealthMonitorConfig, logger *zap.Logger, m *metrics.Metrics) *HealthMonitor {
	def := DefaultHealthMonitorConfig()
	if config == nil {
		config = def
	}
	merged := *config
	config = &merged
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hm := &HealthMonitor{
		httpClient:  httpClient,
		url:         baseURL + modelsPath,
		config:      config,
		logger:      logger,
		metrics:     m,
		stopMonitor: make(chan struct{}),
	}

	hm.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "remote-endpoint",
		MaxRequests: 1,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("remote endpoint breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return hm
}

// Start runs one probe bounded by ProbeTimeout and then probes periodically until Stop.
func (m *HealthMonitor) Start(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	_ = m.Check(probeCtx)
	cancel()

	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop stops the background probe and waits for it to exit. It is safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopMonitor) })
	m.wg.Wait()
}

func (m *HealthMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopMonitor:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
			_ = m.Check(ctx)
			cancel()
		}
	}
}

// Check probes the endpoint once. Any reply below 500 counts as reachable, since the probe
// carries no API key and an auth rejection still proves the endpoint is up.
func (m *HealthMonitor) Check(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.probe(ctx)
	})

	m.mu.Lock()
	m.lastCheck = time.Now()
	m.lastErr = err
	m.mu.Unlock()

	healthy := err == nil
	m.metrics.SetRemoteHealth(healthy)
	if !healthy {
		m.logger.Warn("remote endpoint health check failed", zap.Error(err))
	}
	return err
}

func (m *HealthMonitor) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Status returns the latest health snapshot.
func (m *HealthMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.breaker.State()
	status := HealthStatus{
		Healthy:      m.lastErr == nil && state != gobreaker.StateOpen,
		BreakerState: state.String(),
		LastCheck:    m.lastCheck,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}
