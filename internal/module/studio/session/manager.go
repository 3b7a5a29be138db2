package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/utils/metrics"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Config contains manager configuration.
type Config struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	DefaultPrompt   string
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		IdleTTL:         2 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// ConfigFrom maps the session section of the application config.
func ConfigFrom(sc config.SessionConfig, defaultPrompt string) *Config {
	return &Config{
		IdleTTL:         sc.IdleTTL,
		CleanupInterval: sc.CleanupInterval,
		DefaultPrompt:   defaultPrompt,
	}
}

// Manager owns the live sessions. Sessions idle for longer than IdleTTL are discarded by
// a background sweep.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*State

	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(cfg *Config, logger *zap.Logger, m *metrics.Metrics) *Manager {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	merged := *cfg
	cfg = &merged
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		sessions: make(map[uuid.UUID]*State),
		config:   cfg,
		logger:   logger.Named("sessions"),
		metrics:  m,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Create starts a new session seeded with the default prompt.
func (m *Manager) Create() *State {
	s := NewState(m.config.DefaultPrompt, m.now())

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	m.logger.Debug("session created", zap.String("session_id", s.ID().String()))
	return s
}

// Get returns a live session and marks it active.
func (m *Manager) Get(id uuid.UUID) (*State, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete ends a session.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	m.metrics.SetActiveSessions(n)
	m.logger.Debug("session deleted", zap.String("session_id", id.String()))
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start runs the idle sweep until Stop.
func (m *Manager) Start() {
	m.logger.Info("starting session sweeper",
		zap.Duration("idle_ttl", m.config.IdleTTL),
		zap.Duration("interval", m.config.CleanupInterval))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop stops the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Sweep discards sessions idle for longer than IdleTTL and returns how many it removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.config.IdleTTL)

	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		m.metrics.SetActiveSessions(n)
		m.logger.Info("expired idle sessions", zap.Int("removed", removed), zap.Int("active", n))
	}
	return removed
}
