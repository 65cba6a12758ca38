// Package resilience wraps device drivers with a per-device circuit
// breaker, so a link that is definitely down stops burning scheduler
// retries against a Transport guaranteed to keep failing.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/driver"
)

// BreakerConfig mirrors the teacher's connection-pool circuit breaker
// knobs, scoped down to what a per-device read breaker needs.
type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	FailureRate float64
	MinRequests uint32
}

// DefaultBreakerConfig returns conservative defaults: trip once at least 5
// requests have been observed in the rolling interval and 60% of them
// failed; stay open for 30s before allowing a half-open probe.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		FailureRate: 0.6,
		MinRequests: 5,
	}
}

// Manager owns one gobreaker.CircuitBreaker per device id, created lazily
// on first use.
type Manager struct {
	logger *zap.Logger
	cfg    BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager returns a Manager. A nil logger is replaced with a no-op
// logger.
func NewManager(cfg BreakerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger, cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (m *Manager) getOrCreate(deviceID string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[deviceID]; ok {
		return b
	}

	cfg := m.cfg
	settings := gobreaker.Settings{
		Name:        deviceID,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRate
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.Warn("circuit breaker state changed",
				zap.String("device_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	b := gobreaker.NewCircuitBreaker(settings)
	m.breakers[deviceID] = b
	return b
}

// Execute runs fn through deviceID's breaker.
func (m *Manager) Execute(deviceID string, fn func() (interface{}, error)) (interface{}, error) {
	return m.getOrCreate(deviceID).Execute(fn)
}

// State reports the current breaker state for deviceID (closed if none has
// been created yet).
func (m *Manager) State(deviceID string) gobreaker.State {
	return m.getOrCreate(deviceID).State()
}

// Remove drops deviceID's breaker, e.g. when the device is removed from the
// registry. A subsequent Execute for the same id starts a fresh breaker.
func (m *Manager) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, deviceID)
}

// BreakerDriver wraps a driver.Driver, routing its reads through a
// per-device circuit breaker. Writes and metadata pass straight through the
// embedded driver.Driver.
type BreakerDriver struct {
	driver.Driver
	deviceID string
	manager  *Manager
}

// WrapDriver decorates d with deviceID's circuit breaker.
func WrapDriver(deviceID string, d driver.Driver, m *Manager) *BreakerDriver {
	return &BreakerDriver{Driver: d, deviceID: deviceID, manager: m}
}

func (w *BreakerDriver) ReadDataPoint(id string) (interface{}, error) {
	result, err := w.manager.Execute(w.deviceID, func() (interface{}, error) {
		return w.Driver.ReadDataPoint(id)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *BreakerDriver) ReadDataPoints(ids []string) (map[string]interface{}, error) {
	result, err := w.manager.Execute(w.deviceID, func() (interface{}, error) {
		return w.Driver.ReadDataPoints(ids)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}
