// Package devices implements the device registry: the per-process set of
// configured devices, keyed by device id, with init/destroy lifecycle
// (spec.md §4.8).
package devices

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

// PollingSpec controls how a device is polled (spec.md §3 DeviceConfig).
type PollingSpec struct {
	IntervalMs     int
	MaxRetries     int
	RetryBackoffMs int
}

// DefaultPollingSpec returns the spec's documented defaults.
func DefaultPollingSpec() PollingSpec {
	return PollingSpec{IntervalMs: 5000, MaxRetries: 3, RetryBackoffMs: 2000}
}

// DeviceConfig describes a device to add to the registry (spec.md §3).
type DeviceConfig struct {
	DeviceID   string
	DriverRef  string
	Connection transport.ConnectionSpec
	Polling    PollingSpec
	Enabled    bool
}

// DeviceState is the mutable, scheduler-touched half of a DeviceRecord.
type DeviceState struct {
	LastPoll            time.Time
	LastUpdate          time.Time
	ConsecutiveFailures int
	RecentErrors        []string
	Connected           bool
}

const maxRecentErrors = 20

// DeviceRecord is a registry entry: config plus live references plus
// mutable state. Exclusively owned by the Registry; the scheduler refers to
// entries by device id only (spec.md §3).
type DeviceRecord struct {
	Config    DeviceConfig
	Driver    driver.Driver
	Transport transport.Transport
	State     DeviceState
}

// AlreadyExistsError is returned by AddDevice for a duplicate device id.
type AlreadyExistsError struct{ DeviceID string }

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("device %q already registered", e.DeviceID)
}

// NotFoundError is returned by operations targeting an unknown device id.
type NotFoundError struct{ DeviceID string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("device %q not found", e.DeviceID) }

// ConnectionOpener constructs Transports from a ConnectionSpec.
// *transport.Manager satisfies this; tests may supply a fake.
type ConnectionOpener interface {
	Open(spec transport.ConnectionSpec) (transport.Transport, error)
}

// Registry manages configured devices keyed by device id (spec.md §4.8).
type Registry struct {
	logger *zap.Logger
	loader *driver.Loader
	conns  ConnectionOpener

	mu      sync.RWMutex
	devices map[string]*DeviceRecord
}

// NewRegistry returns a Registry. A nil logger is replaced with a no-op
// logger.
func NewRegistry(logger *zap.Logger, loader *driver.Loader, conns ConnectionOpener) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		loader:  loader,
		conns:   conns,
		devices: make(map[string]*DeviceRecord),
	}
}

// AddDevice instantiates a driver and transport for cfg and stores the
// resulting DeviceRecord. Fails if the device id is already registered.
func (r *Registry) AddDevice(cfg DeviceConfig) (*DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[cfg.DeviceID]; exists {
		return nil, &AlreadyExistsError{DeviceID: cfg.DeviceID}
	}

	t, err := r.conns.Open(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("open transport for device %q: %w", cfg.DeviceID, err)
	}

	factory, err := r.loader.Resolve(cfg.DriverRef)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("resolve driver for device %q: %w", cfg.DeviceID, err)
	}

	record := &DeviceRecord{
		Config:    cfg,
		Driver:    factory.New(t),
		Transport: t,
		State:     DeviceState{Connected: true},
	}
	r.devices[cfg.DeviceID] = record

	r.logger.Info("device added", zap.String("device_id", cfg.DeviceID), zap.String("driver", cfg.DriverRef))
	return record, nil
}

// RemoveDevice destroys a device's transport and removes its record.
func (r *Registry) RemoveDevice(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.devices[deviceID]
	if !exists {
		return &NotFoundError{DeviceID: deviceID}
	}
	delete(r.devices, deviceID)

	if err := record.Transport.Close(); err != nil {
		r.logger.Warn("error closing transport on device removal",
			zap.String("device_id", deviceID), zap.Error(err))
	}
	r.logger.Info("device removed", zap.String("device_id", deviceID))
	return nil
}

// GetDevice returns a snapshot (shallow copy) of a device's record.
func (r *Registry) GetDevice(deviceID string) (DeviceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.devices[deviceID]
	if !exists {
		return DeviceRecord{}, &NotFoundError{DeviceID: deviceID}
	}
	return *record, nil
}

// ListDevices returns a snapshot of every registered device id, in no
// particular order.
func (r *Registry) ListDevices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// DeviceCount reports the number of registered devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// StateUpdate carries the subset of DeviceState a caller wants to mutate;
// zero-value fields are left untouched except where noted.
type StateUpdate struct {
	LastPoll            *time.Time
	LastUpdate          *time.Time
	ConsecutiveFailures *int
	AppendError         string // non-empty: appended to RecentErrors, trimmed to maxRecentErrors
	Connected           *bool
}

// UpdateState applies a partial state update to a device, used by
// scheduler callbacks (spec.md §4.8).
func (r *Registry) UpdateState(deviceID string, update StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.devices[deviceID]
	if !exists {
		return &NotFoundError{DeviceID: deviceID}
	}

	if update.LastPoll != nil {
		record.State.LastPoll = *update.LastPoll
	}
	if update.LastUpdate != nil {
		record.State.LastUpdate = *update.LastUpdate
	}
	if update.ConsecutiveFailures != nil {
		record.State.ConsecutiveFailures = *update.ConsecutiveFailures
	}
	if update.Connected != nil {
		record.State.Connected = *update.Connected
	}
	if update.AppendError != "" {
		record.State.RecentErrors = append(record.State.RecentErrors, update.AppendError)
		if len(record.State.RecentErrors) > maxRecentErrors {
			record.State.RecentErrors = record.State.RecentErrors[len(record.State.RecentErrors)-maxRecentErrors:]
		}
	}
	return nil
}

// Clear destroys every registered device, closing its transport, and
// empties the registry. Close errors are logged, not returned: shutdown
// must proceed regardless.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, record := range r.devices {
		if err := record.Transport.Close(); err != nil {
			r.logger.Warn("error closing transport during clear",
				zap.String("device_id", id), zap.Error(err))
		}
	}
	r.devices = make(map[string]*DeviceRecord)
}
