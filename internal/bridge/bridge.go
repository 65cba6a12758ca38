// Package bridge wires the MQTT client, device registry, and polling
// scheduler together into a single orchestrator (spec.md §4.10).
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/devices"
	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/metrics"
	"mqtt-modbus-gateway/internal/mqttclient"
	"mqtt-modbus-gateway/internal/resilience"
	"mqtt-modbus-gateway/internal/scheduler"
	"mqtt-modbus-gateway/internal/transport"
)

// State is one of the bridge's lifecycle states (spec.md §3 BridgeStatus).
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// maxStatusErrors bounds BridgeStatus.Errors so a pathological run of
// handler or poll failures can't grow it without limit (spec.md §4.10).
const maxStatusErrors = 64

// BridgeStatus is a point-in-time snapshot of the bridge.
type BridgeStatus struct {
	State           State
	Timestamp       time.Time
	Errors          []string
	DeviceCount     int
	BrokerConnected bool
}

// Config configures a Bridge. MQTT is required; the rest have sensible
// defaults when left zero.
type Config struct {
	MQTT        mqttclient.Config
	TopicPrefix string

	Logger           *zap.Logger
	Loader           *driver.Loader
	ConnectionOpener devices.ConnectionOpener
	Metrics          *metrics.Metrics
	Breakers         *resilience.Manager
}

// Bridge is the top-level orchestrator (spec.md §4.10).
type Bridge struct {
	logger     *zap.Logger
	mqttClient *mqttclient.Client
	registry   *devices.Registry
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	breakers   *resilience.Manager

	mu        sync.Mutex
	state     State
	errorList []string
}

// New constructs a Bridge. Start must be called before it does anything.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := cfg.Loader
	if loader == nil {
		loader = driver.NewLoader(logger)
	}
	opener := cfg.ConnectionOpener
	if opener == nil {
		opener = transport.NewManager()
	}

	b := &Bridge{
		logger:   logger,
		registry: devices.NewRegistry(logger, loader, opener),
		metrics:  cfg.Metrics,
		breakers: cfg.Breakers,
		state:    StateStopped,
	}
	b.scheduler = scheduler.NewScheduler(logger, b.onData, b.onError)

	mqttCfg := cfg.MQTT
	mqttCfg.TopicPrefix = cfg.TopicPrefix
	mqttCfg.OnHandlerError = b.onHandlerError
	b.mqttClient = mqttclient.NewClient(mqttCfg, logger)

	return b
}

// Start transitions stopped -> starting, opens the MQTT client, and on the
// first successful connect transitions to running and starts the
// scheduler. It returns (and the bridge moves to the error state) if the
// initial connection fails; later disconnects are handled transparently by
// the MQTT client's auto-reconnect and never surface here.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateStopped {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge: cannot start from state %q", state)
	}
	b.state = StateStarting
	b.mu.Unlock()

	if err := b.mqttClient.Connect(); err != nil {
		b.mu.Lock()
		b.state = StateError
		b.mu.Unlock()
		b.appendStatusError(fmt.Sprintf("mqtt connect failed: %v", err))
		return fmt.Errorf("bridge: mqtt connect failed: %w", err)
	}

	b.mu.Lock()
	b.state = StateRunning
	b.mu.Unlock()

	b.scheduler.Start()
	b.logger.Info("bridge started", zap.Int("device_count", b.registry.DeviceCount()))
	return nil
}

// Stop transitions running/starting -> stopping -> stopped: stops the
// scheduler, destroys every device, drains all MQTT listeners, and closes
// the client. Idempotent: concurrent or repeated calls after the first are
// no-ops.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.state == StateStopped || b.state == StateStopping {
		b.mu.Unlock()
		return
	}
	b.state = StateStopping
	b.mu.Unlock()

	b.scheduler.Stop()
	b.registry.Clear()
	b.mqttClient.Stop()

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()
	b.logger.Info("bridge stopped")
}

// Status reports a point-in-time snapshot. BrokerConnected and DeviceCount
// are read live, never from stale bookkeeping.
func (b *Bridge) Status() BridgeStatus {
	b.mu.Lock()
	state := b.state
	errs := append([]string(nil), b.errorList...)
	b.mu.Unlock()

	return BridgeStatus{
		State:           state,
		Timestamp:       time.Now(),
		Errors:          errs,
		DeviceCount:     b.registry.DeviceCount(),
		BrokerConnected: b.mqttClient.IsConnected(),
	}
}

// AddDevice forwards to the registry and, if the device is enabled,
// schedules it for polling (wrapped in a circuit breaker if one is
// configured).
func (b *Bridge) AddDevice(cfg devices.DeviceConfig) (*devices.DeviceRecord, error) {
	record, err := b.registry.AddDevice(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Enabled {
		d := record.Driver
		if b.breakers != nil {
			d = resilience.WrapDriver(cfg.DeviceID, d, b.breakers)
		}
		b.scheduler.ScheduleDevice(cfg.DeviceID, toSchedulerSpec(cfg.Polling), d)
	}
	return record, nil
}

// RemoveDevice unschedules the device before destroying its registry
// record (spec.md §4.10 "on remove the device is unscheduled before
// destruction").
func (b *Bridge) RemoveDevice(deviceID string) error {
	b.scheduler.UnscheduleDevice(deviceID)
	if b.breakers != nil {
		b.breakers.Remove(deviceID)
	}
	return b.registry.RemoveDevice(deviceID)
}

// Publish, Subscribe, and Unsubscribe delegate straight to the MQTT client,
// which applies the configured topic prefix.
func (b *Bridge) Publish(topic string, qos byte, retain bool, payload []byte) error {
	return b.mqttClient.Publish(topic, qos, retain, payload)
}

func (b *Bridge) Subscribe(topic string, qos byte, handler mqttclient.Handler) error {
	return b.mqttClient.Subscribe(topic, qos, handler)
}

func (b *Bridge) Unsubscribe(topic string) error {
	return b.mqttClient.Unsubscribe(topic)
}

type dataPayload struct {
	DeviceID  string                 `json:"deviceId"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// onData is the scheduler's success callback: it records the reading in the
// registry and publishes it, fire-and-forget, to <prefix>/<deviceId>/data
// at QoS 0 (spec.md §4.10).
func (b *Bridge) onData(deviceID string, data map[string]interface{}) {
	now := time.Now()
	zero := 0
	connected := true
	if err := b.registry.UpdateState(deviceID, devices.StateUpdate{
		LastPoll: &now, LastUpdate: &now, ConsecutiveFailures: &zero, Connected: &connected,
	}); err != nil {
		b.logger.Warn("failed to update device state", zap.String("device_id", deviceID), zap.Error(err))
	}
	if b.metrics != nil {
		b.metrics.RecordPoll(deviceID, nil, 0)
	}

	buf, err := json.Marshal(dataPayload{DeviceID: deviceID, Timestamp: now.UnixMilli(), Data: data})
	if err != nil {
		b.logger.Error("failed to marshal poll payload", zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	topic := fmt.Sprintf("%s/data", deviceID)
	if err := b.mqttClient.Publish(topic, 0, false, buf); err != nil {
		b.logger.Warn("publish failed", zap.String("device_id", deviceID), zap.Error(err))
		b.appendStatusError(fmt.Sprintf("publish failed for %s: %v", deviceID, err))
		if b.metrics != nil {
			b.metrics.RecordMQTTPublishFailure()
		}
	}
}

// onError is the scheduler's failure callback: it fetches the device
// record, increments consecutiveFailures, and appends the error to the
// bounded status error list (spec.md §4.10).
func (b *Bridge) onError(deviceID string, err error) {
	record, getErr := b.registry.GetDevice(deviceID)
	if getErr == nil {
		failures := record.State.ConsecutiveFailures + 1
		_ = b.registry.UpdateState(deviceID, devices.StateUpdate{
			ConsecutiveFailures: &failures, AppendError: err.Error(),
		})
	}
	if b.metrics != nil {
		b.metrics.RecordPoll(deviceID, err, 0)
	}
	b.appendStatusError(fmt.Sprintf("%s: %v", deviceID, err))
	b.logger.Warn("poll failed", zap.String("device_id", deviceID), zap.Error(err))
}

// onHandlerError records an inbound MQTT handler's failure in the bounded
// status error list (spec.md §8 scenario 5).
func (b *Bridge) onHandlerError(topic string, err error) {
	b.appendStatusError(fmt.Sprintf("Handler error for %s: %v", topic, err))
}

func (b *Bridge) appendStatusError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorList = append(b.errorList, msg)
	if len(b.errorList) > maxStatusErrors {
		b.errorList = b.errorList[len(b.errorList)-maxStatusErrors:]
	}
}

func toSchedulerSpec(p devices.PollingSpec) scheduler.PollingSpec {
	return scheduler.PollingSpec{IntervalMs: p.IntervalMs, MaxRetries: p.MaxRetries, RetryBackoffMs: p.RetryBackoffMs}
}
