// Package config loads and saves the bridge's YAML configuration file: MQTT
// broker settings, the metrics endpoint, and the device list (spec.md §6.2).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mqtt-modbus-gateway/internal/devices"
	"mqtt-modbus-gateway/internal/transport"
)

// BridgeConfig is the top-level YAML document consumed by the run
// subcommand's --config flag.
type BridgeConfig struct {
	MQTT    MQTTConfig     `yaml:"mqtt"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Devices []DeviceConfig `yaml:"devices"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	BrokerURL       string        `yaml:"broker_url"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	ReconnectPeriod time.Duration `yaml:"reconnect_period"`
}

// MetricsConfig configures the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PollingConfig is the YAML form of devices.PollingSpec. Zero fields fall
// back to devices.DefaultPollingSpec's values.
type PollingConfig struct {
	IntervalMs     int `yaml:"interval_ms"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

func (p PollingConfig) toSpec() devices.PollingSpec {
	spec := devices.DefaultPollingSpec()
	if p.IntervalMs != 0 {
		spec.IntervalMs = p.IntervalMs
	}
	if p.MaxRetries != 0 {
		spec.MaxRetries = p.MaxRetries
	}
	if p.RetryBackoffMs != 0 {
		spec.RetryBackoffMs = p.RetryBackoffMs
	}
	return spec
}

// RTUConnectionConfig describes a serial link.
type RTUConnectionConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	Parity   string `yaml:"parity"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Slave    int    `yaml:"slave"`
}

// TCPConnectionConfig describes a Modbus TCP endpoint.
type TCPConnectionConfig struct {
	Address string `yaml:"address"`
	UnitID  int    `yaml:"unit_id"`
}

// ConnectionConfig is the YAML form of transport.ConnectionSpec's tagged
// union: exactly one of RTU or TCP must be set, matching Kind.
type ConnectionConfig struct {
	Kind string               `yaml:"kind"`
	RTU  *RTUConnectionConfig `yaml:"rtu,omitempty"`
	TCP  *TCPConnectionConfig `yaml:"tcp,omitempty"`
}

func (c ConnectionConfig) toSpec() (transport.ConnectionSpec, error) {
	switch transport.ConnectionKind(c.Kind) {
	case transport.ConnectionRTU:
		if c.RTU == nil {
			return transport.ConnectionSpec{}, fmt.Errorf("config: connection kind %q requires an rtu stanza", c.Kind)
		}
		return transport.ConnectionSpec{
			Kind: transport.ConnectionRTU,
			Port: c.RTU.Port,
			Link: transport.LinkParams{
				BaudRate: c.RTU.BaudRate,
				Parity:   transport.Parity(c.RTU.Parity),
				DataBits: c.RTU.DataBits,
				StopBits: c.RTU.StopBits,
			},
			Slave: transport.SlaveID(c.RTU.Slave),
		}, nil
	case transport.ConnectionTCP:
		if c.TCP == nil {
			return transport.ConnectionSpec{}, fmt.Errorf("config: connection kind %q requires a tcp stanza", c.Kind)
		}
		return transport.ConnectionSpec{
			Kind:    transport.ConnectionTCP,
			Address: c.TCP.Address,
			UnitID:  transport.SlaveID(c.TCP.UnitID),
		}, nil
	default:
		return transport.ConnectionSpec{}, fmt.Errorf("config: unknown connection kind %q", c.Kind)
	}
}

// DeviceConfig is the YAML form of devices.DeviceConfig.
type DeviceConfig struct {
	DeviceID   string           `yaml:"device_id"`
	Driver     string           `yaml:"driver"`
	Enabled    bool             `yaml:"enabled"`
	Polling    PollingConfig    `yaml:"polling"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ToDeviceConfig validates and converts a DeviceConfig into the form the
// device registry expects.
func (d DeviceConfig) ToDeviceConfig() (devices.DeviceConfig, error) {
	if d.DeviceID == "" {
		return devices.DeviceConfig{}, fmt.Errorf("config: device entry missing device_id")
	}
	if d.Driver == "" {
		return devices.DeviceConfig{}, fmt.Errorf("config: device %q missing driver", d.DeviceID)
	}
	spec, err := d.Connection.toSpec()
	if err != nil {
		return devices.DeviceConfig{}, fmt.Errorf("config: device %q: %w", d.DeviceID, err)
	}
	return devices.DeviceConfig{
		DeviceID:   d.DeviceID,
		DriverRef:  d.Driver,
		Connection: spec,
		Polling:    d.Polling.toSpec(),
		Enabled:    d.Enabled,
	}, nil
}

// Load reads and parses a BridgeConfig from path.
func Load(path string) (*BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save marshals cfg back to path, for tooling that edits a running bridge's
// device list.
func (c *BridgeConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// DeviceConfigs converts every entry in c.Devices, stopping at the first
// invalid one.
func (c *BridgeConfig) DeviceConfigs() ([]devices.DeviceConfig, error) {
	out := make([]devices.DeviceConfig, 0, len(c.Devices))
	for _, d := range c.Devices {
		dc, err := d.ToDeviceConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, nil
}
