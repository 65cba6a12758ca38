package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-modbus-gateway/internal/transport"
)

const sampleYAML = `
mqtt:
  broker_url: tcp://localhost:1883
  client_id: bridge-1
  topic_prefix: modbus

metrics:
  enabled: true
  addr: :9090

devices:
  - device_id: meter-1
    driver: demometer
    enabled: true
    polling:
      interval_ms: 10000
    connection:
      kind: tcp
      tcp:
        address: 192.168.1.50:502
        unit_id: 1
  - device_id: meter-2
    driver: demometer
    enabled: true
    connection:
      kind: rtu
      rtu:
        port: /dev/ttyUSB0
        baud_rate: 9600
        parity: none
        data_bits: 8
        stop_bits: 1
        slave: 3
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_ParsesMQTTAndDevices(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, "modbus", cfg.MQTT.TopicPrefix)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Len(t, cfg.Devices, 2)
}

func TestDeviceConfigs_ConvertsTCPAndRTU(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	devs, err := cfg.DeviceConfigs()
	require.NoError(t, err)
	require.Len(t, devs, 2)

	tcp := devs[0]
	assert.Equal(t, "meter-1", tcp.DeviceID)
	assert.Equal(t, transport.ConnectionTCP, tcp.Connection.Kind)
	assert.Equal(t, "192.168.1.50:502", tcp.Connection.Address)
	assert.Equal(t, 10000, tcp.Polling.IntervalMs)
	// MaxRetries/RetryBackoffMs were left unset in YAML, so defaults apply.
	assert.Equal(t, 3, tcp.Polling.MaxRetries)

	rtu := devs[1]
	assert.Equal(t, transport.ConnectionRTU, rtu.Connection.Kind)
	assert.Equal(t, "/dev/ttyUSB0", rtu.Connection.Port)
	assert.Equal(t, 9600, rtu.Connection.Link.BaudRate)
	assert.Equal(t, transport.SlaveID(3), rtu.Connection.Slave)
}

func TestDeviceConfigs_MissingConnectionStanzaFails(t *testing.T) {
	path := writeTempConfig(t, `
devices:
  - device_id: broken
    driver: demometer
    connection:
      kind: tcp
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.DeviceConfigs()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/path/bridge.yaml")
	require.Error(t, err)
}

func TestSave_RoundTrips(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	savePath := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(savePath))

	reloaded, err := Load(savePath)
	require.NoError(t, err)
	assert.Equal(t, cfg.MQTT.BrokerURL, reloaded.MQTT.BrokerURL)
	assert.Len(t, reloaded.Devices, 2)
}
