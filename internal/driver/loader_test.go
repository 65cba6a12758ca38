package driver

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-modbus-gateway/internal/transport"
)

type fakeDriver struct{}

func (fakeDriver) Metadata() Metadata                                          { return Metadata{Name: "fake"} }
func (fakeDriver) DataPoints() []DataPoint                                     { return nil }
func (fakeDriver) ReadDataPoint(id string) (interface{}, error)                { return nil, nil }
func (fakeDriver) WriteDataPoint(id string, value interface{}) error           { return nil }
func (fakeDriver) ReadDataPoints(ids []string) (map[string]interface{}, error) { return nil, nil }

func TestLoader_ResolveNotFound(t *testing.T) {
	l := NewLoader(nil)
	_, err := l.Resolve("does-not-exist")
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ErrorNotFound, derr.Kind)
}

func TestLoader_ResolveCachesAndCountsHitsMisses(t *testing.T) {
	Register(Factory{Name: "test-cache-driver", New: func(t transport.Transport) Driver { return fakeDriver{} }})

	l := NewLoader(nil)
	_, err := l.Resolve("test-cache-driver")
	require.NoError(t, err)
	_, err = l.Resolve("test-cache-driver")
	require.NoError(t, err)

	hits, misses, size := l.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, size)
}

func TestLoader_CrossValidateDefaultsWarnsNotErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	Register(Factory{
		Name: "test-mismatched-driver",
		New:  func(t transport.Transport) Driver { return fakeDriver{} },
		Defaults: &SupportedConfig{
			BaudRates: []int{4800},
		},
		Supported: &SupportedConfig{
			BaudRates: []int{9600, 19200},
		},
	})

	l := NewLoader(logger)
	f, err := l.Resolve("test-mismatched-driver")
	require.NoError(t, err)
	assert.Equal(t, "test-mismatched-driver", f.Name)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "baud rate")
}

func TestLoader_AutoDetectUsesProbeHint(t *testing.T) {
	Register(Factory{
		Name:  "test-probe-driver",
		New:   func(t transport.Transport) Driver { return fakeDriver{} },
		Probe: func(t transport.Transport) bool { return true },
	})

	l := NewLoader(nil)
	f, err := l.AutoDetect(nil)
	require.NoError(t, err)
	assert.Equal(t, "test-probe-driver", f.Name)
}
