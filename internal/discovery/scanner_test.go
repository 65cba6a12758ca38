package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

func narrowGenerator(baudRates []int, slaveMin, slaveMax transport.SlaveID) *Generator {
	return NewGenerator(GeneratorOptions{
		Driver: &driver.SupportedConfig{
			BaudRates:       baudRates,
			Parities:        []transport.Parity{transport.ParityNone},
			DataBits:        []int{8},
			StopBits:        []int{1},
			AddressRangeMin: slaveMin,
			AddressRangeMax: slaveMax,
		},
	})
}

func TestScanner_ReportsProgressWhenNoDeviceAnswers(t *testing.T) {
	gen := narrowGenerator([]int{9600}, 1, 3)

	opener := func(port string, link transport.LinkParams) (transport.Transport, error) {
		return &fakeTransport{
			readHoldingRegisters: func(address, count uint16) ([]byte, error) {
				return nil, errors.New("no response")
			},
			readInputRegisters: func(address, count uint16) ([]byte, error) {
				return nil, errors.New("no response")
			},
			rawRequest: func(fc byte, data []byte) ([]byte, error) {
				return nil, errors.New("no response")
			},
		}, nil
	}

	var progress [][3]int
	var attempts []AttemptState
	var found []DiscoveredDevice

	s := NewScanner(gen, opener, nil)
	result := s.Scan(ScanOptions{
		Port:      "/dev/ttyUSB0",
		TimeoutMs: 10,
		DelayMs:   0,
		OnProgress: func(current, total, foundCount int) {
			progress = append(progress, [3]int{current, total, foundCount})
		},
		OnTestAttempt: func(c transport.Candidate, state AttemptState) {
			attempts = append(attempts, state)
		},
		OnDeviceFound: func(d DiscoveredDevice) {
			found = append(found, d)
		},
	})

	assert.Empty(t, result)
	require.Len(t, progress, 3)
	assert.Equal(t, [3]int{1, 3, 0}, progress[0])
	assert.Equal(t, [3]int{3, 3, 0}, progress[2])
	assert.Empty(t, found)
}

func TestScanner_StopsAtMaxDevices(t *testing.T) {
	gen := narrowGenerator([]int{9600, 19200}, 1, 2)

	opener := func(port string, link transport.LinkParams) (transport.Transport, error) {
		return &fakeTransport{
			readHoldingRegisters: func(address, count uint16) ([]byte, error) {
				return []byte{0x00, 0x00}, nil
			},
		}, nil
	}

	s := NewScanner(gen, opener, nil)
	result := s.Scan(ScanOptions{
		Port:       "/dev/ttyUSB0",
		TimeoutMs:  10,
		DelayMs:    0,
		MaxDevices: 1,
	})

	assert.Len(t, result, 1)
}

func TestScanner_AcquisitionFailureAdvancesProgressByGroupSize(t *testing.T) {
	gen := narrowGenerator([]int{9600, 19200}, 1, 2)

	opener := func(port string, link transport.LinkParams) (transport.Transport, error) {
		if link.BaudRate == 9600 {
			return nil, errors.New("device busy")
		}
		return &fakeTransport{
			readHoldingRegisters: func(address, count uint16) ([]byte, error) {
				return nil, errors.New("no response")
			},
		}, nil
	}

	var lastProgress [3]int
	s := NewScanner(gen, opener, nil)
	result := s.Scan(ScanOptions{
		Port:      "/dev/ttyUSB0",
		TimeoutMs: 10,
		DelayMs:   0,
		OnProgress: func(current, total, foundCount int) {
			lastProgress = [3]int{current, total, foundCount}
		},
	})

	assert.Empty(t, result)
	assert.Equal(t, 4, lastProgress[1]) // total unaffected
	assert.Equal(t, 4, lastProgress[0]) // position reaches total even though group 1 wasn't probed
}

func TestScanner_EmptyGeneratorReturnsEmptySlice(t *testing.T) {
	gen := NewGenerator(GeneratorOptions{Driver: &driver.SupportedConfig{
		BaudRates:       []int{9600},
		Parities:        []transport.Parity{transport.ParityNone},
		DataBits:        []int{8},
		StopBits:        []int{1},
		AddressRangeMin: 5,
		AddressRangeMax: 3, // inverted range yields zero candidates
	}})

	opener := func(port string, link transport.LinkParams) (transport.Transport, error) {
		t.Fatal("should never open a transport for an empty candidate set")
		return nil, nil
	}

	s := NewScanner(gen, opener, nil)
	result := s.Scan(ScanOptions{Port: "/dev/ttyUSB0", TimeoutMs: 10})

	assert.Empty(t, result)
}

func TestScanner_GroupsByLinkParamsContiguously(t *testing.T) {
	gen := narrowGenerator([]int{9600, 19200}, 1, 2)
	candidates := gen.Generate()
	groups := groupByLinkParams(candidates)

	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
	assert.Equal(t, 9600, groups[0][0].Link.BaudRate)
	assert.Equal(t, 19200, groups[1][0].Link.BaudRate)
}
