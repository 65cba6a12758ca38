// Package demometer is a minimal fixture driver: a handful of read/write
// data points backed by holding registers, used by tests and by the CLIs
// when selected by name ("demometer"). It registers no Probe hint, so
// auto-detection never picks it. It is deliberately generic — no particular
// vendor's register map.
package demometer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

func init() {
	driver.Register(driver.Factory{
		Name: "demometer",
		New:  New,
		Defaults: &driver.SupportedConfig{
			BaudRates: []int{9600},
			Parities:  []transport.Parity{transport.ParityNone},
			DataBits:  []int{8},
			StopBits:  []int{1},
		},
		Supported: &driver.SupportedConfig{
			BaudRates: []int{9600, 19200, 115200},
			Parities:  []transport.Parity{transport.ParityNone, transport.ParityEven},
			DataBits:  []int{8},
			StopBits:  []int{1},
		},
	})
}

var dataPoints = []driver.DataPoint{
	{ID: "voltage", Type: driver.TypeFloat, Access: driver.AccessRead, Unit: "V", Decimals: 1, Address: 0, Count: 2, PollClass: driver.PollPeriodic},
	{ID: "current", Type: driver.TypeFloat, Access: driver.AccessRead, Unit: "A", Decimals: 2, Address: 2, Count: 2, PollClass: driver.PollPeriodic},
	{ID: "frequency", Type: driver.TypeFloat, Access: driver.AccessRead, Unit: "Hz", Decimals: 2, Address: 4, Count: 2, PollClass: driver.PollPeriodic},
	{ID: "energy_total", Type: driver.TypeFloat, Access: driver.AccessRead, Unit: "kWh", Decimals: 1, Address: 6, Count: 2, PollClass: driver.PollPeriodic},
	{ID: "status", Type: driver.TypeInteger, Access: driver.AccessRead, Address: 8, Count: 1, PollClass: driver.PollStatic},
	{ID: "reset_counter", Type: driver.TypeInteger, Access: driver.AccessWrite, Address: 10, Count: 1, PollClass: driver.PollOnDemand},
}

// Demometer implements driver.Driver against a Transport it does not own.
type Demometer struct {
	t transport.Transport
}

// New constructs a Demometer bound to t.
func New(t transport.Transport) driver.Driver {
	return &Demometer{t: t}
}

func (d *Demometer) Metadata() driver.Metadata {
	return driver.Metadata{Name: "demometer", Manufacturer: "generic", Model: "fixture-1"}
}

func (d *Demometer) DataPoints() []driver.DataPoint { return dataPoints }

func pointByID(id string) (driver.DataPoint, bool) {
	for _, dp := range dataPoints {
		if dp.ID == id {
			return dp, true
		}
	}
	return driver.DataPoint{}, false
}

func (d *Demometer) ReadDataPoint(id string) (interface{}, error) {
	dp, ok := pointByID(id)
	if !ok {
		return nil, &driver.UnknownDataPointsError{IDs: []string{id}}
	}
	if !dp.Access.Readable() {
		return nil, &driver.NotReadableError{ID: id}
	}
	return d.readOne(dp)
}

func (d *Demometer) readOne(dp driver.DataPoint) (interface{}, error) {
	raw, err := d.t.ReadHoldingRegisters(dp.Address, dp.Count)
	if err != nil {
		return nil, err
	}
	return decode(dp, raw)
}

func decode(dp driver.DataPoint, raw []byte) (interface{}, error) {
	switch dp.Type {
	case driver.TypeFloat:
		if len(raw) < 4 {
			return nil, fmt.Errorf("demometer: short read for %q: %d bytes", dp.ID, len(raw))
		}
		bits := binary.BigEndian.Uint32(raw[:4])
		return roundTo(float64(math.Float32frombits(bits)), dp.Decimals), nil
	case driver.TypeInteger:
		if len(raw) < 2 {
			return nil, fmt.Errorf("demometer: short read for %q: %d bytes", dp.ID, len(raw))
		}
		return int(binary.BigEndian.Uint16(raw[:2])), nil
	default:
		return nil, fmt.Errorf("demometer: unsupported data type %q", dp.Type)
	}
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

func (d *Demometer) WriteDataPoint(id string, value interface{}) error {
	dp, ok := pointByID(id)
	if !ok {
		return &driver.UnknownDataPointsError{IDs: []string{id}}
	}
	if !dp.Access.Writable() {
		return &driver.NotWritableError{ID: id}
	}
	reg, ok := toRegisterValue(value)
	if !ok {
		return fmt.Errorf("demometer: value %v not convertible to a register for %q", value, id)
	}
	return d.t.WriteSingleRegister(dp.Address, reg)
}

func toRegisterValue(value interface{}) (uint16, bool) {
	switch v := value.(type) {
	case int:
		return uint16(v), true
	case int32:
		return uint16(v), true
	case int64:
		return uint16(v), true
	case uint16:
		return v, true
	case float64:
		return uint16(v), true
	default:
		return 0, false
	}
}

// ReadDataPoints batch-reads the given ids. It rejects the whole request if
// any id is unknown (spec.md §4.2), rather than reading a partial set, then
// coalesces the readable subset into the minimum number of holding-register
// reads by grouping points whose address ranges are contiguous.
func (d *Demometer) ReadDataPoints(ids []string) (map[string]interface{}, error) {
	var unknown []string
	points := make([]driver.DataPoint, 0, len(ids))
	for _, id := range ids {
		dp, ok := pointByID(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		points = append(points, dp)
	}
	if len(unknown) > 0 {
		return nil, &driver.UnknownDataPointsError{IDs: unknown}
	}

	readable := points[:0]
	for _, dp := range points {
		if dp.Access.Readable() {
			readable = append(readable, dp)
		}
	}
	sort.Slice(readable, func(i, j int) bool { return readable[i].Address < readable[j].Address })

	result := make(map[string]interface{}, len(readable))
	for _, run := range contiguousRuns(readable) {
		raw, err := d.t.ReadHoldingRegisters(run[0].Address, runRegisterCount(run))
		if err != nil {
			return nil, err
		}
		offset := uint16(0)
		for _, dp := range run {
			v, err := decode(dp, raw[offset*2:])
			if err != nil {
				return nil, err
			}
			result[dp.ID] = v
			offset += dp.Count
		}
	}
	return result, nil
}

// contiguousRuns partitions an address-sorted slice of DataPoints into
// maximal runs where each point's address immediately follows the previous
// point's last register, so each run can be satisfied by a single
// ReadHoldingRegisters call (spec.md §4.2 "minimum number of transport
// requests it reasonably can (register-contiguity aware)").
func contiguousRuns(points []driver.DataPoint) [][]driver.DataPoint {
	if len(points) == 0 {
		return nil
	}

	var runs [][]driver.DataPoint
	start := 0
	for i := 1; i <= len(points); i++ {
		if i == len(points) || points[i].Address != points[i-1].Address+points[i-1].Count {
			runs = append(runs, points[start:i])
			start = i
		}
	}
	return runs
}

func runRegisterCount(run []driver.DataPoint) uint16 {
	last := run[len(run)-1]
	return last.Address + last.Count - run[0].Address
}
