package demometer

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

// fakeTransport answers holding-register reads/writes from an in-memory
// register bank, one 16-bit word per address, so a multi-register read
// spanning several data points behaves like a real device would.
type fakeTransport struct {
	registers map[uint16]uint16
	written   map[uint16]uint16
	reads     []uint16 // addresses passed to ReadHoldingRegisters, in order
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{registers: make(map[uint16]uint16), written: make(map[uint16]uint16)}
}

func (f *fakeTransport) putFloat(address uint16, v float32) {
	bits := math.Float32bits(v)
	f.registers[address] = uint16(bits >> 16)
	f.registers[address+1] = uint16(bits)
}

func (f *fakeTransport) putInt(address uint16, v uint16) {
	f.registers[address] = v
}

func (f *fakeTransport) Open() error                                              { return nil }
func (f *fakeTransport) Close() error                                             { return nil }
func (f *fakeTransport) SetTimeout(d time.Duration)                               {}
func (f *fakeTransport) SetSlaveID(id transport.SlaveID)                          {}
func (f *fakeTransport) ReadCoils(address, count uint16) ([]byte, error)          { return nil, nil }
func (f *fakeTransport) ReadDiscreteInputs(address, count uint16) ([]byte, error) { return nil, nil }
func (f *fakeTransport) ReadHoldingRegisters(address, count uint16) ([]byte, error) {
	f.reads = append(f.reads, address)
	buf := make([]byte, count*2)
	for i := uint16(0); i < count; i++ {
		binary.BigEndian.PutUint16(buf[i*2:], f.registers[address+i])
	}
	return buf, nil
}
func (f *fakeTransport) ReadInputRegisters(address, count uint16) ([]byte, error) { return nil, nil }
func (f *fakeTransport) WriteSingleCoil(address uint16, value uint16) error       { return nil }
func (f *fakeTransport) WriteSingleRegister(address uint16, value uint16) error {
	f.written[address] = value
	return nil
}
func (f *fakeTransport) WriteMultipleRegisters(address, count uint16, data []byte) error { return nil }
func (f *fakeTransport) RawRequest(fc byte, data []byte) ([]byte, error)                 { return nil, nil }

func TestDemometer_ReadDataPointDecodesFloat(t *testing.T) {
	ft := newFakeTransport()
	ft.putFloat(0, 230.5)
	d := New(ft)

	v, err := d.ReadDataPoint("voltage")
	require.NoError(t, err)
	assert.InDelta(t, 230.5, v.(float64), 0.01)
}

func TestDemometer_ReadDataPointDecodesInteger(t *testing.T) {
	ft := newFakeTransport()
	ft.putInt(8, 3)
	d := New(ft)

	v, err := d.ReadDataPoint("status")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestDemometer_ReadDataPointUnknownID(t *testing.T) {
	d := New(newFakeTransport())
	_, err := d.ReadDataPoint("does-not-exist")
	require.Error(t, err)
	var unknown *driver.UnknownDataPointsError
	assert.ErrorAs(t, err, &unknown)
}

func TestDemometer_ReadDataPointNotReadable(t *testing.T) {
	d := New(newFakeTransport())
	_, err := d.ReadDataPoint("reset_counter")
	require.Error(t, err)
	var notReadable *driver.NotReadableError
	assert.ErrorAs(t, err, &notReadable)
}

func TestDemometer_WriteDataPointNotWritable(t *testing.T) {
	d := New(newFakeTransport())
	err := d.WriteDataPoint("voltage", 1)
	require.Error(t, err)
	var notWritable *driver.NotWritableError
	assert.ErrorAs(t, err, &notWritable)
}

func TestDemometer_WriteDataPointSucceeds(t *testing.T) {
	ft := newFakeTransport()
	d := New(ft)

	require.NoError(t, d.WriteDataPoint("reset_counter", 1))
	assert.Equal(t, uint16(1), ft.written[10])
}

func TestDemometer_ReadDataPointsBatchRejectsUnknownEntirely(t *testing.T) {
	ft := newFakeTransport()
	ft.putFloat(0, 120)
	d := New(ft)

	_, err := d.ReadDataPoints([]string{"voltage", "bogus"})
	require.Error(t, err)
	var unknown *driver.UnknownDataPointsError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"bogus"}, unknown.IDs)
}

func TestDemometer_ReadDataPointsReturnsAllReadable(t *testing.T) {
	ft := newFakeTransport()
	ft.putFloat(0, 230.0)
	ft.putFloat(2, 1.23)
	ft.putFloat(4, 50.0)
	ft.putFloat(6, 10.5)
	ft.putInt(8, 1)
	d := New(ft)

	data, err := d.ReadDataPoints([]string{"voltage", "current", "frequency", "energy_total", "status"})
	require.NoError(t, err)
	assert.Len(t, data, 5)
	assert.InDelta(t, 230.0, data["voltage"].(float64), 0.01)
	assert.Equal(t, 1, data["status"])

	// voltage(0-1), current(2-3), frequency(4-5), energy_total(6-7), and
	// status(8) are all contiguous, so the whole batch collapses into a
	// single ReadHoldingRegisters call starting at address 0.
	assert.Equal(t, []uint16{0}, ft.reads)
}

func TestDemometer_ReadDataPointsCoalescesOnlyContiguousRuns(t *testing.T) {
	ft := newFakeTransport()
	ft.putFloat(0, 230.0)
	ft.putInt(10, 7) // reset_counter is write-only, excluded from the run anyway
	ft.putInt(8, 2)  // status sits right after voltage/current/frequency/energy_total
	d := New(ft)

	data, err := d.ReadDataPoints([]string{"voltage", "status"})
	require.NoError(t, err)
	assert.Len(t, data, 2)

	// voltage (0-1) and status (8) are not contiguous, so two reads are
	// issued rather than one spanning the unread gap.
	assert.Equal(t, []uint16{0, 8}, ft.reads)
}

func TestDemometer_MetadataAndCatalog(t *testing.T) {
	d := New(newFakeTransport())
	assert.Equal(t, "demometer", d.Metadata().Name)
	assert.Len(t, d.DataPoints(), 6)
}
