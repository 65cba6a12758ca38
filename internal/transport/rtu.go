package transport

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// RTU is a Transport bound to a serial link for its lifetime (spec.md §3).
type RTU struct {
	port    string
	link    LinkParams
	slave   SlaveID
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// NewRTU returns a Transport for a serial port bound to the given link
// parameters and slave id.
func NewRTU(port string, link LinkParams, slave SlaveID) *RTU {
	return &RTU{port: port, link: link, slave: slave}
}

func (t *RTU) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	handler := modbus.NewRTUClientHandler(t.port)
	handler.BaudRate = t.link.BaudRate
	handler.DataBits = t.link.DataBits
	handler.StopBits = t.link.StopBits
	handler.Parity = t.link.Parity.byteValue()
	handler.SlaveId = byte(t.slave)
	handler.Timeout = DefaultTimeout

	if err := handler.Connect(); err != nil {
		return err
	}

	t.handler = handler
	t.client = modbus.NewClient(handler)
	return nil
}

func (t *RTU) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handler == nil {
		return nil
	}
	err := t.handler.Close()
	t.handler = nil
	t.client = nil
	return err
}

func (t *RTU) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler != nil {
		t.handler.Timeout = d
	}
}

func (t *RTU) SetSlaveID(id SlaveID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slave = id
	if t.handler != nil {
		t.handler.SlaveId = byte(id)
	}
}

func (t *RTU) ReadCoils(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadCoils(address, count)
}

func (t *RTU) ReadDiscreteInputs(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadDiscreteInputs(address, count)
}

func (t *RTU) ReadHoldingRegisters(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadHoldingRegisters(address, count)
}

func (t *RTU) ReadInputRegisters(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadInputRegisters(address, count)
}

func (t *RTU) WriteSingleCoil(address uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteSingleCoil(address, value)
	return err
}

func (t *RTU) WriteSingleRegister(address uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteSingleRegister(address, value)
	return err
}

func (t *RTU) WriteMultipleRegisters(address, count uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteMultipleRegisters(address, count, data)
	return err
}

func (t *RTU) RawRequest(functionCode byte, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sendRaw(t.handler, functionCode, data)
}
