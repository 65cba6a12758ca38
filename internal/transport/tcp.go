package transport

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// TCP is a Transport over a TCP Modbus connection (spec.md §2.1).
type TCP struct {
	address string
	slave   SlaveID
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewTCP returns a Transport for a "host:port" TCP Modbus endpoint.
func NewTCP(address string, slave SlaveID) *TCP {
	return &TCP{address: address, slave: slave}
}

func (t *TCP) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	handler := modbus.NewTCPClientHandler(t.address)
	handler.SlaveId = byte(t.slave)
	handler.Timeout = DefaultTimeout

	if err := handler.Connect(); err != nil {
		return err
	}

	t.handler = handler
	t.client = modbus.NewClient(handler)
	return nil
}

func (t *TCP) Close() error {
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

func (t *TCP) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler != nil {
		t.handler.Timeout = d
	}
}

func (t *TCP) SetSlaveID(id SlaveID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slave = id
	if t.handler != nil {
		t.handler.SlaveId = byte(id)
	}
}

func (t *TCP) ReadCoils(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadCoils(address, count)
}

func (t *TCP) ReadDiscreteInputs(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadDiscreteInputs(address, count)
}

func (t *TCP) ReadHoldingRegisters(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadHoldingRegisters(address, count)
}

func (t *TCP) ReadInputRegisters(address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.ReadInputRegisters(address, count)
}

func (t *TCP) WriteSingleCoil(address uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteSingleCoil(address, value)
	return err
}

func (t *TCP) WriteSingleRegister(address uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteSingleRegister(address, value)
	return err
}

func (t *TCP) WriteMultipleRegisters(address, count uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.client.WriteMultipleRegisters(address, count, data)
	return err
}

func (t *TCP) RawRequest(functionCode byte, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sendRaw(t.handler, functionCode, data)
}
