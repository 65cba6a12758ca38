package transport

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout is the default per-request Modbus timeout (spec.md §4.1).
const DefaultTimeout = 1000 * time.Millisecond

// Transport exposes the uniform Modbus request API over RTU and TCP links.
// A single Transport serializes all requests on its link with a mutex, so
// only one request is in flight at a time; the order in which concurrent
// callers acquire the link is not guaranteed to be FIFO. Close is idempotent
// and safe from any state.
type Transport interface {
	// Open establishes the underlying connection.
	Open() error
	// Close releases the underlying connection. Idempotent.
	Close() error
	// SetTimeout sets the per-request timeout used by subsequent requests.
	SetTimeout(d time.Duration)
	// SetSlaveID sets the slave/unit id used by subsequent requests.
	SetSlaveID(id SlaveID)

	ReadCoils(address, count uint16) ([]byte, error)
	ReadDiscreteInputs(address, count uint16) ([]byte, error)
	ReadHoldingRegisters(address, count uint16) ([]byte, error)
	ReadInputRegisters(address, count uint16) ([]byte, error)
	WriteSingleCoil(address uint16, value uint16) error
	WriteSingleRegister(address uint16, value uint16) error
	WriteMultipleRegisters(address, count uint16, data []byte) error

	// RawRequest sends an arbitrary function code PDU and returns the
	// response data, bypassing goburrow/modbus's Client interface. Used for
	// FC43 Read Device Identification, which that interface doesn't expose.
	RawRequest(functionCode byte, data []byte) ([]byte, error)
}

// rawHandler is satisfied by both RTUClientHandler and TCPClientHandler: the
// Packager + Transporter primitives the goburrow/modbus Client itself is
// built on.
type rawHandler interface {
	Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error)
	Decode(adu []byte) (*modbus.ProtocolDataUnit, error)
	Verify(aduRequest []byte, aduResponse []byte) error
	Send(aduRequest []byte) ([]byte, error)
}

func sendRaw(h rawHandler, functionCode byte, data []byte) ([]byte, error) {
	pdu := &modbus.ProtocolDataUnit{FunctionCode: functionCode, Data: data}
	aduRequest, err := h.Encode(pdu)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	aduResponse, err := h.Send(aduRequest)
	if err != nil {
		return nil, err
	}
	if err := h.Verify(aduRequest, aduResponse); err != nil {
		return nil, fmt.Errorf("verify response: %w", err)
	}
	respPDU, err := h.Decode(aduResponse)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if respPDU.FunctionCode&0x80 != 0 {
		code := byte(0)
		if len(respPDU.Data) > 0 {
			code = respPDU.Data[0]
		}
		return nil, &modbus.ModbusError{FunctionCode: respPDU.FunctionCode, ExceptionCode: code}
	}
	return respPDU.Data, nil
}
