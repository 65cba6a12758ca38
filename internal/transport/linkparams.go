// Package transport provides a uniform Modbus request API over RTU and TCP
// links, serializing requests per-link and classifying failures.
package transport

import "fmt"

// Parity identifies the serial parity setting of a link.
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// byteValue returns the single-character parity code goburrow/modbus expects.
func (p Parity) byteValue() string {
	switch p {
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	default:
		return "N"
	}
}

// BaudRates lists the supported serial baud rates, in ascending order.
var BaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// Parities lists the supported parity settings, in the order the parameter
// generator emits them.
var Parities = []Parity{ParityNone, ParityEven, ParityOdd}

// DataBitsValues lists the supported data-bit widths.
var DataBitsValues = []int{7, 8}

// StopBitsValues lists the supported stop-bit counts.
var StopBitsValues = []int{1, 2}

// LinkParams describes the serial link parameters a Transport is bound to
// for its lifetime. Two LinkParams are equal iff all four fields agree.
type LinkParams struct {
	BaudRate int
	Parity   Parity
	DataBits int
	StopBits int
}

// Equal reports whether two LinkParams designate the same link configuration.
func (l LinkParams) Equal(other LinkParams) bool {
	return l == other
}

func (l LinkParams) String() string {
	return fmt.Sprintf("%d-%s-%d-%d", l.BaudRate, l.Parity, l.DataBits, l.StopBits)
}

// SlaveID is a Modbus slave address. Valid values are [1, 247].
type SlaveID int

// Valid reports whether the id falls in the valid Modbus slave address range.
func (s SlaveID) Valid() bool {
	return s >= 1 && s <= 247
}

// Candidate is a single (LinkParams, SlaveID) pair considered during a scan.
type Candidate struct {
	Link  LinkParams
	Slave SlaveID
}
