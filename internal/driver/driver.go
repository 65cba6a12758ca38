// Package driver defines the device-type plug-in contract (spec.md §4.2):
// a metadata triple, an immutable data-point catalog, single-point
// read/write, and batch read.
package driver

import (
	"fmt"

	"mqtt-modbus-gateway/internal/transport"
)

// DataType enumerates the value kinds a DataPoint may carry.
type DataType string

const (
	TypeInteger   DataType = "integer"
	TypeFloat     DataType = "float"
	TypeBoolean   DataType = "boolean"
	TypeEnum      DataType = "enum"
	TypeString    DataType = "string"
	TypeTimestamp DataType = "timestamp"
)

// Access enumerates whether a DataPoint may be read, written, or both.
type Access string

const (
	AccessRead      Access = "r"
	AccessWrite     Access = "w"
	AccessReadWrite Access = "rw"
)

func (a Access) Readable() bool { return a == AccessRead || a == AccessReadWrite }
func (a Access) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

// PollClass enumerates how a DataPoint participates in periodic polling.
type PollClass string

const (
	PollStatic   PollClass = "static"
	PollPeriodic PollClass = "periodic"
	PollOnDemand PollClass = "on-demand"
)

// DataPoint describes a single driver-visible value (spec.md §3).
type DataPoint struct {
	ID        string
	Type      DataType
	Access    Access
	Unit      string
	Decimals  int
	Min       *float64
	Max       *float64
	EnumMap   map[int]string
	PollClass PollClass

	// Address is the Transport register address backing this point.
	// Count is the number of consecutive 16-bit registers it spans
	// (2 for float32, 1 for integer/boolean/enum).
	Address uint16
	Count   uint16
}

// Metadata identifies a driver's device type.
type Metadata struct {
	Name         string
	Manufacturer string
	Model        string
}

// SupportedConfig describes the subset of link parameters a driver is known
// to honour (spec.md GLOSSARY "Supported configuration"), used by the
// parameter generator's "quick" strategy when a driver is supplied.
type SupportedConfig struct {
	BaudRates []int
	Parities  []transport.Parity
	DataBits  []int
	StopBits  []int
	// AddressRange restricts the slave-id sweep, inclusive, when non-zero.
	AddressRangeMin SlaveID
	AddressRangeMax SlaveID
}

// SlaveID mirrors transport.SlaveID to avoid an import cycle concern when
// drivers are defined independently of a running scan.
type SlaveID = transport.SlaveID

// Driver is the device-type plug-in contract. A Driver does not own its
// Transport: it receives one at construction and must never close it.
type Driver interface {
	Metadata() Metadata
	DataPoints() []DataPoint

	ReadDataPoint(id string) (interface{}, error)
	WriteDataPoint(id string, value interface{}) error

	// ReadDataPoints performs a batch read, grouping contiguous registers
	// into the minimum number of transport requests it reasonably can. It
	// fails with an UnknownDataPointsError if any id is not in the catalog.
	ReadDataPoints(ids []string) (map[string]interface{}, error)
}

// UnknownDataPointsError is returned by ReadDataPoints when one or more
// requested ids aren't in the driver's catalog (spec.md §4.2).
type UnknownDataPointsError struct {
	IDs []string
}

func (e *UnknownDataPointsError) Error() string {
	return fmt.Sprintf("unknown data points: %v", e.IDs)
}

// NotWritableError is returned when WriteDataPoint targets a read-only point.
type NotWritableError struct{ ID string }

func (e *NotWritableError) Error() string { return fmt.Sprintf("data point %q is not writable", e.ID) }

// NotReadableError is returned when ReadDataPoint targets a write-only point.
type NotReadableError struct{ ID string }

func (e *NotReadableError) Error() string { return fmt.Sprintf("data point %q is not readable", e.ID) }
