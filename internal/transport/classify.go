package transport

import (
	"errors"
	"net"
	"strings"

	"github.com/goburrow/modbus"
)

// Kind enumerates the classes of Modbus request failure a Transport must
// distinguish. Exceptions are not failures of the request pipeline — they
// carry a code back to the caller.
type Kind int

const (
	KindTimeout Kind = iota
	KindCRC
	KindException
	KindConnRefused
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCRC:
		return "crc"
	case KindException:
		return "exception"
	case KindConnRefused:
		return "conn_refused"
	default:
		return "other"
	}
}

// Classification is the result of inspecting a transport-layer error.
type Classification struct {
	Kind          Kind
	ExceptionCode int // valid only when Kind == KindException
}

// Classify inspects an error returned from a Modbus request and buckets it
// into one of the kinds above. It follows Design Note §9: a single
// classification function fed from whatever the transport surfaces, rather
// than callers re-deriving this from errno/message substrings themselves.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindOther}
	}

	var modbusErr *modbus.ModbusError
	if errors.As(err, &modbusErr) {
		return Classification{Kind: KindException, ExceptionCode: int(modbusErr.ExceptionCode)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Kind: KindTimeout}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "etimedout") || strings.Contains(lower, "deadline exceeded") {
		return Classification{Kind: KindTimeout}
	}
	if strings.Contains(lower, "crc") {
		return Classification{Kind: KindCRC}
	}
	if strings.Contains(lower, "refused") || strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "busy") || strings.Contains(lower, "permission denied") {
		return Classification{Kind: KindConnRefused}
	}

	return Classification{Kind: KindOther}
}

// ClassifyForeign mirrors Classify but accepts an arbitrary value, not
// necessarily an error — the device identifier (§4.4 step 5) may observe
// non-Error exceptions bubbling up from a driver's read. Non-object values
// (strings, nil) are always classified as "other", never timeout/CRC, per
// spec.md §4.4.
func ClassifyForeign(v interface{}) Classification {
	if v == nil {
		return Classification{Kind: KindOther}
	}
	if err, ok := v.(error); ok {
		return Classify(err)
	}
	return Classification{Kind: KindOther}
}
