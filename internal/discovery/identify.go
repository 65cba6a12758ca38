package discovery

import (
	"errors"
	"time"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

const (
	fcReadDeviceID      = 0x2B
	meiTypeReadDeviceID = 0x0E
	readDeviceIDBasic   = 0x01
)

// Identifier probes a single (link, slave id) candidate for presence and
// classifies the outcome (spec.md §4.4). The Transport passed in must
// already be open and bound to the candidate's LinkParams and slave id.
type Identifier struct {
	Transport transport.Transport
	Driver    driver.Driver // optional
	Timeout   time.Duration
}

// Identify runs the identification ladder, stopping at the first conclusive
// outcome.
func (id *Identifier) Identify() ProbeOutcome {
	id.Transport.SetTimeout(id.Timeout)

	start := now()
	outcome, err := id.attempt()
	elapsed := now().Sub(start)
	outcome.ResponseTimeMs = float64(elapsed.Microseconds()) / 1000.0

	if outcome.Kind != -1 {
		return outcome
	}

	return id.classify(err)
}

// attempt runs steps 1-4 of the ladder. It returns a sentinel Kind of -1
// when no step reached a conclusive outcome, carrying the last error for
// classify to inspect.
func (id *Identifier) attempt() (ProbeOutcome, error) {
	// Step 1: driver-backed read, if a readable data point exists. Any other
	// error (not success, not a Modbus exception) is inconclusive and falls
	// through to FC43 rather than terminating the ladder here (spec.md §8
	// scenario 6 "any other error → fall back to FC43").
	if id.Driver != nil {
		for _, dp := range id.Driver.DataPoints() {
			if !dp.Access.Readable() {
				continue
			}
			_, err := id.Driver.ReadDataPoint(dp.ID)
			if err == nil {
				return ProbeOutcome{Kind: OutcomePresent}, nil
			}
			cls := transport.ClassifyForeign(err)
			if cls.Kind == transport.KindException {
				return ProbeOutcome{Kind: OutcomePresentWithException, ExceptionCode: cls.ExceptionCode}, nil
			}
			break
		}
	}

	// Step 2: FC43 Read Device Identification, object 0 (basic).
	resp, err := id.Transport.RawRequest(fcReadDeviceID, []byte{meiTypeReadDeviceID, readDeviceIDBasic, 0x00})
	if err == nil {
		ident := Identification{Present: true, SupportsFC43: true}
		objects, perr := parseDeviceIDObjects(resp)
		if perr == nil {
			if v, ok := objects[0]; ok {
				ident.VendorName = v
			}
			if v, ok := objects[1]; ok {
				ident.ProductCode = v
			}
			if v, ok := objects[2]; ok {
				ident.Revision = v
			}
		}
		return ProbeOutcome{Kind: OutcomePresent, Identification: ident}, nil
	}
	if cls := transport.Classify(err); cls.Kind == transport.KindException {
		return ProbeOutcome{
			Kind:          OutcomePresentWithException,
			ExceptionCode: cls.ExceptionCode,
			Identification: Identification{
				Present: true, SupportsFC43: false, ExceptionCode: cls.ExceptionCode,
			},
		}, nil
	}

	// Step 3: FC04 Read Input Register at address 1. Only a Modbus exception
	// at address 1 triggers a retry at address 0; any other failure falls
	// through to step 4 directly.
	_, err3 := id.Transport.ReadInputRegisters(1, 1)
	if err3 == nil {
		return ProbeOutcome{Kind: OutcomePresent}, nil
	}
	if cls := transport.Classify(err3); cls.Kind == transport.KindException {
		_, err3b := id.Transport.ReadInputRegisters(0, 1)
		if err3b == nil {
			return ProbeOutcome{Kind: OutcomePresent}, nil
		}
		if cls := transport.Classify(err3b); cls.Kind == transport.KindException {
			return ProbeOutcome{Kind: OutcomePresentWithException, ExceptionCode: cls.ExceptionCode}, nil
		}
	}

	// Step 4: FC03 Read Holding Register at address 0.
	_, err4 := id.Transport.ReadHoldingRegisters(0, 1)
	if err4 == nil {
		return ProbeOutcome{Kind: OutcomePresent}, nil
	}
	if cls := transport.Classify(err4); cls.Kind == transport.KindException {
		return ProbeOutcome{Kind: OutcomePresentWithException, ExceptionCode: cls.ExceptionCode}, nil
	}

	return ProbeOutcome{Kind: -1}, err4
}

// classify implements step 5 of the ladder: timeout / CRC / other.
func (id *Identifier) classify(err error) ProbeOutcome {
	cls := transport.Classify(err)
	switch cls.Kind {
	case transport.KindTimeout:
		return ProbeOutcome{Kind: OutcomeNotPresentTimeout}
	case transport.KindCRC:
		return ProbeOutcome{Kind: OutcomeNotPresentCRC}
	default:
		return ProbeOutcome{Kind: OutcomeNotPresentOther}
	}
}

var errShortDeviceIDResponse = errors.New("discovery: FC43 response too short")

// parseDeviceIDObjects decodes the object list from a successful FC43
// "basic" response: [MEIType][Code][Conformity][More][NextID][NumObjects]
// then repeated (id, len, value) tuples.
func parseDeviceIDObjects(data []byte) (map[int]string, error) {
	if len(data) < 6 {
		return nil, errShortDeviceIDResponse
	}
	numObjects := int(data[5])
	objects := make(map[int]string, numObjects)

	offset := 6
	for i := 0; i < numObjects && offset+2 <= len(data); i++ {
		objectID := int(data[offset])
		objectLen := int(data[offset+1])
		offset += 2
		if offset+objectLen > len(data) {
			break
		}
		objects[objectID] = string(data[offset : offset+objectLen])
		offset += objectLen
	}
	return objects, nil
}
