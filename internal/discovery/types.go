package discovery

import (
	"time"

	"mqtt-modbus-gateway/internal/transport"
)

// OutcomeKind enumerates the conclusive classes a probe can resolve to
// (spec.md §3's ProbeOutcome).
type OutcomeKind int

const (
	OutcomePresent OutcomeKind = iota
	OutcomePresentWithException
	OutcomeNotPresentTimeout
	OutcomeNotPresentCRC
	OutcomeNotPresentOther
)

func (o OutcomeKind) Present() bool {
	return o == OutcomePresent || o == OutcomePresentWithException
}

// Identification carries the optional fields FC43 Read Device
// Identification may populate.
type Identification struct {
	Present       bool
	SupportsFC43  bool
	ExceptionCode int
	VendorName    string
	ProductCode   string
	Revision      string
}

// ProbeOutcome is the result of probing a single Candidate.
type ProbeOutcome struct {
	Kind           OutcomeKind
	ExceptionCode  int // valid only when Kind == OutcomePresentWithException
	ResponseTimeMs float64
	Identification Identification
}

// DiscoveredDevice is a Candidate whose probe resolved to a present-class
// outcome.
type DiscoveredDevice struct {
	Candidate transport.Candidate
	Outcome   ProbeOutcome
}

// now exists so tests can fake wall-clock measurement without a full clock
// abstraction; production code always uses time.Now.
var now = time.Now
