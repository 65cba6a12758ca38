package discovery

import (
	"time"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

// AttemptState is the value passed to OnTestAttempt.
type AttemptState string

const (
	AttemptTesting  AttemptState = "testing"
	AttemptFound    AttemptState = "found"
	AttemptNotFound AttemptState = "not-found"
)

// ScanOptions configures a single scan run (spec.md §4.6).
type ScanOptions struct {
	Port       string
	TimeoutMs  int
	DelayMs    int
	MaxDevices int // 0 = unlimited
	Verbose    bool
	Driver     driver.Driver // optional, used by the identifier's step 1

	OnProgress    func(current, total, found int)
	OnDeviceFound func(DiscoveredDevice)
	OnTestAttempt func(transport.Candidate, AttemptState)
}

// Opener constructs and opens a Transport bound to the given port and link
// parameters. Production code supplies one backed by transport.NewRTU; tests
// supply a fake.
type Opener func(port string, link transport.LinkParams) (transport.Transport, error)

// Scanner drives a discovery scan (spec.md §4.6).
type Scanner struct {
	Generator *Generator
	Open      Opener
	logger    *zap.Logger
}

// NewScanner returns a Scanner. A nil logger is replaced with a no-op logger.
func NewScanner(gen *Generator, open Opener, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{Generator: gen, Open: open, logger: logger}
}

// Scan runs the full algorithm and returns the ordered list of discovered
// devices.
func (s *Scanner) Scan(opts ScanOptions) []DiscoveredDevice {
	candidates := s.Generator.Generate()
	total := len(candidates)

	var found []DiscoveredDevice
	position := 0

	for _, group := range groupByLinkParams(candidates) {
		if s.runGroup(group, opts, total, &position, &found) {
			break
		}
	}

	return found
}

// runGroup processes one contiguous LinkParams group. It returns true if the
// scan should stop (maxDevices reached).
func (s *Scanner) runGroup(group []transport.Candidate, opts ScanOptions, total int, position *int, found *[]DiscoveredDevice) (stop bool) {
	link := group[0].Link

	t, err := s.Open(opts.Port, link)
	if err != nil {
		if opts.Verbose {
			s.logger.Warn("failed to acquire transport for group",
				zap.String("port", opts.Port), zap.Int("baud", link.BaudRate), zap.Error(err))
		}
		*position += len(group)
		if opts.OnProgress != nil {
			opts.OnProgress(*position, total, len(*found))
		}
		return false
	}
	defer t.Close()

	id := &Identifier{Transport: t, Driver: opts.Driver, Timeout: time.Duration(opts.TimeoutMs) * time.Millisecond}

	for _, cand := range group {
		t.SetSlaveID(cand.Slave)

		if opts.OnTestAttempt != nil {
			opts.OnTestAttempt(cand, AttemptTesting)
		}

		start := now()
		outcome := id.Identify()
		elapsed := now().Sub(start)

		*position++

		if outcome.Kind.Present() {
			dev := DiscoveredDevice{Candidate: cand, Outcome: outcome}
			*found = append(*found, dev)
			if opts.OnDeviceFound != nil {
				opts.OnDeviceFound(dev)
			}
			if opts.OnTestAttempt != nil {
				opts.OnTestAttempt(cand, AttemptFound)
			}
		} else if opts.OnTestAttempt != nil {
			opts.OnTestAttempt(cand, AttemptNotFound)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(*position, total, len(*found))
		}

		if opts.MaxDevices > 0 && len(*found) >= opts.MaxDevices {
			return true
		}

		delay := time.Duration(opts.DelayMs)*time.Millisecond - elapsed
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	return false
}

// groupByLinkParams partitions an ordered Candidate sequence into
// contiguous runs sharing the same LinkParams, preserving order.
func groupByLinkParams(candidates []transport.Candidate) [][]transport.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	var groups [][]transport.Candidate
	start := 0
	for i := 1; i <= len(candidates); i++ {
		if i == len(candidates) || !candidates[i].Link.Equal(candidates[start].Link) {
			groups = append(groups, candidates[start:i])
			start = i
		}
	}
	return groups
}
