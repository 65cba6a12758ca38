// Package discovery implements the Modbus discovery scanner: parameter
// enumeration, connection reuse, device probing, and early termination
// (spec.md §4.5, §4.6).
package discovery

import (
	"mqtt-modbus-gateway/internal/driver"
	"mqtt-modbus-gateway/internal/transport"
)

// Strategy selects the parameter generator's baud-rate set.
type Strategy string

const (
	StrategyQuick    Strategy = "quick"
	StrategyThorough Strategy = "thorough"
)

// quickBaudRates is the default baud set for the "quick" strategy when no
// driver supplies a narrower SupportedConfig (spec.md §4.5).
var quickBaudRates = []int{9600, 19200}

// GeneratorOptions configures the parameter generator.
type GeneratorOptions struct {
	Strategy Strategy
	// Driver, if non-nil, narrows the sweep to its SupportedConfig.
	Driver *driver.SupportedConfig
}

// Generator emits the ordered sequence of Candidates for a scan. Emission
// order is a contract the scanner relies on for connection reuse: the outer
// loop iterates LinkParams combinations (baud × parity × data bits × stop
// bits, in that field order), the inner loop iterates SlaveID ascending.
type Generator struct {
	opts GeneratorOptions
}

// NewGenerator returns a Generator for the given options.
func NewGenerator(opts GeneratorOptions) *Generator {
	return &Generator{opts: opts}
}

// Generate returns the full, ordered Candidate sequence.
func (g *Generator) Generate() []transport.Candidate {
	baudRates, parities, dataBits, stopBits, slaveMin, slaveMax := g.ranges()

	total := len(baudRates) * len(parities) * len(dataBits) * len(stopBits) * int(slaveMax-slaveMin+1)
	if total < 0 {
		total = 0
	}
	candidates := make([]transport.Candidate, 0, total)

	for _, baud := range baudRates {
		for _, parity := range parities {
			for _, db := range dataBits {
				for _, sb := range stopBits {
					link := transport.LinkParams{BaudRate: baud, Parity: parity, DataBits: db, StopBits: sb}
					for slave := slaveMin; slave <= slaveMax; slave++ {
						candidates = append(candidates, transport.Candidate{Link: link, Slave: slave})
					}
				}
			}
		}
	}

	return candidates
}

// Total returns the candidate count without materializing the sequence.
func (g *Generator) Total() int {
	baudRates, parities, dataBits, stopBits, slaveMin, slaveMax := g.ranges()
	total := len(baudRates) * len(parities) * len(dataBits) * len(stopBits) * int(slaveMax-slaveMin+1)
	if total < 0 {
		return 0
	}
	return total
}

func (g *Generator) ranges() (baudRates []int, parities []transport.Parity, dataBits, stopBits []int, slaveMin, slaveMax transport.SlaveID) {
	slaveMin, slaveMax = 1, 247

	if g.opts.Driver != nil && len(g.opts.Driver.BaudRates) > 0 {
		baudRates = g.opts.Driver.BaudRates
		parities = g.opts.Driver.Parities
		dataBits = g.opts.Driver.DataBits
		stopBits = g.opts.Driver.StopBits
		if g.opts.Driver.AddressRangeMin > 0 {
			slaveMin = g.opts.Driver.AddressRangeMin
		}
		if g.opts.Driver.AddressRangeMax > 0 {
			slaveMax = g.opts.Driver.AddressRangeMax
		}
		return
	}

	if g.opts.Strategy == StrategyThorough {
		baudRates = transport.BaudRates
	} else {
		baudRates = quickBaudRates
	}
	parities = transport.Parities
	dataBits = []int{8}
	stopBits = []int{1}
	return
}
