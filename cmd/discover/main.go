// Command discover scans a serial bus to find which Modbus slave addresses
// and link parameters yield a responsive device (spec.md §6.3 "discover"
// subcommand). It constructs no MQTT client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/discovery"
	"mqtt-modbus-gateway/internal/driver"
	_ "mqtt-modbus-gateway/internal/drivers/demometer"
	"mqtt-modbus-gateway/internal/transport"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  discover discover [flags]

Flags for 'discover':
  --port <path>          serial port path, e.g. /dev/ttyUSB0 (required)
  --driver <name>         narrow the parameter sweep to a registered driver's supported configuration
  --strategy <name>       sweep strategy: quick or thorough (default quick)
  --timeout <ms>          per-request timeout in milliseconds (default 1000)
  --delay <ms>            inter-attempt delay in milliseconds (default 100)
  --max-devices <n>       stop after finding this many devices, 0 = unlimited (default 1)
  --verbose               print per-attempt state as the scan runs
  --silent                suppress all output except the final result
  --format <table|json>  output format (default table)
`)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "discover: missing command (expected 'discover')")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd != "discover" {
		fmt.Fprintf(os.Stderr, "discover: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	discoverFlags := flag.NewFlagSet("discover", flag.ExitOnError)
	discoverFlags.Usage = usage

	var (
		port       = discoverFlags.String("port", "", "serial port path, e.g. /dev/ttyUSB0 (required)")
		driverName = discoverFlags.String("driver", "", "narrow the parameter sweep to a registered driver's supported configuration")
		strategy   = discoverFlags.String("strategy", string(discovery.StrategyQuick), "sweep strategy: quick or thorough")
		timeoutMs  = discoverFlags.Int("timeout", 1000, "per-request timeout in milliseconds")
		delayMs    = discoverFlags.Int("delay", 100, "inter-attempt delay in milliseconds")
		maxDevices = discoverFlags.Int("max-devices", 1, "stop after finding this many devices (0 = unlimited)")
		verbose    = discoverFlags.Bool("verbose", false, "print per-attempt state as the scan runs")
		silent     = discoverFlags.Bool("silent", false, "suppress all output except the final result")
		format     = discoverFlags.String("format", "table", "output format: table or json")
	)
	discoverFlags.Parse(os.Args[2:])

	if *port == "" {
		fmt.Fprintln(os.Stderr, "discover: --port is required")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose && !*silent {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	genOpts := discovery.GeneratorOptions{Strategy: discovery.Strategy(*strategy)}
	if *driverName != "" {
		loader := driver.NewLoader(logger)
		f, err := loader.Resolve(*driverName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discover: %v\n", err)
			os.Exit(1)
		}
		if f.Supported != nil {
			genOpts.Driver = f.Supported
		}
	}
	gen := discovery.NewGenerator(genOpts)

	opener := func(port string, link transport.LinkParams) (transport.Transport, error) {
		t := transport.NewRTU(port, link, 1)
		if err := t.Open(); err != nil {
			return nil, err
		}
		return t, nil
	}

	scanner := discovery.NewScanner(gen, opener, logger)

	opts := discovery.ScanOptions{
		Port:       *port,
		TimeoutMs:  *timeoutMs,
		DelayMs:    *delayMs,
		MaxDevices: *maxDevices,
		Verbose:    *verbose,
	}
	if *verbose && !*silent {
		opts.OnTestAttempt = func(c transport.Candidate, state discovery.AttemptState) {
			fmt.Fprintf(os.Stderr, "testing %s slave %d: %s\n", c.Link, c.Slave, state)
		}
	}

	results := scanner.Scan(opts)

	switch *format {
	case "json":
		printJSON(results)
	default:
		printTable(results)
	}

	if len(results) == 0 {
		os.Exit(1)
	}
}

type deviceRow struct {
	BaudRate    int     `json:"baudRate"`
	Parity      string  `json:"parity"`
	DataBits    int     `json:"dataBits"`
	StopBits    int     `json:"stopBits"`
	Slave       int     `json:"slave"`
	Present     bool    `json:"present"`
	Exception   int     `json:"exceptionCode,omitempty"`
	ResponseMs  float64 `json:"responseTimeMs"`
	VendorName  string  `json:"vendorName,omitempty"`
	ProductCode string  `json:"productCode,omitempty"`
}

func toRows(results []discovery.DiscoveredDevice) []deviceRow {
	rows := make([]deviceRow, 0, len(results))
	for _, d := range results {
		rows = append(rows, deviceRow{
			BaudRate:    d.Candidate.Link.BaudRate,
			Parity:      string(d.Candidate.Link.Parity),
			DataBits:    d.Candidate.Link.DataBits,
			StopBits:    d.Candidate.Link.StopBits,
			Slave:       int(d.Candidate.Slave),
			Present:     d.Outcome.Kind.Present(),
			Exception:   d.Outcome.ExceptionCode,
			ResponseMs:  d.Outcome.ResponseTimeMs,
			VendorName:  d.Outcome.Identification.VendorName,
			ProductCode: d.Outcome.Identification.ProductCode,
		})
	}
	return rows
}

func printJSON(results []discovery.DiscoveredDevice) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(toRows(results))
}

func printTable(results []discovery.DiscoveredDevice) {
	if len(results) == 0 {
		fmt.Println("no devices found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLAVE\tBAUD\tPARITY\tDATA\tSTOP\tRESPONSE\tVENDOR")
	for _, row := range toRows(results) {
		vendor := row.VendorName
		if vendor == "" {
			vendor = "-"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%.1fms\t%s\n",
			row.Slave, row.BaudRate, row.Parity, row.DataBits, row.StopBits, row.ResponseMs, vendor)
	}
	w.Flush()
}
