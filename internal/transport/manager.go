package transport

import "fmt"

// ConnectionKind discriminates the two link shapes a ConnectionSpec can
// describe (spec.md §3's DeviceConfig.ConnectionSpec, left unspecified by
// the distilled spec — resolved here, see SPEC_FULL.md "Open Questions").
type ConnectionKind string

const (
	ConnectionRTU ConnectionKind = "rtu"
	ConnectionTCP ConnectionKind = "tcp"
)

// ConnectionSpec describes how to reach a single device: either a serial
// port bound to LinkParams and a slave id, or a TCP host:port and unit id.
type ConnectionSpec struct {
	Kind ConnectionKind

	// RTU fields.
	Port  string
	Link  LinkParams
	Slave SlaveID

	// TCP fields.
	Address string
	UnitID  SlaveID
}

// Manager constructs Transport instances from a ConnectionSpec. The device
// registry uses it when instantiating a DeviceRecord (spec.md §4.8); the
// discovery scanner constructs RTU transports directly since it iterates
// LinkParams groups itself (spec.md §4.6).
type Manager struct{}

// NewManager returns a transport Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Open builds and opens a Transport for the given spec.
func (m *Manager) Open(spec ConnectionSpec) (Transport, error) {
	var t Transport
	switch spec.Kind {
	case ConnectionRTU:
		t = NewRTU(spec.Port, spec.Link, spec.Slave)
	case ConnectionTCP:
		t = NewTCP(spec.Address, spec.UnitID)
	default:
		return nil, fmt.Errorf("transport: unknown connection kind %q", spec.Kind)
	}
	if err := t.Open(); err != nil {
		return nil, err
	}
	return t, nil
}
