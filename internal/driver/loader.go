package driver

import (
	"sync"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/transport"
)

// Factory constructs a Driver bound to the given Transport. Defaults, when
// non-nil, are cross-validated against SupportedConfig by the loader.
type Factory struct {
	// Name is the conventional package name used to reference this driver,
	// e.g. "demometer".
	Name string
	New  func(t transport.Transport) Driver

	// Defaults are the link parameters a driver author expects the device
	// to answer on, if known. Optional.
	Defaults *SupportedConfig
	// Supported is the full set of link parameters the driver is known to
	// honour (GLOSSARY "Supported configuration"). Optional.
	Supported *SupportedConfig

	// Probe, if set, is an auto-detect hint: a cheap signature check that
	// AutoDetect runs against an open Transport. Factories without a Probe
	// are never selected by AutoDetect; there is no name-matching fallback.
	Probe func(t transport.Transport) bool
}

// registry is the static, compile-time replacement for dynamic driver
// module loading (Design Note §9): a map from package name to Factory that
// driver packages register themselves into via init().
var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register adds a Factory to the static registry. Driver packages call this
// from an init() function.
func Register(f Factory) {
	registry.Lock()
	defer registry.Unlock()
	registry.factories[f.Name] = f
}

// Loader resolves driver factories by name (or auto-detect), validates
// them, and caches resolutions. Cross-validation of declared defaults
// against supported ranges is emitted as warnings via the injected logger,
// never as errors (spec.md §4.3).
type Loader struct {
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]Factory

	hits, misses int
}

// NewLoader returns a Loader. A nil logger is replaced with a no-op logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, cache: make(map[string]Factory)}
}

// Resolve looks up a driver by explicit package name.
func (l *Loader) Resolve(name string) (Factory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.cache[name]; ok {
		l.hits++
		return f, nil
	}

	registry.RLock()
	f, ok := registry.factories[name]
	registry.RUnlock()
	if !ok {
		l.misses++
		return Factory{}, &Error{Kind: ErrorNotFound, Name: name}
	}
	if f.New == nil {
		l.misses++
		return Factory{}, &Error{Kind: ErrorManifest, Name: name, Msg: "factory exports no constructor"}
	}

	l.validateDefaults(f)

	l.cache[name] = f
	l.misses++
	return f, nil
}

// AutoDetect tries each registered factory's Probe hint against an open
// Transport before giving up (Design Note §9 "trying multiple conventional
// paths when auto-detecting").
func (l *Loader) AutoDetect(t transport.Transport) (Factory, error) {
	registry.RLock()
	candidates := make([]Factory, 0, len(registry.factories))
	for _, f := range registry.factories {
		candidates = append(candidates, f)
	}
	registry.RUnlock()

	for _, f := range candidates {
		if f.Probe == nil {
			continue
		}
		if f.Probe(t) {
			return l.Resolve(f.Name)
		}
	}
	return Factory{}, &Error{Kind: ErrorNotFound, Name: "<auto-detect>", Msg: "no registered driver matched"}
}

// Stats reports cache hit/miss/size counters (spec.md §4.3).
func (l *Loader) Stats() (hits, misses, size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hits, l.misses, len(l.cache)
}

// validateDefaults cross-checks a driver's declared defaults against its
// supported ranges, logging a warning (never an error) for any mismatch.
func (l *Loader) validateDefaults(f Factory) {
	if f.Defaults == nil || f.Supported == nil {
		return
	}

	for _, b := range f.Defaults.BaudRates {
		if !containsInt(f.Supported.BaudRates, b) {
			l.logger.Warn("driver default baud rate outside supported set",
				zap.String("driver", f.Name), zap.Int("default", b))
		}
	}
	for _, p := range f.Defaults.Parities {
		if !containsParity(f.Supported.Parities, p) {
			l.logger.Warn("driver default parity outside supported set",
				zap.String("driver", f.Name), zap.String("default", string(p)))
		}
	}
	for _, d := range f.Defaults.DataBits {
		if !containsInt(f.Supported.DataBits, d) {
			l.logger.Warn("driver default data bits outside supported set",
				zap.String("driver", f.Name), zap.Int("default", d))
		}
	}
	for _, s := range f.Defaults.StopBits {
		if !containsInt(f.Supported.StopBits, s) {
			l.logger.Warn("driver default stop bits outside supported set",
				zap.String("driver", f.Name), zap.Int("default", s))
		}
	}
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func containsParity(set []transport.Parity, v transport.Parity) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
