// Package scheduler implements the per-device polling scheduler: one
// logical timer per device, re-armed only after the previous tick
// completes, with back-off after consecutive failures (spec.md §4.9).
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mqtt-modbus-gateway/internal/driver"
)

// PollingSpec mirrors devices.PollingSpec; duplicated here (rather than
// imported) to keep the scheduler free of a dependency on the registry
// package — it only needs the three timing knobs.
type PollingSpec struct {
	IntervalMs     int
	MaxRetries     int
	RetryBackoffMs int
}

// OnDataFunc is invoked after a successful poll tick.
type OnDataFunc func(deviceID string, data map[string]interface{})

// OnErrorFunc is invoked after a failed poll tick.
type OnErrorFunc func(deviceID string, err error)

// PollError wraps a driver read failure with the device id that produced
// it (spec.md §4.9 "non-Error exceptions are wrapped").
type PollError struct {
	DeviceID string
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll failed for device %q: %v", e.DeviceID, e.Err)
}
func (e *PollError) Unwrap() error { return e.Err }

type deviceEntry struct {
	spec                PollingSpec
	driver              driver.Driver
	readableIDs         []string
	consecutiveFailures int
	timer               *time.Timer
}

// Scheduler drives periodic polling of a set of devices (spec.md §4.9).
// Single-threaded cooperative model: at most one poll tick per device is
// ever in flight, enforced by re-arming the next timer only after the
// current tick's driver call returns.
type Scheduler struct {
	logger  *zap.Logger
	onData  OnDataFunc
	onError OnErrorFunc

	mu      sync.Mutex
	running bool
	devices map[string]*deviceEntry
}

// NewScheduler returns a Scheduler. A nil logger is replaced with a no-op
// logger.
func NewScheduler(logger *zap.Logger, onData OnDataFunc, onError OnErrorFunc) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger,
		onData:  onData,
		onError: onError,
		devices: make(map[string]*deviceEntry),
	}
}

func readablePoints(d driver.Driver) []string {
	var ids []string
	for _, dp := range d.DataPoints() {
		if dp.Access.Readable() {
			ids = append(ids, dp.ID)
		}
	}
	return ids
}

// ScheduleDevice registers a device for polling (idle → armed). If the
// scheduler is already running, the device is armed immediately with
// delay = IntervalMs.
func (s *Scheduler) ScheduleDevice(deviceID string, spec PollingSpec, d driver.Driver) {
	s.mu.Lock()
	if old, ok := s.devices[deviceID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.devices[deviceID] = &deviceEntry{spec: spec, driver: d, readableIDs: readablePoints(d)}
	running := s.running
	s.mu.Unlock()

	if running {
		s.arm(deviceID, spec.IntervalMs)
	}
}

// UnscheduleDevice cancels a device's timer and removes it from the
// scheduler (armed → idle).
func (s *Scheduler) UnscheduleDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.devices[deviceID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.devices, deviceID)
	}
}

// IsScheduled reports whether deviceID is currently registered.
func (s *Scheduler) IsScheduled(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[deviceID]
	return ok
}

// Start arms all known devices with delay = IntervalMs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	ids := make([]string, 0, len(s.devices))
	intervals := make(map[string]int, len(s.devices))
	for id, e := range s.devices {
		ids = append(ids, id)
		intervals[id] = e.spec.IntervalMs
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.arm(id, intervals[id])
	}
}

// Stop cancels every device's timer and unschedules every device (armed ->
// idle, spec.md §4.9 "armed → idle: unscheduleDevice or scheduler.stop"), so
// a subsequent Start arms nothing left over from before this Stop.
// Already-suspended ticks observe !running on resumption and do not arm a
// further timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	for _, e := range s.devices {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.devices = make(map[string]*deviceEntry)
}

// arm schedules the next tick for deviceID after delayMs, unless the
// scheduler has stopped or the device has been unscheduled in the
// meantime.
func (s *Scheduler) arm(deviceID string, delayMs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.devices[deviceID]
	if !ok || !s.running {
		return
	}
	e.timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		s.tick(deviceID)
	})
}

// tick runs one poll for deviceID: batch-read the readable data points,
// deliver onData/onError, and re-arm. It re-checks running/scheduled
// membership both before and after the (suspending) driver call to avoid
// zombie polls racing a stop() or UnscheduleDevice().
func (s *Scheduler) tick(deviceID string) {
	s.mu.Lock()
	e, ok := s.devices[deviceID]
	if !ok || !s.running {
		s.mu.Unlock()
		return
	}
	d := e.driver
	ids := e.readableIDs
	spec := e.spec
	s.mu.Unlock()

	data, err := d.ReadDataPoints(ids)

	s.mu.Lock()
	e, ok = s.devices[deviceID]
	if !ok || !s.running {
		s.mu.Unlock()
		return
	}

	if err != nil {
		e.consecutiveFailures++
		failures := e.consecutiveFailures
		s.mu.Unlock()

		s.onError(deviceID, &PollError{DeviceID: deviceID, Err: err})

		delay := spec.IntervalMs
		if failures >= spec.MaxRetries {
			delay = spec.RetryBackoffMs
		}
		s.arm(deviceID, delay)
		return
	}

	e.consecutiveFailures = 0
	s.mu.Unlock()

	s.onData(deviceID, data)
	s.arm(deviceID, spec.IntervalMs)
}
