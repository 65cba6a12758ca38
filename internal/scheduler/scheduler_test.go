package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-modbus-gateway/internal/driver"
)

type countingFailDriver struct {
	calls int32
}

func (d *countingFailDriver) Metadata() driver.Metadata { return driver.Metadata{Name: "counting"} }
func (d *countingFailDriver) DataPoints() []driver.DataPoint {
	return []driver.DataPoint{{ID: "v", Type: driver.TypeInteger, Access: driver.AccessRead}}
}
func (d *countingFailDriver) ReadDataPoint(id string) (interface{}, error)      { return nil, nil }
func (d *countingFailDriver) WriteDataPoint(id string, value interface{}) error { return nil }
func (d *countingFailDriver) ReadDataPoints(ids []string) (map[string]interface{}, error) {
	atomic.AddInt32(&d.calls, 1)
	return nil, errors.New("device unreachable")
}

func (d *countingFailDriver) Calls() int { return int(atomic.LoadInt32(&d.calls)) }

type succeedingDriver struct {
	mu       sync.Mutex
	calls    int
	failNext bool
}

func (d *succeedingDriver) Metadata() driver.Metadata { return driver.Metadata{Name: "succeeding"} }
func (d *succeedingDriver) DataPoints() []driver.DataPoint {
	return []driver.DataPoint{{ID: "v", Type: driver.TypeInteger, Access: driver.AccessRead}}
}
func (d *succeedingDriver) ReadDataPoint(id string) (interface{}, error)      { return nil, nil }
func (d *succeedingDriver) WriteDataPoint(id string, value interface{}) error { return nil }
func (d *succeedingDriver) ReadDataPoints(ids []string) (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failNext {
		d.failNext = false
		return nil, errors.New("transient")
	}
	return map[string]interface{}{"v": d.calls}, nil
}

// TestScheduler_BackoffTiming exercises spec.md §8 scenario 4, scaled down
// by 25x (1000ms/2000ms -> 40ms/80ms) to keep the test fast.
func TestScheduler_BackoffTiming(t *testing.T) {
	fd := &countingFailDriver{}
	var errCount int32

	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) {},
		func(deviceID string, err error) { atomic.AddInt32(&errCount, 1) },
	)

	spec := PollingSpec{IntervalMs: 40, MaxRetries: 3, RetryBackoffMs: 80}
	s.ScheduleDevice("dev-1", spec, fd)
	s.Start()
	defer s.Stop()

	time.Sleep(40*time.Millisecond + 15*time.Millisecond)
	assert.Equal(t, 1, fd.Calls())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, fd.Calls())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 3, fd.Calls())

	// backoff now in effect: no new call for another 40ms window
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 3, fd.Calls())

	// but it does land within the backoff window (80ms after the 3rd call)
	time.Sleep(40*time.Millisecond + 20*time.Millisecond)
	assert.Equal(t, 4, fd.Calls())
}

func TestScheduler_SuccessResetsFailureCount(t *testing.T) {
	d := &succeedingDriver{failNext: true}
	var dataCalls, errCalls int32

	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) { atomic.AddInt32(&dataCalls, 1) },
		func(deviceID string, err error) { atomic.AddInt32(&errCalls, 1) },
	)

	spec := PollingSpec{IntervalMs: 20, MaxRetries: 3, RetryBackoffMs: 200}
	s.ScheduleDevice("dev-1", spec, d)
	s.Start()
	defer s.Stop()

	time.Sleep(20*time.Millisecond + 10*time.Millisecond)
	assert.EqualValues(t, 1, errCalls)

	time.Sleep(20*time.Millisecond + 10*time.Millisecond)
	assert.EqualValues(t, 1, dataCalls)
}

func TestScheduler_UnscheduleStopsFurtherPolls(t *testing.T) {
	fd := &countingFailDriver{}
	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) {},
		func(deviceID string, err error) {},
	)

	spec := PollingSpec{IntervalMs: 20, MaxRetries: 3, RetryBackoffMs: 100}
	s.ScheduleDevice("dev-1", spec, fd)
	s.Start()

	time.Sleep(20*time.Millisecond + 10*time.Millisecond)
	require.GreaterOrEqual(t, fd.Calls(), 1)

	s.UnscheduleDevice("dev-1")
	assert.False(t, s.IsScheduled("dev-1"))

	callsAtUnschedule := fd.Calls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, callsAtUnschedule, fd.Calls(), "no poll should fire after unschedule")
}

func TestScheduler_StopPreventsRearm(t *testing.T) {
	fd := &countingFailDriver{}
	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) {},
		func(deviceID string, err error) {},
	)

	spec := PollingSpec{IntervalMs: 20, MaxRetries: 3, RetryBackoffMs: 100}
	s.ScheduleDevice("dev-1", spec, fd)
	s.Start()

	time.Sleep(20*time.Millisecond + 10*time.Millisecond)
	s.Stop()

	callsAtStop := fd.Calls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, callsAtStop, fd.Calls(), "no poll should fire after stop")
}

// TestScheduler_StopUnschedulesDevices exercises spec.md §4.9 "armed → idle:
// unscheduleDevice or scheduler.stop": Stop is itself an unschedule, not
// merely a pause, so a later Start doesn't re-arm devices left over from
// before the stop.
func TestScheduler_StopUnschedulesDevices(t *testing.T) {
	fd := &countingFailDriver{}
	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) {},
		func(deviceID string, err error) {},
	)

	spec := PollingSpec{IntervalMs: 20, MaxRetries: 3, RetryBackoffMs: 100}
	s.ScheduleDevice("dev-1", spec, fd)
	s.Start()
	require.True(t, s.IsScheduled("dev-1"))

	s.Stop()
	assert.False(t, s.IsScheduled("dev-1"))

	// A bare restart with nothing re-scheduled must arm nothing: no panic,
	// no call against the old driver reference.
	s.Start()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, fd.Calls())
}

func TestScheduler_ScheduleWhileRunningArmsImmediately(t *testing.T) {
	fd := &countingFailDriver{}
	s := NewScheduler(nil,
		func(deviceID string, data map[string]interface{}) {},
		func(deviceID string, err error) {},
	)
	s.Start()
	defer s.Stop()

	spec := PollingSpec{IntervalMs: 15, MaxRetries: 3, RetryBackoffMs: 100}
	s.ScheduleDevice("dev-late", spec, fd)

	assert.True(t, s.IsScheduled("dev-late"))
	time.Sleep(15*time.Millisecond + 10*time.Millisecond)
	assert.GreaterOrEqual(t, fd.Calls(), 1)
}
