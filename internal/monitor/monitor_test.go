package monitor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x120x/ups-monitor/internal/battery"
)

type seq struct {
	vals  []float32
	calls int
	err   error
}

func (s *seq) next() (float32, error) {
	if s.err != nil {
		return 0, s.err
	}
	i := s.calls
	if i >= len(s.vals) {
		i = len(s.vals) - 1
	}
	s.calls++
	return s.vals[i], nil
}

type fakeGauge struct {
	v seq
	c seq
}

func (g *fakeGauge) Voltage() (float32, error)  { return g.v.next() }
func (g *fakeGauge) Capacity() (float32, error) { return g.c.next() }

type fakePins struct {
	ac           bool
	acErr        error
	chargeWrites []bool
	chargeErr    error
}

func (p *fakePins) ACPresent() (bool, error) { return p.ac, p.acErr }

func (p *fakePins) SetCharge(enabled bool) error {
	p.chargeWrites = append(p.chargeWrites, enabled)
	return p.chargeErr
}

type fakeShutdowner struct {
	calls int
	err   error
}

func (s *fakeShutdowner) Shutdown() error {
	s.calls++
	return s.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(policy battery.Policy, loop bool) Config {
	return Config{
		PollInterval: time.Millisecond,
		Threshold:    3,
		Loop:         loop,
		Charge: battery.ChargeConfig{
			MaxVoltage:    4.10,
			ResumeVoltage: 3.89,
			Hysteresis:    0.05,
		},
		Shutdown: battery.ShutdownConfig{
			Policy:           policy,
			Threshold:        3,
			CriticalVoltage:  3.20,
			CriticalCapacity: 20,
		},
	}
}

func TestSingleCheckHealthyExit(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.9}}, c: seq{vals: []float32{80}}}
	pins := &fakePins{ac: true}
	sd := &fakeShutdowner{}
	m := New(testConfig(battery.PolicyAdditive, false), gauge, pins, sd, nil, quietLogger())

	err := m.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, sd.calls)
	// Healthy sample ends the window on the first poll.
	assert.Equal(t, 1, gauge.v.calls)
}

func TestShutdownAfterDebounce(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.0}}, c: seq{vals: []float32{10}}}
	pins := &fakePins{ac: false}
	sd := &fakeShutdowner{}
	m := New(testConfig(battery.PolicyAdditive, true), gauge, pins, sd, nil, quietLogger())

	err := m.Run(context.Background())
	assert.NoError(t, err)

	// Exactly one shutdown after three critical samples, with the charge
	// line deasserted first.
	assert.Equal(t, 1, sd.calls)
	assert.Equal(t, 3, gauge.v.calls)
	require.NotEmpty(t, pins.chargeWrites)
	assert.False(t, pins.chargeWrites[len(pins.chargeWrites)-1])
}

func TestGatedACLossAloneKeepsRunning(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.8}}, c: seq{vals: []float32{60}}}
	pins := &fakePins{ac: false}
	sd := &fakeShutdowner{}
	m := New(testConfig(battery.PolicyGated, false), gauge, pins, sd, nil, quietLogger())

	err := m.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, sd.calls)
}

func TestShutdownInvocationFailureSurfaces(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.0}}, c: seq{vals: []float32{10}}}
	pins := &fakePins{ac: false}
	sd := &fakeShutdowner{err: errors.New("exec failed")}
	m := New(testConfig(battery.PolicyAdditive, true), gauge, pins, sd, nil, quietLogger())

	err := m.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, sd.calls)
}

func TestInterruptAbortsSleep(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.9}}, c: seq{vals: []float32{80}}}
	pins := &fakePins{ac: true}
	sd := &fakeShutdowner{}
	cfg := testConfig(battery.PolicyAdditive, true)
	cfg.PollInterval = time.Minute
	m := New(cfg, gauge, pins, sd, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond) // let the loop reach its sleep
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 0, sd.calls)
}

func TestChargeWriteFailureKeepsIntent(t *testing.T) {
	// Voltage at max stops charging; the write fails but the logical state
	// stands, so the identical next sample does not retry the write.
	gauge := &fakeGauge{v: seq{vals: []float32{4.2}}, c: seq{vals: []float32{100}}}
	pins := &fakePins{ac: true, chargeErr: errors.New("gpio write failed")}
	sd := &fakeShutdowner{}
	cfg := testConfig(battery.PolicyAdditive, true)
	m := New(cfg, gauge, pins, sd, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond) // several outer cycles at 1ms interval
	cancel()
	<-done

	assert.Equal(t, []bool{false}, pins.chargeWrites)
	assert.False(t, m.Snapshot().ChargingEnabled)
}

func TestSensorFailuresAreAbsorbed(t *testing.T) {
	gauge := &fakeGauge{
		v: seq{err: errors.New("i2c read failed")},
		c: seq{err: errors.New("i2c read failed")},
	}
	pins := &fakePins{ac: false, acErr: errors.New("gpio read failed")}
	sd := &fakeShutdowner{}
	m := New(testConfig(battery.PolicyGated, false), gauge, pins, sd, nil, quietLogger())

	err := m.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, sd.calls)

	snap := m.Snapshot()
	assert.Nil(t, snap.Voltage)
	assert.Nil(t, snap.Capacity)
	assert.Equal(t, battery.StatusUnknown, snap.Status)
	// A failed AC read is assumed present so it cannot count as a failure.
	assert.True(t, snap.ACPresent)
}

func TestCapacityWarningBands(t *testing.T) {
	fptr := func(v float32) *float32 { return &v }
	log, hook := logrustest.NewNullLogger()
	m := New(testConfig(battery.PolicyGated, false), &fakeGauge{}, &fakePins{}, &fakeShutdowner{}, nil, log)

	batteryEntries := func() []*logrus.Entry {
		var entries []*logrus.Entry
		for _, e := range hook.AllEntries() {
			if strings.Contains(e.Message, "Batteries @") {
				entries = append(entries, e)
			}
		}
		return entries
	}

	onBattery := func(capacity float32) battery.Sample {
		return battery.Sample{ACPresent: false, Voltage: fptr(3.6), Capacity: fptr(capacity)}
	}

	m.logStatus(onBattery(80))
	require.Len(t, batteryEntries(), 1)
	assert.Contains(t, batteryEntries()[0].Message, "Running on UPS backup power")
	assert.Equal(t, logrus.WarnLevel, batteryEntries()[0].Level)

	hook.Reset()
	m.logStatus(onBattery(40))
	require.Len(t, batteryEntries(), 1)
	assert.Contains(t, batteryEntries()[0].Message, "approaching critical")

	hook.Reset()
	m.logStatus(onBattery(20))
	require.Len(t, batteryEntries(), 1)
	assert.Contains(t, batteryEntries()[0].Message, "UPS power levels critical")

	hook.Reset()
	m.logStatus(onBattery(10))
	require.Len(t, batteryEntries(), 1)
	assert.Contains(t, batteryEntries()[0].Message, "failure imminent")
	assert.Equal(t, logrus.ErrorLevel, batteryEntries()[0].Level)

	// The original scripts warn nothing between the tiers.
	for _, c := range []float32{50.5, 24.5, 15.5} {
		hook.Reset()
		m.logStatus(onBattery(c))
		assert.Empty(t, batteryEntries(), "capacity %.1f", c)
	}

	// On AC there are no capacity warnings at any level.
	hook.Reset()
	m.logStatus(battery.Sample{ACPresent: true, Voltage: fptr(3.6), Capacity: fptr(10)})
	assert.Empty(t, batteryEntries())
}

func TestSnapshotReflectsLastSample(t *testing.T) {
	gauge := &fakeGauge{v: seq{vals: []float32{3.75}}, c: seq{vals: []float32{64}}}
	pins := &fakePins{ac: true}
	sd := &fakeShutdowner{}
	m := New(testConfig(battery.PolicyGated, false), gauge, pins, sd, nil, quietLogger())

	require.NoError(t, m.Run(context.Background()))

	snap := m.Snapshot()
	require.NotNil(t, snap.Voltage)
	require.NotNil(t, snap.Capacity)
	assert.InDelta(t, 3.75, float64(*snap.Voltage), 0.001)
	assert.InDelta(t, 64, float64(*snap.Capacity), 0.001)
	assert.Equal(t, battery.StatusHigh, snap.Status)
	assert.True(t, snap.ACPresent)
	assert.True(t, snap.ChargingEnabled)
	assert.False(t, snap.LastUpdated.IsZero())
}
