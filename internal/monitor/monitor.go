// Package monitor runs the UPS polling loop, wiring the sensor readings into
// the charge controller and shutdown engine and actuating their decisions
// through injected collaborators.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/x120x/ups-monitor/internal/battery"
)

// Gauge reads the fuel gauge. Errors are absorbed into absent readings.
type Gauge interface {
	Voltage() (float32, error)
	Capacity() (float32, error)
}

// PowerPins reads the power-loss-detect line and drives the charge-enable
// line.
type PowerPins interface {
	ACPresent() (bool, error)
	SetCharge(enabled bool) error
}

// Shutdowner issues the OS shutdown request. Fire and forget; it is not
// expected to return under normal operation.
type Shutdowner interface {
	Shutdown() error
}

// StatsSource supplies optional SoC telemetry for the per-sample status line.
type StatsSource interface {
	Snapshot() SystemStats
}

// SystemStats carries SoC telemetry. Nil fields were unavailable.
type SystemStats struct {
	CPUVolts   *float32
	CPUAmps    *float32
	CPUTemp    *float32
	InputVolts *float32
	PowerWatts *float32
	FanRPM     string
}

// Config holds the loop timing plus the state machine parameters.
type Config struct {
	PollInterval time.Duration
	Threshold    int // samples per shutdown-decision window
	Loop         bool

	Charge   battery.ChargeConfig
	Shutdown battery.ShutdownConfig
}

// Snapshot is the latest cycle's state, exposed for the D-Bus service.
type Snapshot struct {
	Voltage         *float32       `json:"voltage,omitempty"`
	Capacity        *float32       `json:"capacity,omitempty"`
	Status          battery.Status `json:"status"`
	ACPresent       bool           `json:"ac_present"`
	ChargingEnabled bool           `json:"charging_enabled"`
	Failures        int            `json:"failures"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// Monitor owns the loop state. It is driven by a single goroutine; only
// Snapshot may be called from elsewhere.
type Monitor struct {
	cfg        Config
	gauge      Gauge
	pins       PowerPins
	shutdowner Shutdowner
	stats      StatsSource
	log        *logrus.Logger

	charger *battery.ChargeController
	engine  *battery.ShutdownEngine

	mu   sync.Mutex
	last Snapshot
}

// New builds a monitor. stats may be nil when no SoC telemetry is available.
func New(cfg Config, gauge Gauge, pins PowerPins, shutdowner Shutdowner, stats StatsSource, log *logrus.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		gauge:      gauge,
		pins:       pins,
		shutdowner: shutdowner,
		stats:      stats,
		log:        log,
		charger:    battery.NewChargeController(cfg.Charge),
		engine:     battery.NewShutdownEngine(cfg.Shutdown),
	}
}

// Snapshot returns the state recorded on the most recent sample.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run polls until the context is cancelled, a shutdown decision fires, or a
// single check completes with Loop disabled. The returned error is nil on a
// clean exit, including after a successful shutdown invocation.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		decision, err := m.runWindow(ctx)
		if err != nil {
			return err
		}
		if decision.Shutdown {
			return m.initiateShutdown(decision)
		}
		if !m.cfg.Loop {
			m.log.Info("Single check completed, exiting")
			return nil
		}
		if err := m.sleep(ctx); err != nil {
			return err
		}
	}
}

// runWindow runs one shutdown-decision window of up to Threshold samples.
// A healthy sample ends the window early with the failure count reset.
func (m *Monitor) runWindow(ctx context.Context) (battery.Decision, error) {
	m.engine.Reset()
	var decision battery.Decision
	for i := 0; i < m.cfg.Threshold; i++ {
		sample := m.poll()
		m.controlCharging(sample)
		m.logStatus(sample)

		decision = m.engine.Evaluate(sample)
		m.record(sample)

		for _, c := range decision.Conditions {
			m.log.Warnf("Critical condition detected: %s", c)
		}
		if decision.Healthy {
			if !sample.ACPresent {
				m.log.Info("AC power loss detected, but conditions are above critical thresholds - continuing operation")
			}
			return decision, nil
		}
		if decision.Shutdown {
			return decision, nil
		}
		if i < m.cfg.Threshold-1 {
			if err := m.sleep(ctx); err != nil {
				return decision, err
			}
		}
	}
	return decision, nil
}

// poll reads all sensors for one sample. A failed fuel-gauge read leaves the
// field nil; a failed AC read is reported but assumed present, so a flaky
// GPIO line can never count towards a shutdown.
func (m *Monitor) poll() battery.Sample {
	var s battery.Sample

	ac, err := m.pins.ACPresent()
	if err != nil {
		m.log.Warnf("Error reading AC power state: %v", err)
		s.ACPresent = true
	} else {
		s.ACPresent = ac
	}

	if v, err := m.gauge.Voltage(); err != nil {
		m.log.Warnf("Error reading voltage: %v", err)
	} else {
		s.Voltage = &v
	}

	if c, err := m.gauge.Capacity(); err != nil {
		m.log.Warnf("Error reading capacity: %v", err)
	} else {
		s.Capacity = &c
	}
	return s
}

// controlCharging feeds the voltage to the hysteresis controller and writes
// the charge line when the intent changes. A failed write is logged but the
// logical state stands; the next transition will retry the hardware.
func (m *Monitor) controlCharging(s battery.Sample) {
	if s.Voltage == nil {
		m.log.Warn("Cannot control charging - voltage reading failed")
		return
	}
	enabled, changed := m.charger.Update(s.Voltage)
	if !changed {
		return
	}
	if enabled {
		m.log.Infof("CHARGING RESUMED - Voltage %.3fV <= %.3fV",
			*s.Voltage, m.cfg.Charge.ResumeVoltage-m.cfg.Charge.Hysteresis)
	} else {
		m.log.Infof("CHARGING STOPPED - Voltage %.3fV >= %.2fV", *s.Voltage, m.cfg.Charge.MaxVoltage)
	}
	if err := m.pins.SetCharge(enabled); err != nil {
		m.log.Errorf("Error setting charge line: %v", err)
	}
}

// logStatus writes the per-sample status line and the on-battery capacity
// warnings.
func (m *Monitor) logStatus(s battery.Sample) {
	status := battery.StatusFromVoltage(s.Voltage)
	charge := "disabled"
	if m.charger.Enabled() {
		charge = "enabled"
	}
	power := "Power Loss OR Power Adapter Failure"
	if s.ACPresent {
		power = "AC Power: OK"
	}
	m.log.Infof("UPS Voltage: %s, Battery: %s (%s), Charging: %s, %s",
		fmtValue(s.Voltage, "V"), fmtValue(s.Capacity, "%"), status, charge, power)

	if m.stats != nil {
		st := m.stats.Snapshot()
		m.log.Infof("Input Voltage: %s, CPU Volts: %s, CPU Amps: %s, System Watts: %s, CPU Temp: %s, Fan: %s",
			fmtValue(st.InputVolts, "V"), fmtValue(st.CPUVolts, "V"), fmtValue(st.CPUAmps, "A"),
			fmtValue(st.PowerWatts, "W"), fmtValue(st.CPUTemp, "C"), st.FanRPM)
	}

	if s.ACPresent || s.Capacity == nil {
		return
	}
	c := *s.Capacity
	switch {
	case c >= 51:
		m.log.Warnf("Running on UPS backup power - Batteries @ %.2f%% - Voltage @ %s", c, fmtValue(s.Voltage, "V"))
	case c >= 25 && c <= 50:
		m.log.Warnf("UPS power levels approaching critical - Batteries @ %.2f%% - Voltage @ %s", c, fmtValue(s.Voltage, "V"))
	case c >= 16 && c <= 24:
		m.log.Warnf("UPS power levels critical - Batteries @ %.2f%% - Voltage @ %s", c, fmtValue(s.Voltage, "V"))
	case c <= 15:
		// logrus has no critical level; error is the highest that does not
		// terminate the process.
		m.log.Errorf("UPS power failure imminent - Batteries @ %.2f%%", c)
	}
}

// initiateShutdown disables charging best-effort, then invokes the OS
// shutdown exactly once. A failed invocation is the one actuator error that
// matters, so it is returned to the caller.
func (m *Monitor) initiateShutdown(decision battery.Decision) error {
	m.log.Errorf("Critical conditions met due to: %s. Initiating shutdown.",
		strings.Join(decision.Conditions, ", "))

	if err := m.pins.SetCharge(false); err != nil {
		m.log.Errorf("Error disabling charging before shutdown: %v", err)
	} else {
		m.log.Info("Charging disabled before shutdown")
	}

	if err := m.shutdowner.Shutdown(); err != nil {
		m.log.Errorf("SHUTDOWN INVOCATION FAILED (%s): %v", decision.Reason, err)
		return err
	}
	return nil
}

// record publishes the sample for Snapshot readers.
func (m *Monitor) record(s battery.Sample) {
	m.mu.Lock()
	m.last = Snapshot{
		Voltage:         s.Voltage,
		Capacity:        s.Capacity,
		Status:          battery.StatusFromVoltage(s.Voltage),
		ACPresent:       s.ACPresent,
		ChargingEnabled: m.charger.Enabled(),
		Failures:        m.engine.Failures(),
		LastUpdated:     time.Now(),
	}
	m.mu.Unlock()
}

// sleep waits one poll interval, aborting as soon as the context is
// cancelled.
func (m *Monitor) sleep(ctx context.Context) error {
	t := time.NewTimer(m.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fmtValue(v *float32, unit string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.3f %s", *v, unit)
}
