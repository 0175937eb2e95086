package battery

import "fmt"

// Policy names the debounce policy used by the shutdown engine. The two
// policies disagree on whether AC loss alone should count towards shutdown;
// both are kept as explicit, testable choices.
type Policy string

const (
	// PolicyAdditive counts every critical condition on a sample: AC loss
	// adds one, critical capacity adds one more, critical voltage one more.
	// AC restored resets the count and ends the window.
	PolicyAdditive Policy = "additive"

	// PolicyGated treats AC loss alone as informational. A sample only
	// counts as failing when the voltage reading is present and below the
	// critical threshold, and then adds exactly one.
	PolicyGated Policy = "gated"
)

// ShutdownConfig parameterises the shutdown decision engine.
type ShutdownConfig struct {
	Policy           Policy
	Threshold        int // consecutive failure-carrying samples required
	CriticalVoltage  float32
	CriticalCapacity float32
}

// Decision is the engine's verdict for one sample.
type Decision struct {
	// Shutdown is set once the failure count has reached the threshold at
	// the end of a full window of samples. It is terminal for the caller.
	Shutdown bool
	// Reason is the human-readable cause, set only with Shutdown.
	Reason string
	// Healthy is set when this sample reset the failure count; the caller
	// should end the current sampling window early.
	Healthy bool
	// Conditions lists the critical conditions observed on this sample,
	// suitable for warning logs.
	Conditions []string
}

// ShutdownEngine accumulates consecutive critical samples and decides when
// the system must power down. The count resets on any healthy sample so a
// single transient reading can never trigger a shutdown.
type ShutdownEngine struct {
	cfg      ShutdownConfig
	samples  int
	failures int
}

func NewShutdownEngine(cfg ShutdownConfig) *ShutdownEngine {
	return &ShutdownEngine{cfg: cfg}
}

// Failures returns the running failure count.
func (e *ShutdownEngine) Failures() int {
	return e.failures
}

// Reset clears the engine at the start of a sampling window.
func (e *ShutdownEngine) Reset() {
	e.samples = 0
	e.failures = 0
}

// Evaluate feeds one sample to the engine. The shutdown trigger only fires
// once a full window of Threshold samples has passed without a healthy reset
// and the failure count has reached the threshold.
func (e *ShutdownEngine) Evaluate(s Sample) Decision {
	conditions := e.conditions(s)
	if len(conditions) == 0 {
		e.Reset()
		return Decision{Healthy: true}
	}

	e.samples++
	switch e.cfg.Policy {
	case PolicyAdditive:
		e.failures += len(conditions)
	default:
		e.failures++
	}

	if e.samples >= e.cfg.Threshold && e.failures >= e.cfg.Threshold {
		return Decision{
			Shutdown:   true,
			Reason:     e.reason(s),
			Conditions: conditions,
		}
	}
	return Decision{Conditions: conditions}
}

// conditions returns the critical conditions the active policy sees on the
// sample. An empty slice means the sample is healthy. Missing readings
// suppress their checks rather than counting as critical.
func (e *ShutdownEngine) conditions(s Sample) []string {
	var conditions []string
	switch e.cfg.Policy {
	case PolicyAdditive:
		if s.ACPresent {
			return nil
		}
		conditions = append(conditions, "AC power loss or UPS unplugged")
		if s.Capacity != nil && *s.Capacity < e.cfg.CriticalCapacity {
			conditions = append(conditions,
				fmt.Sprintf("critical battery level (%.1f%% < %.0f%%)", *s.Capacity, e.cfg.CriticalCapacity))
		}
		if s.Voltage != nil && *s.Voltage < e.cfg.CriticalVoltage {
			conditions = append(conditions,
				fmt.Sprintf("critical battery voltage (%.3fV < %.2fV)", *s.Voltage, e.cfg.CriticalVoltage))
		}
	default:
		if s.Voltage == nil || *s.Voltage >= e.cfg.CriticalVoltage {
			return nil
		}
		conditions = append(conditions,
			fmt.Sprintf("critical battery voltage (%.3fV < %.2fV)", *s.Voltage, e.cfg.CriticalVoltage))
		if !s.ACPresent {
			conditions = append(conditions, "AC power loss with critical battery voltage")
		}
	}
	return conditions
}

// reason picks the headline shutdown cause from the triggering sample,
// checking capacity, then voltage, then AC in that order.
func (e *ShutdownEngine) reason(s Sample) string {
	switch {
	case s.Capacity != nil && *s.Capacity < e.cfg.CriticalCapacity:
		return "critical battery level"
	case s.Voltage != nil && *s.Voltage < e.cfg.CriticalVoltage:
		return "critical battery voltage"
	case !s.ACPresent:
		return "AC power loss or UPS unplugged"
	default:
		return "persistent critical conditions"
	}
}
