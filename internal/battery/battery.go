// Package battery contains the charge-control and shutdown decision logic for
// the UPS HAT. It is pure state-machine code: no hardware access, no clock and
// no logging, so everything here can be tested without a Pi attached.
package battery

// Sample is one poll of the UPS sensors. Voltage and Capacity are nil when
// the corresponding fuel-gauge read failed; a missing reading suppresses the
// checks that depend on it, it is never treated as zero.
type Sample struct {
	ACPresent bool
	Voltage   *float32
	Capacity  *float32
}

// Status is the discrete battery band derived from voltage.
type Status string

const (
	StatusFull     Status = "Full"
	StatusHigh     Status = "High"
	StatusMedium   Status = "Medium"
	StatusLow      Status = "Low"
	StatusCritical Status = "Critical"
	StatusUnknown  Status = "Unknown"
)

// StatusFromVoltage maps a cell voltage to a status band. A nil voltage or a
// voltage above the li-ion ceiling maps to StatusUnknown.
func StatusFromVoltage(voltage *float32) Status {
	if voltage == nil {
		return StatusUnknown
	}
	v := *voltage
	switch {
	case v >= 3.87 && v <= 4.20:
		return StatusFull
	case v >= 3.70 && v < 3.87:
		return StatusHigh
	case v >= 3.55 && v < 3.70:
		return StatusMedium
	case v >= 3.40 && v < 3.55:
		return StatusLow
	case v < 3.40:
		return StatusCritical
	default:
		return StatusUnknown
	}
}
