package battery

// ChargeConfig holds the hysteresis thresholds for charge control. The resume
// threshold is lowered by Hysteresis so the controller does not chatter right
// at the boundary.
type ChargeConfig struct {
	MaxVoltage    float32 // stop charging at or above this voltage
	ResumeVoltage float32 // resume charging at or below this voltage
	Hysteresis    float32
}

// ChargeController is a two-state hysteresis machine deciding whether the
// charge-enable line should be asserted. It tracks intended state only;
// writing the physical line is the caller's job and a failed write must not
// be fed back into the controller.
type ChargeController struct {
	cfg     ChargeConfig
	enabled bool
}

// NewChargeController returns a controller with charging enabled, matching
// the hardware power-on default of the X120x boards.
func NewChargeController(cfg ChargeConfig) *ChargeController {
	return &ChargeController{cfg: cfg, enabled: true}
}

// Enabled reports the intended state of the charge-enable line.
func (c *ChargeController) Enabled() bool {
	return c.enabled
}

// Update feeds one voltage sample to the controller and returns the intended
// state plus whether it changed this sample. A nil voltage makes no
// transition. Voltages between the two thresholds leave the state untouched,
// so charging persists until MaxVoltage is reached and stays off until the
// battery has drained below the resume threshold.
func (c *ChargeController) Update(voltage *float32) (enabled, changed bool) {
	if voltage == nil {
		return c.enabled, false
	}
	v := *voltage
	switch {
	case c.enabled && v >= c.cfg.MaxVoltage:
		c.enabled = false
		return c.enabled, true
	case !c.enabled && v <= c.cfg.ResumeVoltage-c.cfg.Hysteresis:
		c.enabled = true
		return c.enabled, true
	default:
		return c.enabled, false
	}
}
