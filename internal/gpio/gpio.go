// Package gpio owns the two UPS HAT GPIO lines: the power-loss-detect input
// and the charge-enable output. Lines are requested through the Linux GPIO
// character device and must be released with Close on every exit path.
package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Config selects the chip, the pins (BCM numbering) and the charge-enable
// polarity. The X120x manual specifies low = charging enabled, but at least
// one board revision inverts this, so the polarity is explicit rather than
// baked in.
type Config struct {
	Chip            string // e.g. "gpiochip0"
	PLDPin          int    // power-loss detect input, high = AC present
	ChargePin       int    // charge-enable output
	ChargeActiveLow bool   // true: drive low to enable charging
}

// line is the subset of gpiocdev.Line the monitor needs. Narrowing it keeps
// the release accounting testable without a character device.
type line interface {
	Value() (int, error)
	SetValue(value int) error
	Close() error
}

// Pins holds the requested GPIO lines.
type Pins struct {
	chip      interface{ Close() error }
	pld       line
	charge    line
	activeLow bool
}

// Open requests both lines, driving the charge line to its enabled state to
// match the controller's initial state. On any failure every already
// requested resource is released before returning.
func Open(cfg Config) (*Pins, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer("ups-monitor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}

	pld, err := chip.RequestLine(cfg.PLDPin, gpiocdev.AsInput)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request PLD pin %d: %w", cfg.PLDPin, err)
	}

	p := &Pins{chip: chip, pld: pld, activeLow: cfg.ChargeActiveLow}
	charge, err := chip.RequestLine(cfg.ChargePin, gpiocdev.AsOutput(p.chargeValue(true)))
	if err != nil {
		pld.Close()
		chip.Close()
		return nil, fmt.Errorf("request charge pin %d: %w", cfg.ChargePin, err)
	}
	p.charge = charge
	return p, nil
}

// ACPresent reads the power-loss-detect line. High means external power is
// supplying the UPS.
func (p *Pins) ACPresent() (bool, error) {
	v, err := p.pld.Value()
	if err != nil {
		return false, fmt.Errorf("read PLD pin: %w", err)
	}
	return v == 1, nil
}

// SetCharge drives the charge-enable line.
func (p *Pins) SetCharge(enabled bool) error {
	if err := p.charge.SetValue(p.chargeValue(enabled)); err != nil {
		return fmt.Errorf("write charge pin: %w", err)
	}
	return nil
}

func (p *Pins) chargeValue(enabled bool) int {
	if enabled == p.activeLow {
		return 0
	}
	return 1
}

// Close releases both lines and the chip, once each. Safe to call after a
// partially failed Open is not required; Open cleans up after itself.
func (p *Pins) Close() error {
	var errs []error
	if p.charge != nil {
		if err := p.charge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close charge pin: %w", err))
		}
		p.charge = nil
	}
	if p.pld != nil {
		if err := p.pld.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PLD pin: %w", err))
		}
		p.pld = nil
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		p.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
