// Package max17040 is a driver for the MAX17040/MAX17041 fuel gauge found on
// X120x series UPS HATs. The gauge sits on the I2C bus at address 0x36 and
// reports cell voltage and a ModelGauge state-of-charge estimate.
package max17040

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

const (
	// DefaultAddress is the fixed I2C address of the MAX17040.
	DefaultAddress = 0x36

	regVCell   = 0x02
	regSOC     = 0x04
	regMode    = 0x06
	regVersion = 0x08

	// Writing quickStartCmd to the MODE register restarts the ModelGauge
	// calculation, discarding readings taken during power-up transients.
	quickStartCmd = 0x4000

	// VCELL resolution is 1.25mV per LSB, value in the upper 12 bits.
	voltsPerLSB = 1.25 / 1000
)

// Dev is a handle to a MAX17040 on an I2C bus.
type Dev struct {
	dev *i2c.Dev
}

// New returns a handle to the fuel gauge on the given bus and verifies the
// chip responds by reading its version register.
func New(bus i2c.Bus) (*Dev, error) {
	d := &Dev{dev: &i2c.Dev{Bus: bus, Addr: DefaultAddress}}
	if _, err := d.Version(); err != nil {
		return nil, fmt.Errorf("max17040 not responding at 0x%02X: %w", DefaultAddress, err)
	}
	return d, nil
}

// Voltage returns the cell voltage in volts.
func (d *Dev) Voltage() (float32, error) {
	raw, err := d.readWord(regVCell)
	if err != nil {
		return 0, fmt.Errorf("reading VCELL: %w", err)
	}
	return float32(raw>>4) * voltsPerLSB, nil
}

// Capacity returns the state of charge as a percentage. The high byte is
// whole percent, the low byte 1/256ths.
func (d *Dev) Capacity() (float32, error) {
	raw, err := d.readWord(regSOC)
	if err != nil {
		return 0, fmt.Errorf("reading SOC: %w", err)
	}
	return float32(raw) / 256, nil
}

// QuickStart restarts the fuel-gauge calculation. Call once at startup; the
// chip needs a moment before the first reading afterwards is valid.
func (d *Dev) QuickStart() error {
	if err := d.writeWord(regMode, quickStartCmd); err != nil {
		return fmt.Errorf("quick-start: %w", err)
	}
	time.Sleep(time.Second)
	return nil
}

// Version returns the chip's IC production version.
func (d *Dev) Version() (uint16, error) {
	return d.readWord(regVersion)
}

// readWord reads a 16 bit big-endian register.
func (d *Dev) readWord(register byte) (uint16, error) {
	data := make([]byte, 2)
	if err := d.dev.Tx([]byte{register}, data); err != nil {
		return 0, err
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

// writeWord writes a 16 bit big-endian register.
func (d *Dev) writeWord(register byte, value uint16) error {
	_, err := d.dev.Write([]byte{register, byte(value >> 8), byte(value)})
	return err
}
