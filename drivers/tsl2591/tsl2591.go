// Package tsl2591 provides a register-level driver for the TSL2591 light
// sensor. It exposes the raw register interface used by the auto-ranging
// controller:
//
//	v, err := d.ReadRegister16(tsl2591.RegChan0Low) // little-endian word
//	err = d.WriteRegister8(tsl2591.RegEnable, tsl2591.EnablePowerOn|tsl2591.EnableAEN)
//
// plus thin helpers (ID, Enable, Disable, SetControl) used by Configure.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package tsl2591

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Errors returned by the driver.
var (
	ErrWrongDevice = errors.New("tsl2591: unexpected device id")
	ErrInvalid     = errors.New("tsl2591: invalid gain or integration time")
)

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x29 if zero.
	Address uint16
	// Gain and Integration are written to CONTROL by Configure.
	Gain        Gain
	Integration IntegrationTime
	// SkipIDCheck skips the ID register check in Configure.
	SkipIDCheck bool
}

// Device wraps an I2C connection to a TSL2591 device.
type Device struct {
	bus  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [2]byte
}

// New creates a new TSL2591 connection. The I2C bus must already be configured.
// This function only creates the Device object; it does not touch the device.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = Address
	}
	return &Device{bus: bus, addr: addr}
}

// Addr returns the 7-bit bus address.
func (d *Device) Addr() uint16 { return d.addr }

// Configure verifies the device identity, writes the requested gain and
// integration time and leaves the sensor powered off.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.addr = cfg.Address
	}
	if !cfg.Gain.Valid() || !cfg.Integration.Valid() {
		return ErrInvalid
	}
	if !cfg.SkipIDCheck {
		id, err := d.ID()
		if err != nil {
			return err
		}
		if id != DeviceID {
			return ErrWrongDevice
		}
	}
	if err := d.Enable(); err != nil {
		return err
	}
	if err := d.SetControl(cfg.Gain, cfg.Integration); err != nil {
		return err
	}
	return d.Disable()
}

// ---------------- Register interface ----------------

// ReadRegister16 reads a little-endian word starting at reg (LOW then HIGH).
func (d *Device) ReadRegister16(reg byte) (uint16, error) {
	d.w[0] = CommandBit | reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

// ReadRegister8 reads a single byte register.
func (d *Device) ReadRegister8(reg byte) (byte, error) {
	d.w[0] = CommandBit | reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

// WriteRegister8 writes one byte to reg.
func (d *Device) WriteRegister8(reg, val byte) error {
	d.w[0] = CommandBit | reg
	d.w[1] = val
	return d.bus.Tx(d.addr, d.w[:2], nil)
}

// ---------------- Helpers ----------------

// ID returns the device identification register (0x50 for a TSL2591).
func (d *Device) ID() (byte, error) {
	return d.ReadRegister8(RegID)
}

// Enable powers the oscillator and starts ALS integration.
func (d *Device) Enable() error {
	return d.WriteRegister8(RegEnable, EnablePowerOn|EnableAEN)
}

// Disable powers the device down.
func (d *Device) Disable() error {
	return d.WriteRegister8(RegEnable, EnablePowerOff)
}

// SetControl writes gain and integration time.
func (d *Device) SetControl(g Gain, t IntegrationTime) error {
	if !g.Valid() || !t.Valid() {
		return ErrInvalid
	}
	return d.WriteRegister8(RegControl, ControlByte(g, t))
}
