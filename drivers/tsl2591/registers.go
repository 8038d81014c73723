// Package tsl2591 provides constants for register addresses and bitfields used
// in the operation of the TSL2591 high dynamic range light-to-digital converter.
package tsl2591

const (
	// 7-bit I2C address (fixed).
	Address = 0x29

	// Device identification value held in RegID.
	DeviceID = 0x50

	// Command register: every transaction starts with CMD | TRANSACTION | ADDR.
	CommandBit = 0xA0 // CMD=1, TRANSACTION=01 (normal operation)

	// --- Register sub-addresses ---
	RegEnable    = 0x00 // R/W
	RegControl   = 0x01 // R/W (AGAIN bits 5:4, ATIME bits 2:0)
	RegID        = 0x12 // R
	RegChan0Low  = 0x14 // R (C0DATAL, full spectrum)
	RegChan0High = 0x15 // R
	RegChan1Low  = 0x16 // R (C1DATAL, infrared)
	RegChan1High = 0x17 // R

	// --- ENABLE bits (0x00) ---
	EnablePowerOff = 0x00
	EnablePowerOn  = 0x01 // PON
	EnableAEN      = 0x02 // ALS enable

	// --- CONTROL bits (0x01) ---
	controlGainMask = 0x30
	controlTimeMask = 0x07

	// Counter full scale; either channel at this value cannot be converted.
	FullScale = 0xFFFF
)
