//go:build !linux

package hal

import "sqmcode-go/errcode"

// OpenRaw has no I2C backend off Linux.
func OpenRaw(int) (RawBus, error) {
	return nil, errcode.New(errcode.Unsupported, "hal.open", "i2c requires linux")
}
