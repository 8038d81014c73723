//go:build linux

package hal

import (
	"fmt"

	"github.com/reef-pi/rpi/i2c"

	"sqmcode-go/errcode"
)

// OpenRaw opens /dev/i2c-N. The reef-pi bus is fixed to the Raspberry Pi
// header bus 1.
func OpenRaw(n int) (RawBus, error) {
	if n != 1 {
		return nil, errcode.New(errcode.UnknownBus, "hal.open", fmt.Sprintf("i2c-%d not available, only i2c-1", n))
	}
	b, err := i2c.New()
	if err != nil {
		return nil, errcode.Wrap(errcode.Unavailable, "hal.open", err)
	}
	return b, nil
}
