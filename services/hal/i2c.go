// Package hal opens the host I2C buses and adapts them to the tinygo
// drivers.I2C Tx shape. Each bus is serialised: one transaction at a time.
package hal

import (
	"fmt"
	"sync"

	"sqmcode-go/errcode"
)

// RawBus is the register-level bus a platform provides. The reef-pi
// i2c.Bus satisfies it.
type RawBus interface {
	ReadBytes(addr byte, num int) ([]byte, error)
	WriteBytes(addr byte, value []byte) error
	ReadFromReg(addr, reg byte, value []byte) error
	WriteToReg(addr, reg byte, value []byte) error
	Close() error
}

// I2C adapts a RawBus to drivers.I2C.
type I2C struct {
	mu  sync.Mutex
	raw RawBus
	id  int
}

func NewI2C(id int, raw RawBus) *I2C {
	return &I2C{raw: raw, id: id}
}

// Tx maps a write-then-read transaction onto the register primitives:
//
//	w=[reg], r=n      register read
//	w=[reg, data...]  register write
//	w=[b]             single byte write (command)
//	w=[], r=n         plain read
//
// Longer writes followed by a read are issued as two transfers.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return errcode.New(errcode.InvalidParams, b.op(), fmt.Sprintf("address %#x out of range", addr))
	}
	a := byte(addr)

	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	switch {
	case len(w) == 0 && len(r) == 0:
		return nil
	case len(w) == 0:
		err = b.readInto(a, r)
	case len(w) == 1 && len(r) > 0:
		err = b.raw.ReadFromReg(a, w[0], r)
	case len(r) == 0 && len(w) == 1:
		err = b.raw.WriteBytes(a, w)
	case len(r) == 0:
		err = b.raw.WriteToReg(a, w[0], w[1:])
	default:
		if err = b.raw.WriteBytes(a, w); err == nil {
			err = b.readInto(a, r)
		}
	}
	return errcode.Wrap(errcode.BusIO, b.op(), err)
}

func (b *I2C) readInto(a byte, r []byte) error {
	got, err := b.raw.ReadBytes(a, len(r))
	if err != nil {
		return err
	}
	if len(got) < len(r) {
		return fmt.Errorf("short read: %d of %d bytes", len(got), len(r))
	}
	copy(r, got)
	return nil
}

func (b *I2C) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw.Close()
}

func (b *I2C) op() string { return fmt.Sprintf("hal.i2c%d", b.id) }

// Buses hands out one shared *I2C per bus number.
type Buses struct {
	mu   sync.Mutex
	open func(int) (RawBus, error)
	bus  map[int]*I2C
}

// NewBuses uses the platform opener.
func NewBuses() *Buses { return NewBusesWith(OpenRaw) }

func NewBusesWith(open func(int) (RawBus, error)) *Buses {
	return &Buses{open: open, bus: make(map[int]*I2C)}
}

// Get opens bus n on first use.
func (s *Buses) Get(n int) (*I2C, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bus[n]; ok {
		return b, nil
	}
	raw, err := s.open(n)
	if err != nil {
		return nil, err
	}
	b := NewI2C(n, raw)
	s.bus[n] = b
	return b, nil
}

// Close closes every opened bus and returns the first error.
func (s *Buses) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for n, b := range s.bus {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.bus, n)
	}
	return first
}
