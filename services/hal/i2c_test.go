package hal

import (
	"errors"
	"testing"

	"sqmcode-go/drivers/tsl2591"
	"sqmcode-go/errcode"
)

// memBus is a register file per address with a call log.
type memBus struct {
	regs   map[byte]*[256]byte
	ptr    map[byte]byte
	calls  []string
	err    error
	closed bool
}

func newMemBus() *memBus {
	return &memBus{regs: map[byte]*[256]byte{}, ptr: map[byte]byte{}}
}

func (m *memBus) dev(a byte) *[256]byte {
	if m.regs[a] == nil {
		m.regs[a] = &[256]byte{}
	}
	return m.regs[a]
}

func (m *memBus) ReadBytes(a byte, n int) ([]byte, error) {
	m.calls = append(m.calls, "read")
	if m.err != nil {
		return nil, m.err
	}
	out := make([]byte, n)
	p := m.ptr[a]
	for i := range out {
		out[i] = m.dev(a)[p+byte(i)]
	}
	return out, nil
}

func (m *memBus) WriteBytes(a byte, v []byte) error {
	m.calls = append(m.calls, "write")
	if m.err != nil {
		return m.err
	}
	m.ptr[a] = v[0]
	for i, b := range v[1:] {
		m.dev(a)[v[0]+byte(i)] = b
	}
	return nil
}

func (m *memBus) ReadFromReg(a, reg byte, v []byte) error {
	m.calls = append(m.calls, "readreg")
	if m.err != nil {
		return m.err
	}
	for i := range v {
		v[i] = m.dev(a)[reg+byte(i)]
	}
	return nil
}

func (m *memBus) WriteToReg(a, reg byte, v []byte) error {
	m.calls = append(m.calls, "writereg")
	if m.err != nil {
		return m.err
	}
	for i, b := range v {
		m.dev(a)[reg+byte(i)] = b
	}
	return nil
}

func (m *memBus) Close() error { m.closed = true; return nil }

func TestTx_MapsTransactions(t *testing.T) {
	raw := newMemBus()
	b := NewI2C(1, raw)

	if err := b.Tx(0x29, []byte{0xA1, 0x11}, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 1)
	if err := b.Tx(0x29, []byte{0xA1}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0x11 {
		t.Fatalf("read back %#x", r[0])
	}
	if err := b.Tx(0x29, []byte{0xE7}, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Tx(0x29, nil, r); err != nil {
		t.Fatal(err)
	}
	want := []string{"writereg", "readreg", "write", "read"}
	for i, c := range want {
		if raw.calls[i] != c {
			t.Fatalf("calls = %v, want %v", raw.calls, want)
		}
	}
}

func TestTx_WrapsBusErrors(t *testing.T) {
	raw := newMemBus()
	raw.err = errors.New("remote I/O error")
	b := NewI2C(1, raw)

	err := b.Tx(0x29, []byte{0xA0}, make([]byte, 2))
	if errcode.Of(err) != errcode.BusIO {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, raw.err) {
		t.Fatal("cause lost")
	}
	if errcode.Of(b.Tx(0x80, []byte{0}, nil)) != errcode.InvalidParams {
		t.Fatal("10-bit address accepted")
	}
}

func TestTx_DrivesTSL2591(t *testing.T) {
	raw := newMemBus()
	raw.dev(tsl2591.Address)[tsl2591.RegID] = tsl2591.DeviceID
	raw.dev(tsl2591.Address)[tsl2591.RegChan0Low] = 0xE8
	raw.dev(tsl2591.Address)[tsl2591.RegChan0High] = 0x03

	// memBus ignores the command bit: index by the low register bits.
	b := NewI2C(1, commandMasked{raw})
	d := tsl2591.New(b, 0)
	v, err := d.ReadRegister16(tsl2591.RegChan0Low)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1000 {
		t.Fatalf("ch0 = %d", v)
	}
}

type commandMasked struct{ *memBus }

func (c commandMasked) ReadFromReg(a, reg byte, v []byte) error {
	return c.memBus.ReadFromReg(a, reg&^tsl2591.CommandBit, v)
}

func (c commandMasked) WriteToReg(a, reg byte, v []byte) error {
	return c.memBus.WriteToReg(a, reg&^tsl2591.CommandBit, v)
}

func TestBuses_SharesAndCloses(t *testing.T) {
	opened := 0
	raw := newMemBus()
	s := NewBusesWith(func(n int) (RawBus, error) {
		if n != 1 {
			return nil, errcode.New(errcode.UnknownBus, "test", "no bus")
		}
		opened++
		return raw, nil
	})

	a, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := s.Get(1)
	if a != b || opened != 1 {
		t.Fatalf("bus not shared: opened=%d", opened)
	}
	if _, err := s.Get(3); errcode.Of(err) != errcode.UnknownBus {
		t.Fatalf("err = %v", err)
	}
	if err := s.Close(); err != nil || !raw.closed {
		t.Fatalf("close: %v closed=%v", err, raw.closed)
	}
}
