package tsl2591

import (
	"errors"
	"testing"

	"tinygo.org/x/drivers/tester"
)

func newMock(t *testing.T) (*tester.I2CBus, *tester.I2CDevice8) {
	t.Helper()
	bus := tester.NewI2CBus(t)
	dev := tester.NewI2CDevice(t, Address)
	dev.Registers[CommandBit|RegID] = DeviceID
	bus.AddDevice(dev)
	return bus, dev
}

func TestConfigureWritesControlAndPowersDown(t *testing.T) {
	bus, mock := newMock(t)
	d := New(bus, 0)

	if err := d.Configure(Config{Gain: GainMed, Integration: Integration200ms}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := mock.Registers[CommandBit|RegControl]; got != 0x11 {
		t.Fatalf("CONTROL = %#x, want 0x11", got)
	}
	if got := mock.Registers[CommandBit|RegEnable]; got != EnablePowerOff {
		t.Fatalf("ENABLE = %#x, want powered off", got)
	}
}

func TestConfigureRejectsWrongID(t *testing.T) {
	bus, mock := newMock(t)
	mock.Registers[CommandBit|RegID] = 0x12
	d := New(bus, Address)
	if err := d.Configure(Config{}); !errors.Is(err, ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	if err := d.Configure(Config{SkipIDCheck: true}); err != nil {
		t.Fatalf("skip id check: %v", err)
	}
}

func TestReadRegister16LittleEndian(t *testing.T) {
	bus, mock := newMock(t)
	mock.Registers[CommandBit|RegChan0Low] = 0xE8 // 1000
	mock.Registers[CommandBit|RegChan0High] = 0x03
	mock.Registers[CommandBit|RegChan1Low] = 0xC8 // 200
	mock.Registers[CommandBit|RegChan1High] = 0x00

	d := New(bus, Address)
	full, err := d.ReadRegister16(RegChan0Low)
	if err != nil {
		t.Fatalf("read ch0: %v", err)
	}
	ir, err := d.ReadRegister16(RegChan1Low)
	if err != nil {
		t.Fatalf("read ch1: %v", err)
	}
	if full != 1000 || ir != 200 {
		t.Fatalf("got full=%d ir=%d", full, ir)
	}
}

func TestBusErrorPropagates(t *testing.T) {
	bus, mock := newMock(t)
	mock.Err = errors.New("nack")
	d := New(bus, Address)
	if _, err := d.ReadRegister16(RegChan0Low); err == nil {
		t.Fatal("expected error")
	}
	if err := d.Enable(); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnableDisable(t *testing.T) {
	bus, mock := newMock(t)
	d := New(bus, Address)
	if err := d.Enable(); err != nil {
		t.Fatal(err)
	}
	if got := mock.Registers[CommandBit|RegEnable]; got != EnablePowerOn|EnableAEN {
		t.Fatalf("ENABLE = %#x", got)
	}
	if err := d.Disable(); err != nil {
		t.Fatal(err)
	}
	if got := mock.Registers[CommandBit|RegEnable]; got != EnablePowerOff {
		t.Fatalf("ENABLE = %#x after Disable", got)
	}
}

func TestSettingsOrderingAndTables(t *testing.T) {
	wantMult := []float64{1, 24.5, 400, 9876}
	for g := GainLow; g <= GainMax; g++ {
		if g.Multiplier() != wantMult[g] {
			t.Fatalf("gain %v multiplier %v", g, g.Multiplier())
		}
	}
	if Gain(9).Multiplier() != 0 || Gain(9).Valid() {
		t.Fatal("invalid gain must map to 0")
	}
	if _, ok := GainMax.Up(); ok {
		t.Fatal("max gain cannot step up")
	}
	if g, ok := GainMed.Down(); !ok || g != GainLow {
		t.Fatal("med down must be low")
	}
	for ti := Integration100ms; ti <= Integration600ms; ti++ {
		if ti.Millis() != 100*(int(ti)+1) {
			t.Fatalf("integration %d => %d ms", ti, ti.Millis())
		}
		back, ok := IntegrationFromMillis(ti.Millis())
		if !ok || back != ti {
			t.Fatalf("IntegrationFromMillis(%d) = %v, %v", ti.Millis(), back, ok)
		}
	}
	if _, ok := Integration100ms.Down(); ok {
		t.Fatal("100ms cannot step down")
	}
	if ControlByte(GainMax, Integration600ms) != 0x35 {
		t.Fatalf("control byte %#x", ControlByte(GainMax, Integration600ms))
	}
	if g, ok := ParseGain("high"); !ok || g != GainHigh {
		t.Fatal("ParseGain high")
	}
}

func TestDecodeControlRoundTrip(t *testing.T) {
	for g := GainLow; g <= GainMax; g++ {
		for ti := Integration100ms; ti <= Integration600ms; ti++ {
			gg, tt, ok := DecodeControl(ControlByte(g, ti))
			if !ok || gg != g || tt != ti {
				t.Fatalf("decode(%#x) = %v %v %v", ControlByte(g, ti), gg, tt, ok)
			}
		}
	}
	if _, _, ok := DecodeControl(0x07); ok {
		t.Fatal("reserved ATIME accepted")
	}
}
