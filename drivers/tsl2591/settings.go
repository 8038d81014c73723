package tsl2591

import "time"

// Gain is the analog gain level. Levels are ordered; stepping moves one level.
type Gain uint8

const (
	GainLow  Gain = iota // 1x
	GainMed              // 24.5x
	GainHigh             // 400x
	GainMax              // 9876x
)

// Multiplier returns the relative sensitivity for the level, 0 for an
// out-of-range value.
func (g Gain) Multiplier() float64 {
	switch g {
	case GainLow:
		return 1
	case GainMed:
		return 24.5
	case GainHigh:
		return 400
	case GainMax:
		return 9876
	}
	return 0
}

// Bits returns the AGAIN field of the CONTROL register.
func (g Gain) Bits() byte {
	switch g {
	case GainLow:
		return 0x00
	case GainMed:
		return 0x10
	case GainHigh:
		return 0x20
	case GainMax:
		return 0x30
	}
	return 0x00
}

// Valid reports whether g is one of the four enumerated levels.
func (g Gain) Valid() bool { return g <= GainMax }

// Up returns the next higher level and false when already at the top.
func (g Gain) Up() (Gain, bool) {
	if g >= GainMax {
		return g, false
	}
	return g + 1, true
}

// Down returns the next lower level and false when already at the bottom.
func (g Gain) Down() (Gain, bool) {
	if g == GainLow || !g.Valid() {
		return g, false
	}
	return g - 1, true
}

func (g Gain) String() string {
	switch g {
	case GainLow:
		return "low"
	case GainMed:
		return "med"
	case GainHigh:
		return "high"
	case GainMax:
		return "max"
	}
	return "invalid"
}

// ParseGain maps a level name ("low", "med", "high", "max") to a Gain.
func ParseGain(s string) (Gain, bool) {
	switch s {
	case "low":
		return GainLow, true
	case "med", "medium":
		return GainMed, true
	case "high":
		return GainHigh, true
	case "max":
		return GainMax, true
	}
	return 0, false
}

// IntegrationTime is the ADC integration period. Values are ordered; stepping
// moves one period.
type IntegrationTime uint8

const (
	Integration100ms IntegrationTime = iota
	Integration200ms
	Integration300ms
	Integration400ms
	Integration500ms
	Integration600ms
)

// Millis returns the nominal period in milliseconds, 0 for an out-of-range value.
func (t IntegrationTime) Millis() int {
	switch t {
	case Integration100ms:
		return 100
	case Integration200ms:
		return 200
	case Integration300ms:
		return 300
	case Integration400ms:
		return 400
	case Integration500ms:
		return 500
	case Integration600ms:
		return 600
	}
	return 0
}

// Duration returns the nominal period.
func (t IntegrationTime) Duration() time.Duration {
	return time.Duration(t.Millis()) * time.Millisecond
}

// Bits returns the ATIME field of the CONTROL register.
func (t IntegrationTime) Bits() byte {
	if !t.Valid() {
		return 0
	}
	return byte(t) & controlTimeMask
}

func (t IntegrationTime) Valid() bool { return t <= Integration600ms }

// Up returns the next longer period and false when already at the longest.
func (t IntegrationTime) Up() (IntegrationTime, bool) {
	if t >= Integration600ms {
		return t, false
	}
	return t + 1, true
}

// Down returns the next shorter period and false when already at the shortest.
func (t IntegrationTime) Down() (IntegrationTime, bool) {
	if t == Integration100ms || !t.Valid() {
		return t, false
	}
	return t - 1, true
}

// IntegrationFromMillis maps 100..600 ms (100 ms steps) to an IntegrationTime.
func IntegrationFromMillis(ms int) (IntegrationTime, bool) {
	switch ms {
	case 100:
		return Integration100ms, true
	case 200:
		return Integration200ms, true
	case 300:
		return Integration300ms, true
	case 400:
		return Integration400ms, true
	case 500:
		return Integration500ms, true
	case 600:
		return Integration600ms, true
	}
	return 0, false
}

// ControlByte packs gain and integration time into the CONTROL register value.
func ControlByte(g Gain, t IntegrationTime) byte {
	return (g.Bits() & controlGainMask) | t.Bits()
}

// DecodeControl unpacks a CONTROL register value. Reserved ATIME codes
// (6 and 7) report ok=false.
func DecodeControl(b byte) (g Gain, t IntegrationTime, ok bool) {
	g = Gain((b & controlGainMask) >> 4)
	t = IntegrationTime(b & controlTimeMask)
	return g, t, t.Valid()
}
