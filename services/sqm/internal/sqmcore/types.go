// services/sqm/internal/sqmcore/types.go
package sqmcore

import (
	"time"

	"sqmcode-go/drivers/tsl2591"
)

// Settings is the sensor's gain and integration time pair.
type Settings struct {
	Gain        tsl2591.Gain
	Integration tsl2591.IntegrationTime
}

func (s Settings) Valid() bool { return s.Gain.Valid() && s.Integration.Valid() }

// IntegrationMs is the nominal integration period in milliseconds.
func (s Settings) IntegrationMs() int { return s.Integration.Millis() }

// RawSample is one pair of channel counts and the settings that produced it.
// Channel0 is full spectrum, Channel1 infrared only.
type RawSample struct {
	Channel0 uint16
	Channel1 uint16
	Settings Settings
}

// Saturated reports whether either channel sits at the counter full scale.
func (r RawSample) Saturated() bool {
	return r.Channel0 == tsl2591.FullScale || r.Channel1 == tsl2591.FullScale
}

// CalibratedSample holds irradiance for both channels (uW/cm2).
type CalibratedSample struct {
	FluxFull float64
	FluxIR   float64
}

// Visible is the full minus infrared flux.
func (c CalibratedSample) Visible() float64 { return c.FluxFull - c.FluxIR }

// BrightnessReading is a sky brightness in MPSAS.
type BrightnessReading struct {
	Magnitude float64
	Timestamp time.Time
	// DarkLimit is set when the magnitude is the policy constant rather
	// than a computed logarithm.
	DarkLimit bool
}

// PowerState tracks the sensor's power/integration state.
type PowerState uint8

const (
	PowerDisabled PowerState = iota
	PowerEnabling            // enabled, integration in flight
	PowerEnabled             // integration complete, counters valid
)

func (p PowerState) String() string {
	switch p {
	case PowerDisabled:
		return "disabled"
	case PowerEnabling:
		return "enabling"
	case PowerEnabled:
		return "enabled"
	}
	return "unknown"
}

// Outcome classifies how an acquisition ended.
type Outcome uint8

const (
	OutcomeInBand    Outcome = iota // channel0 within thresholds
	OutcomeTooBright                // saturated at minimum gain and time
	OutcomeTooDark                  // below threshold at maximum gain and time
	OutcomeExhausted                // adjustment bound reached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInBand:
		return "in_band"
	case OutcomeTooBright:
		return "too_bright"
	case OutcomeTooDark:
		return "too_dark"
	case OutcomeExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Degraded reports whether the sample is usable but outside the precision band.
func (o Outcome) Degraded() bool { return o != OutcomeInBand }
