// Package photometry converts raw TSL2591 counts to irradiance and sky
// brightness in MPSAS.
package photometry

import (
	"math"
	"time"

	"sqmcode-go/drivers/tsl2591"
	"sqmcode-go/services/sqm/internal/sqmcore"
)

const (
	// ReferenceCounts is counts per uW/cm2 at 400x gain and 100 ms.
	ReferenceCounts = 264.1

	referenceGain = 400.0
	referenceMs   = 100.0

	// DarkLimit is reported when the visible flux is not positive. It is a
	// policy value, not a measurement.
	DarkLimit = 25.0
)

// Params are the site calibration constants.
type Params struct {
	M0 float64 // zero point
	GA float64 // glass/filter attenuation offset
	// DarkLimit overrides the package constant when non-zero.
	DarkLimit float64
}

func (p Params) darkLimit() float64 {
	if p.DarkLimit != 0 {
		return p.DarkLimit
	}
	return DarkLimit
}

// CountsPerUnit returns the conversion constant for s, or 0 when s does not
// name a valid gain and integration time.
func CountsPerUnit(s sqmcore.Settings) float64 {
	ms := s.Integration.Millis()
	mult := s.Gain.Multiplier()
	if ms == 0 || mult == 0 {
		return 0
	}
	return (float64(ms) / referenceMs) * (mult / referenceGain) * ReferenceCounts
}

// Calibrate converts a raw sample to irradiance. A channel at full scale or
// an unusable conversion constant yields zero flux on both channels.
func Calibrate(r sqmcore.RawSample) sqmcore.CalibratedSample {
	if r.Channel0 == tsl2591.FullScale || r.Channel1 == tsl2591.FullScale {
		return sqmcore.CalibratedSample{}
	}
	cpu := CountsPerUnit(r.Settings)
	if cpu == 0 {
		return sqmcore.CalibratedSample{}
	}
	return sqmcore.CalibratedSample{
		FluxFull: float64(r.Channel0) / cpu,
		FluxIR:   float64(r.Channel1) / cpu,
	}
}

// Magnitude returns M0 + GA - 2.5*log10(full-ir), or the dark limit when
// full-ir is not positive.
func Magnitude(c sqmcore.CalibratedSample, p Params) (mag float64, darkLimit bool) {
	vis := c.Visible()
	if !(vis > 0) {
		return p.darkLimit(), true
	}
	return p.M0 + p.GA - 2.5*math.Log10(vis), false
}

// Reading runs Calibrate and Magnitude and stamps the result.
func Reading(r sqmcore.RawSample, p Params, ts time.Time) (sqmcore.CalibratedSample, sqmcore.BrightnessReading) {
	cal := Calibrate(r)
	m, dark := Magnitude(cal, p)
	return cal, sqmcore.BrightnessReading{Magnitude: m, Timestamp: ts, DarkLimit: dark}
}
