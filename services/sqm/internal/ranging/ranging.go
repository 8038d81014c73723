// Package ranging walks the TSL2591 gain and integration settings until
// channel 0 lands inside a usable count band.
//
// The controller is the only owner of the sensor registers. It is not safe
// for concurrent use; the sqm service runs one cycle at a time.
package ranging

import (
	"time"

	"github.com/rs/zerolog"

	"sqmcode-go/drivers/tsl2591"
	"sqmcode-go/services/sqm/internal/sqmcore"
)

// Registers is the blocking register access the controller drives.
// *tsl2591.Device satisfies it.
type Registers interface {
	ReadRegister16(reg byte) (uint16, error)
	WriteRegister8(reg, val byte) error
}

const (
	DefaultHighThreshold = 0xFFE0
	DefaultLowThreshold  = 0x0010
	DefaultMaxAttempts   = 15
	DefaultSettleMargin  = 120 * time.Millisecond
)

type Config struct {
	// Channel 0 above High is treated as saturated, below Low as starved.
	High uint16
	Low  uint16
	// MaxAttempts bounds the number of settings adjustments per acquisition.
	MaxAttempts int
	// SettleMargin is added to the integration time before reading.
	SettleMargin time.Duration
	// Initial settings written before the first acquisition.
	Initial sqmcore.Settings

	Logger zerolog.Logger
	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig returns thresholds and bounds for the TSL2591.
func DefaultConfig() Config {
	return Config{
		High:         DefaultHighThreshold,
		Low:          DefaultLowThreshold,
		MaxAttempts:  DefaultMaxAttempts,
		SettleMargin: DefaultSettleMargin,
		Initial:      sqmcore.Settings{Gain: tsl2591.GainMed, Integration: tsl2591.Integration200ms},
		Logger:       zerolog.Nop(),
	}
}

func (c *Config) normalise() {
	d := DefaultConfig()
	if c.High == 0 {
		c.High = d.High
	}
	if c.Low == 0 {
		c.Low = d.Low
	}
	if c.Low > c.High {
		c.Low, c.High = c.High, c.Low
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.SettleMargin < 0 {
		c.SettleMargin = 0
	}
	if !c.Initial.Valid() {
		c.Initial = d.Initial
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
}

// Acquisition is the result of one auto-ranging search.
type Acquisition struct {
	Sample  sqmcore.RawSample
	Outcome sqmcore.Outcome
	// Adjustments is the number of settings changes attempted.
	Adjustments int
	// Reads is the number of enable/wait/read sequences performed.
	Reads int
	// Faults counts register errors absorbed during the search.
	Faults int
	// ReadFaults is the subset of Faults that zeroed a sample: failed
	// enables and channel reads.
	ReadFaults int
	// Averaged is the number of samples folded into Sample (low-light mode).
	Averaged int
}

// Controller owns the sensor settings and power state.
type Controller struct {
	regs Registers
	cfg  Config
	log  zerolog.Logger

	settings sqmcore.Settings
	applied  bool // CONTROL holds settings
	power    sqmcore.PowerState
}

func New(regs Registers, cfg Config) *Controller {
	cfg.normalise()
	return &Controller{
		regs:     regs,
		cfg:      cfg,
		log:      cfg.Logger,
		settings: cfg.Initial,
	}
}

// Settings returns the settings the next acquisition starts from.
func (c *Controller) Settings() sqmcore.Settings { return c.settings }

// Power returns the tracked sensor power state.
func (c *Controller) Power() sqmcore.PowerState { return c.power }

// SetInitial replaces the current settings; they are written on the next
// acquisition. Invalid settings are ignored.
func (c *Controller) SetInitial(s sqmcore.Settings) bool {
	if !s.Valid() {
		return false
	}
	if s != c.settings {
		c.settings = s
		c.applied = false
	}
	return true
}

// AcquireStableSample enables the sensor, reads a sample and adjusts gain
// then integration time until channel 0 is within [Low, High], the settings
// run out, or MaxAttempts adjustments have been made. The sensor is disabled
// on return. Register faults never escape; a failed read yields a zero
// sample for that attempt.
func (c *Controller) AcquireStableSample() (acq Acquisition) {
	defer c.powerDown(&acq)

	for {
		if !c.applied {
			c.writeControl(c.settings, &acq)
		}
		acq.Sample = c.readOnce(&acq)
		acq.Reads++

		ch0 := acq.Sample.Channel0
		var (
			next  sqmcore.Settings
			ok    bool
			cause string
		)
		switch {
		case ch0 > c.cfg.High:
			next, ok = lessSensitive(c.settings)
			cause = "saturated"
			if !ok {
				acq.Outcome = sqmcore.OutcomeTooBright
				c.log.Debug().Uint16("ch0", ch0).Msg("saturated at minimum gain and time")
				return acq
			}
		case ch0 < c.cfg.Low:
			next, ok = moreSensitive(c.settings)
			cause = "starved"
			if !ok {
				acq.Outcome = sqmcore.OutcomeTooDark
				c.log.Debug().Uint16("ch0", ch0).Msg("below threshold at maximum gain and time")
				return acq
			}
		default:
			acq.Outcome = sqmcore.OutcomeInBand
			return acq
		}

		if acq.Adjustments >= c.cfg.MaxAttempts {
			acq.Outcome = sqmcore.OutcomeExhausted
			c.log.Warn().
				Int("adjustments", acq.Adjustments).
				Uint16("ch0", ch0).
				Str("gain", c.settings.Gain.String()).
				Int("integration_ms", c.settings.IntegrationMs()).
				Msg("auto-range bound reached, using last sample")
			return acq
		}
		acq.Adjustments++
		c.log.Debug().
			Str("cause", cause).
			Uint16("ch0", ch0).
			Str("gain", next.Gain.String()).
			Int("integration_ms", next.IntegrationMs()).
			Msg("auto-range step")
		c.writeControl(next, &acq)
	}
}

// AcquireAveraged performs a stable acquisition and, while the summed
// visible counts stay below minCounts, repeats it up to maxReads samples in
// total and averages the channels. Samples taken at different settings are
// not averaged; the search stops at the first such sample. A saturated
// sample is returned on its own so the full-scale reading is not diluted.
func (c *Controller) AcquireAveraged(maxReads int, minCounts uint32) Acquisition {
	first := c.AcquireStableSample()
	first.Averaged = 1
	if maxReads <= 1 || first.Outcome == sqmcore.OutcomeTooBright || first.Sample.Saturated() {
		return first
	}

	out := first
	sum0, sum1 := uint32(first.Sample.Channel0), uint32(first.Sample.Channel1)
	n := uint32(1)
	for int(n) < maxReads && visible(sum0, sum1) < minCounts {
		a := c.AcquireStableSample()
		out.Reads += a.Reads
		out.Faults += a.Faults
		out.ReadFaults += a.ReadFaults
		out.Adjustments += a.Adjustments
		if a.Sample.Settings != first.Sample.Settings {
			break
		}
		if a.Sample.Saturated() {
			c.log.Debug().Uint32("samples", n).Msg("saturated sample ends low-light average")
			out.Sample = a.Sample
			out.Outcome = a.Outcome
			out.Averaged = 1
			return out
		}
		sum0 += uint32(a.Sample.Channel0)
		sum1 += uint32(a.Sample.Channel1)
		out.Outcome = a.Outcome
		n++
	}
	out.Sample.Channel0 = uint16(sum0 / n)
	out.Sample.Channel1 = uint16(sum1 / n)
	out.Averaged = int(n)
	if n > 1 {
		c.log.Debug().Uint32("samples", n).Uint32("visible", visible(sum0, sum1)).Msg("low-light average")
	}
	return out
}

func visible(ch0, ch1 uint32) uint32 {
	if ch0 <= ch1 {
		return 0
	}
	return ch0 - ch1
}

// ---------------- register sequencing ----------------

// writeControl programs s; settings only change when the write succeeds.
func (c *Controller) writeControl(s sqmcore.Settings, acq *Acquisition) {
	if err := c.regs.WriteRegister8(tsl2591.RegControl, tsl2591.ControlByte(s.Gain, s.Integration)); err != nil {
		acq.Faults++
		c.log.Warn().Err(err).Str("gain", s.Gain.String()).Int("integration_ms", s.IntegrationMs()).Msg("control write failed")
		return
	}
	c.settings = s
	c.applied = true
}

// readOnce runs one enable/wait/read sequence at the current settings.
func (c *Controller) readOnce(acq *Acquisition) sqmcore.RawSample {
	s := sqmcore.RawSample{Settings: c.settings}

	if err := c.regs.WriteRegister8(tsl2591.RegEnable, tsl2591.EnablePowerOn|tsl2591.EnableAEN); err != nil {
		acq.Faults++
		acq.ReadFaults++
		c.log.Warn().Err(err).Msg("enable failed")
		return s
	}
	c.power = sqmcore.PowerEnabling
	c.cfg.Sleep(c.settings.Integration.Duration() + c.cfg.SettleMargin)
	c.power = sqmcore.PowerEnabled

	ch0, err := c.regs.ReadRegister16(tsl2591.RegChan0Low)
	if err != nil {
		acq.Faults++
		acq.ReadFaults++
		c.log.Warn().Err(err).Msg("channel 0 read failed")
		return s
	}
	ch1, err := c.regs.ReadRegister16(tsl2591.RegChan1Low)
	if err != nil {
		acq.Faults++
		acq.ReadFaults++
		c.log.Warn().Err(err).Msg("channel 1 read failed")
		return s
	}
	s.Channel0, s.Channel1 = ch0, ch1
	return s
}

func (c *Controller) powerDown(acq *Acquisition) {
	if err := c.regs.WriteRegister8(tsl2591.RegEnable, tsl2591.EnablePowerOff); err != nil {
		acq.Faults++
		c.log.Warn().Err(err).Msg("disable failed")
		return
	}
	c.power = sqmcore.PowerDisabled
}

// ---------------- stepping ----------------

// lessSensitive steps gain down first, then integration time.
func lessSensitive(s sqmcore.Settings) (sqmcore.Settings, bool) {
	if g, ok := s.Gain.Down(); ok {
		s.Gain = g
		return s, true
	}
	if t, ok := s.Integration.Down(); ok {
		s.Integration = t
		return s, true
	}
	return s, false
}

// moreSensitive steps gain up first, then integration time.
func moreSensitive(s sqmcore.Settings) (sqmcore.Settings, bool) {
	if g, ok := s.Gain.Up(); ok {
		s.Gain = g
		return s, true
	}
	if t, ok := s.Integration.Up(); ok {
		s.Integration = t
		return s, true
	}
	return s, false
}
