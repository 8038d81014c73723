// Package sqm runs the measurement cycle: auto-ranging acquisition,
// photometric conversion, spike filtering and publication on the bus.
package sqm

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/drivers/tsl2591"
	"sqmcode-go/errcode"
	"sqmcode-go/services/sqm/internal/filter"
	"sqmcode-go/services/sqm/internal/photometry"
	"sqmcode-go/services/sqm/internal/ranging"
	"sqmcode-go/services/sqm/internal/sqmcore"
	"sqmcode-go/types"
	"sqmcode-go/x/jsonx"
	"sqmcode-go/x/timex"
)

const serviceName = "sqm"

var (
	TopicValue     = bus.T(serviceName, "value")
	TopicParams    = bus.T(serviceName, "params")
	TopicSpike     = bus.T(serviceName, "event", "spike")
	TopicState     = bus.T(serviceName, "state")
	TopicConfigure = bus.T(serviceName, "control", "configure")
	TopicReadNow   = bus.T(serviceName, "control", "read_now")
	topicConfig    = bus.T("config", serviceName)
)

// Registers is the sensor register access; *tsl2591.Device satisfies it.
type Registers = ranging.Registers

// Options wires the service. Sleep and Now default to the time package.
type Options struct {
	Sensor types.SensorConfig
	SQM    types.SQMConfig
	Sleep  func(time.Duration)
	Now    func() time.Time
}

// Service owns the controller, the filter and the current SQM config. All
// of them are touched only from the Run goroutine once it is started.
type Service struct {
	conn *bus.Connection
	ctrl *ranging.Controller
	filt *filter.Filter
	cfg  types.SQMConfig
	now  func() time.Time
	log  zerolog.Logger
}

// RangingConfig maps the sensor section onto controller settings.
func RangingConfig(sc types.SensorConfig) (ranging.Config, error) {
	rc := ranging.DefaultConfig()
	if sc.Gain != "" {
		g, ok := tsl2591.ParseGain(sc.Gain)
		if !ok {
			return rc, errcode.New(errcode.InvalidParams, "sqm.sensor", "unknown gain "+sc.Gain)
		}
		rc.Initial.Gain = g
	}
	if sc.IntegrationMs != 0 {
		it, ok := tsl2591.IntegrationFromMillis(sc.IntegrationMs)
		if !ok {
			return rc, errcode.New(errcode.InvalidParams, "sqm.sensor", "integration_ms must be 100..600 in 100 ms steps")
		}
		rc.Initial.Integration = it
	}
	if sc.HighThreshold != 0 {
		rc.High = sc.HighThreshold
	}
	if sc.LowThreshold != 0 {
		rc.Low = sc.LowThreshold
	}
	if rc.Low >= rc.High {
		return rc, errcode.New(errcode.InvalidParams, "sqm.sensor", "low_threshold must be below high_threshold")
	}
	if sc.MaxAttempts > 0 {
		rc.MaxAttempts = sc.MaxAttempts
	}
	if sc.SettleMargin > 0 {
		rc.SettleMargin = sc.SettleMargin.Duration()
	}
	return rc, nil
}

// MaxIntervalSeconds bounds the measurement period.
const MaxIntervalSeconds = 24 * 60 * 60

// ValidateConfig checks an SQM configuration without applying it.
func ValidateConfig(c types.SQMConfig) error {
	const op = "sqm.config"
	switch {
	case !finite(c.M0) || !finite(c.GA):
		return errcode.New(errcode.InvalidParams, op, "M0 and GA must be finite")
	case !(c.MeasureIntervalSeconds > 0) || c.MeasureIntervalSeconds > MaxIntervalSeconds:
		return errcode.New(errcode.InvalidParams, op, "interval must be positive and at most 86400 seconds")
	case c.FilterWindowSize < 1:
		return errcode.New(errcode.InvalidParams, op, "filter_window_size must be at least 1")
	case !(c.FilterMaxChange >= 0) || math.IsInf(c.FilterMaxChange, 0):
		return errcode.New(errcode.InvalidParams, op, "filter_max_change must be non-negative")
	case c.LowLightMaxReads < 0 || c.LowLightMinCounts < 0:
		return errcode.New(errcode.InvalidParams, op, "low-light settings must be non-negative")
	case !finite(c.DarkLimit):
		return errcode.New(errcode.InvalidParams, op, "dark_limit must be finite")
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// New builds the service. The sensor section is fixed for the life of the
// service; the SQM section can be replaced with SetConfig.
func New(conn *bus.Connection, regs Registers, opts Options) (*Service, error) {
	rc, err := RangingConfig(opts.Sensor)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(opts.SQM); err != nil {
		return nil, err
	}
	lg := log.With().Str("service", serviceName).Logger()
	rc.Logger = lg
	rc.Sleep = opts.Sleep

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		conn: conn,
		ctrl: ranging.New(regs, rc),
		filt: filter.New(filterParams(opts.SQM)),
		cfg:  opts.SQM,
		now:  now,
		log:  lg,
	}, nil
}

func filterParams(c types.SQMConfig) filter.Params {
	return filter.Params{Window: c.FilterWindowSize, MaxChange: c.FilterMaxChange}
}

// Config returns the configuration the next cycle will use.
func (s *Service) Config() types.SQMConfig { return s.cfg }

// SetConfig validates and applies c. On error the previous configuration
// stays in force.
func (s *Service) SetConfig(c types.SQMConfig) error {
	if err := ValidateConfig(c); err != nil {
		return err
	}
	s.cfg = c
	s.filt.SetParams(filterParams(c))
	return nil
}

// Cycle runs one acquire, convert, filter and publish pass and returns the
// published value.
func (s *Service) Cycle() types.SQMValue {
	cfg := s.cfg
	acq := s.ctrl.AcquireAveraged(cfg.LowLightMaxReads, uint32(cfg.LowLightMinCounts))
	ts := s.now()

	cal, rd := photometry.Reading(acq.Sample, photometry.Params{M0: cfg.M0, GA: cfg.GA, DarkLimit: cfg.DarkLimit}, ts)
	reported, spike := s.filt.Update(rd.Magnitude)

	set := acq.Sample.Settings
	val := types.SQMValue{
		Magnitude:     reported,
		Gain:          set.Gain.String(),
		IntegrationMs: set.IntegrationMs(),
		Timestamp:     ts,
	}
	s.conn.Publish(s.conn.NewMessage(TopicValue, val, true))
	s.conn.Publish(s.conn.NewMessage(TopicParams, s.params(acq, cal, rd, ts), true))

	if spike != nil {
		s.log.Info().
			Float64("rejected", spike.Rejected).
			Float64("delta", spike.Delta).
			Float64("reported", spike.LastAccepted).
			Msg("spike rejected")
		s.conn.Publish(s.conn.NewMessage(TopicSpike, types.SpikeEvent{
			Rejected:     spike.Rejected,
			Delta:        spike.Delta,
			LastAccepted: spike.LastAccepted,
			MaxChange:    cfg.FilterMaxChange,
			Timestamp:    ts,
		}, false))
	}

	ev := s.log.Debug()
	if acq.Outcome.Degraded() || acq.Faults > 0 {
		ev = s.log.Info()
	}
	ev.Str("mpsas", strconv.FormatFloat(reported, 'f', 2, 64)).
		Str("gain", val.Gain).
		Int("integration_ms", val.IntegrationMs).
		Str("outcome", acq.Outcome.String()).
		Int("faults", acq.Faults).
		Msg("cycle")

	switch {
	case acq.ReadFaults > 0 && acq.ReadFaults >= acq.Reads:
		s.publishState("degraded", "sensor_io", errcode.New(errcode.BusIO, "sqm.cycle", "every read failed"))
	case acq.Outcome.Degraded():
		s.publishState("degraded", acq.Outcome.String(), nil)
	default:
		s.publishState("ready", "measuring", nil)
	}
	return val
}

func (s *Service) params(acq ranging.Acquisition, cal sqmcore.CalibratedSample, rd sqmcore.BrightnessReading, ts time.Time) types.SQMParams {
	set := acq.Sample.Settings
	return types.SQMParams{
		Gain:          set.Gain.String(),
		IntegrationMs: set.IntegrationMs(),
		Timestamp:     ts,
		M0:            s.cfg.M0,
		GA:            s.cfg.GA,
		Channel0:      acq.Sample.Channel0,
		Channel1:      acq.Sample.Channel1,
		FluxFull:      cal.FluxFull,
		FluxIR:        cal.FluxIR,
		Raw:           rd.Magnitude,
		DarkLimit:     rd.DarkLimit,
		Outcome:       acq.Outcome.String(),
		Adjustments:   acq.Adjustments,
		Faults:        acq.Faults,
		ReadFaults:    acq.ReadFaults,
		Averaged:      acq.Averaged,
		Window:        s.filt.State().Len(),
	}
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Code = string(errcode.Of(err))
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}

// Run cycles on the configured interval until ctx is cancelled. Config
// updates and read-now requests are applied between cycles.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	ctlSub := s.conn.Subscribe(TopicConfigure)
	nowSub := s.conn.Subscribe(TopicReadNow)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctlSub)
	defer s.conn.Unsubscribe(nowSub)

	s.publishState("idle", "starting", nil)
	s.log.Info().
		Float64("M0", s.cfg.M0).
		Float64("GA", s.cfg.GA).
		Float64("interval_s", s.cfg.MeasureIntervalSeconds).
		Msg("measurement loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return
		case <-timer.C:
			s.Cycle()
			timex.ResetTimer(timer, s.cfg.Interval())
		case <-nowSub.Channel():
			s.Cycle()
			timex.ResetTimer(timer, s.cfg.Interval())
		case msg := <-cfgSub.Channel():
			var c types.SQMConfig
			if err := jsonx.Decode(msg.Payload, &c); err != nil {
				s.rejectConfig(errcode.Wrap(errcode.InvalidPayload, "sqm.config", err))
				continue
			}
			if s.applyConfig(c, timer) {
				s.log.Info().Msg("configuration applied")
			}
		case msg := <-ctlSub.Channel():
			var p types.SQMConfigPatch
			if err := jsonx.Decode(msg.Payload, &p); err != nil {
				s.rejectConfig(errcode.Wrap(errcode.InvalidPayload, "sqm.configure", err))
				s.conn.Reply(msg, types.ErrorReply{Error: err.Error()}, false)
				continue
			}
			if p.Empty() {
				s.conn.Reply(msg, types.OKReply{OK: true}, false)
				continue
			}
			if !s.applyConfig(p.Apply(s.cfg), timer) {
				s.conn.Reply(msg, types.ErrorReply{Error: "invalid_params"}, false)
				continue
			}
			s.log.Info().
				Float64("M0", s.cfg.M0).
				Float64("GA", s.cfg.GA).
				Float64("interval_s", s.cfg.MeasureIntervalSeconds).
				Msg("remote configuration applied")
			s.conn.Reply(msg, types.OKReply{OK: true}, false)
		}
	}
}

// applyConfig installs c and re-arms the timer if the interval changed.
func (s *Service) applyConfig(c types.SQMConfig, timer *time.Timer) bool {
	old := s.cfg.Interval()
	if err := s.SetConfig(c); err != nil {
		s.rejectConfig(err)
		return false
	}
	if s.cfg.Interval() != old {
		timex.ResetTimer(timer, s.cfg.Interval())
	}
	return true
}

func (s *Service) rejectConfig(err error) {
	s.log.Warn().Err(err).Msg("configuration rejected")
	s.publishState("degraded", "config_rejected", err)
}
