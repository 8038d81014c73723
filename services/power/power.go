// Package power samples the INA260 supply monitor and publishes
// current, voltage and power on power/value.
package power

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ina260"

	"sqmcode-go/bus"
	"sqmcode-go/errcode"
	"sqmcode-go/types"
	"sqmcode-go/x/jsonx"
	"sqmcode-go/x/timex"
)

const serviceName = "power"

var (
	TopicValue  = bus.T(serviceName, "value")
	TopicState  = bus.T(serviceName, "state")
	topicConfig = bus.T("config", serviceName)
)

const defaultInterval = 10 * time.Second

type Service struct {
	conn     *bus.Connection
	dev      ina260.Device
	info     types.PowerInfo
	interval time.Duration
	log      zerolog.Logger
}

// New binds an INA260 on i2c. The device is not touched until Run.
func New(conn *bus.Connection, i2c drivers.I2C, cfg types.PowerConfig) *Service {
	dev := ina260.New(i2c)
	if cfg.Address != 0 {
		dev.Address = cfg.Address
	}
	iv := cfg.Interval.Duration()
	if iv <= 0 {
		iv = defaultInterval
	}
	return &Service{
		conn:     conn,
		dev:      dev,
		info:     types.PowerInfo{Sensor: "ina260", Bus: cfg.Bus, Addr: dev.Address},
		interval: iv,
		log:      log.With().Str("service", serviceName).Logger(),
	}
}

// Sample reads one measurement. The driver does not surface bus errors, so
// the ID registers are checked first.
func (s *Service) Sample() (types.PowerValue, error) {
	if !s.dev.Connected() {
		return types.PowerValue{}, errcode.New(errcode.NoDevice, "power.sample", "ina260 not responding")
	}
	return types.PowerValue{
		CurrentMilliA: float64(s.dev.Current()) / 1000,
		VoltageMilliV: float64(s.dev.Voltage()) / 1000,
		PowerMilliW:   float64(s.dev.Power()) / 1000,
		TS:            timex.NowMs(),
	}, nil
}

// Run configures the monitor and samples until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)

	if s.dev.Connected() {
		s.dev.Configure(ina260.Config{
			AverageMode:     ina260.AVGMODE_16,
			VoltConvTime:    ina260.CONVTIME_1100USEC,
			CurrentConvTime: ina260.CONVTIME_1100USEC,
			Mode:            ina260.MODE_CONTINUOUS | ina260.MODE_VOLTAGE | ina260.MODE_CURRENT,
		})
		s.log.Info().Int("bus", s.info.Bus).Uint16("addr", s.info.Addr).Msg("ina260 configured")
	}

	t := time.NewTimer(0)
	defer t.Stop()
	healthy, reported := false, false

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return
		case m := <-cfgSub.Channel():
			var cfg types.PowerConfig
			if err := jsonx.Decode(m.Payload, &cfg); err != nil {
				continue
			}
			if iv := cfg.Interval.Duration(); iv > 0 && iv != s.interval {
				s.interval = iv
				timex.ResetTimer(t, iv)
			}
		case <-t.C:
			v, err := s.Sample()
			if err != nil {
				if healthy || !reported {
					s.log.Warn().Err(err).Msg("supply sample failed")
				}
				healthy, reported = false, true
				s.publishState("degraded", "sample_failed", err)
			} else {
				if !healthy {
					s.publishState("ready", "sampling", nil)
				}
				healthy = true
				s.conn.Publish(s.conn.NewMessage(TopicValue, v, true))
			}
			t.Reset(s.interval)
		}
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
