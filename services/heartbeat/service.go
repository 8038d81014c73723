// Package heartbeat logs a periodic liveness line and supervises the
// measurement cycle: if no sqm/value arrives within the watchdog period
// the OnStale hook fires so the process can be restarted.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/errcode"
	"sqmcode-go/types"
	"sqmcode-go/x/jsonx"
	"sqmcode-go/x/timex"
)

const serviceName = "heartbeat"

var (
	topicConfigHeartbeat = bus.T("config", serviceName)
	topicSQMValue        = bus.T("sqm", "value")
	TopicState           = bus.T(serviceName, "state")
)

const defaultInterval = 30 * time.Second

type Service struct {
	// OnStale is called once when the watchdog expires.
	OnStale func()

	log zerolog.Logger
}

func New(onStale func()) *Service {
	return &Service{
		OnStale: onStale,
		log:     log.With().Str("service", serviceName).Logger(),
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	vals := conn.Subscribe(topicSQMValue)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(vals)

	interval := defaultInterval
	tick := time.NewTicker(interval)
	defer tick.Stop()

	// Armed only once a watchdog period is configured.
	var watchdog time.Duration
	wd := time.NewTimer(time.Hour)
	wd.Stop()
	defer wd.Stop()

	started := time.Now()
	var (
		lastAt   time.Time
		last     types.SQMValue
		fired    bool
		readings int
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("heartbeat service stopping")
			return

		case now := <-tick.C:
			ev := s.log.Info().Dur("uptime", now.Sub(started).Round(time.Second)).Int("readings", readings)
			if !lastAt.IsZero() {
				ev = ev.Float64("mpsas", last.Magnitude).Dur("age", now.Sub(lastAt).Round(time.Millisecond))
			}
			ev.Msg("heartbeat")
			conn.Publish(conn.NewMessage(TopicState, types.ServiceState{
				Level: "ready", Status: "alive", TS: timex.NowMs(),
			}, true))

		case m := <-vals.Channel():
			v, ok := m.Payload.(types.SQMValue)
			if !ok {
				continue
			}
			last, lastAt = v, time.Now()
			readings++
			if watchdog > 0 && !fired {
				timex.ResetTimer(wd, watchdog)
			}

		case m := <-cfgSub.Channel():
			var cfg types.HeartbeatConfig
			if err := jsonx.Decode(m.Payload, &cfg); err != nil {
				s.log.Warn().Err(err).Msg("invalid heartbeat config")
				continue
			}
			if iv := cfg.Interval.Duration(); iv > 0 && iv != interval {
				interval = iv
				tick.Reset(interval)
				s.log.Info().Dur("interval", interval).Msg("heartbeat interval set")
			}
			if w := cfg.Watchdog.Duration(); w != watchdog {
				watchdog = w
				if watchdog > 0 && !fired {
					timex.ResetTimer(wd, watchdog)
					s.log.Info().Dur("watchdog", watchdog).Msg("watchdog armed")
				} else if !wd.Stop() {
					timex.DrainTimer(wd)
				}
			}

		case <-wd.C:
			if fired || watchdog <= 0 {
				continue
			}
			fired = true
			s.log.Error().Dur("watchdog", watchdog).Time("last_value", lastAt).Msg("measurement cycle stalled")
			conn.Publish(conn.NewMessage(TopicState, types.ServiceState{
				Level: "degraded", Status: "cycle_stalled", Code: string(errcode.Timeout), TS: timex.NowMs(),
			}, true))
			if s.OnStale != nil {
				s.OnStale()
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
