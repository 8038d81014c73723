// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/errcode"
	"sqmcode-go/types"
	"sqmcode-go/x/jsonx"
	"sqmcode-go/x/timex"
)

const serviceName = "bridge"

var (
	topicConfigMQTT = bus.T("config", "mqtt")
	topicSQMValue   = bus.T("sqm", "value")
	topicSQMParams  = bus.T("sqm", "params")
	topicPowerValue = bus.T("power", "value")
	topicConfigure  = bus.T("sqm", "control", "configure")
	topicReadNow    = bus.T("sqm", "control", "read_now")
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for configuration on topic {"config","mqtt"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T(serviceName, "state"),
		log:        log.With().Str("service", serviceName).Logger(),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// Link is an established broker session.
type Link interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, fn func(topic string, payload []byte)) error
	// Lost delivers the error that ended the session.
	Lost() <-chan error
	Close()
}

// Transport dials broker sessions.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

// NewTransport builds the transport for a configuration. Tests replace it.
var NewTransport = func(cfg types.MQTTConfig) (Transport, error) {
	return newPahoTransport(cfg)
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic
	log        zerolog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
	done   chan struct{}
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigMQTT)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg types.MQTTConfig
			if err := jsonx.Decode(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", errcode.Wrap(errcode.InvalidPayload, "bridge.config", err))
				continue
			}
			if !cfg.Enabled {
				s.stopCurrent()
				s.publishState("idle", "disabled", nil)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

// stopCurrent cancels the running link and waits for it to close.
func (s *Service) stopCurrent() {
	s.mu.Lock()
	cancel, done := s.curRun, s.done
	s.curRun, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.MQTTConfig) {
	s.stopCurrent()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.mu.Lock()
	s.curRun, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runLink(ctx, cfg)
	}()
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.MQTTConfig) {
	tr, err := NewTransport(cfg)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := timex.Backoff(250*time.Millisecond, 30*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.log.Warn().Err(err).Dur("retry_in", delay).Str("broker", cfg.Broker).Msg("connect failed")
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !timex.Sleep(ctx, delay) {
				return
			}
			continue
		}

		s.log.Info().Str("broker", cfg.Broker).Str("transport", tr.String()).Msg("link established")
		s.publishState("up", "link_established", nil)
		backoff = timex.Backoff(250*time.Millisecond, 30*time.Second)

		if err := s.handleLink(ctx, cfg, link); err != nil {
			link.Close()
			delay := backoff()
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("link lost")
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !timex.Sleep(ctx, delay) {
				return
			}
			continue
		}
		link.Close()
		s.publishState("idle", "stopped", nil)
		return
	}
}

// handleLink owns the active link lifetime: discovery, forwarding of local
// readings and inbound remote configuration.
func (s *Service) handleLink(ctx context.Context, cfg types.MQTTConfig, link Link) error {
	if err := link.Subscribe(cfg.TopicControl, func(_ string, payload []byte) {
		s.handleControl(payload)
	}); err != nil {
		return err
	}

	if err := link.Publish(availabilityTopic(cfg), []byte(availOnline), true); err != nil {
		return err
	}
	if cfg.Discovery {
		for _, d := range discoveryConfigs(cfg) {
			b, err := json.Marshal(d.payload)
			if err != nil {
				return err
			}
			if err := link.Publish(d.topic, b, true); err != nil {
				return err
			}
		}
	}

	vals := s.conn.Subscribe(topicSQMValue)
	params := s.conn.Subscribe(topicSQMParams)
	power := s.conn.Subscribe(topicPowerValue)
	defer s.conn.Unsubscribe(vals)
	defer s.conn.Unsubscribe(params)
	defer s.conn.Unsubscribe(power)

	for {
		select {
		case <-ctx.Done():
			// Best-effort offline marker before a clean close.
			_ = link.Publish(availabilityTopic(cfg), []byte(availOffline), true)
			return nil
		case err := <-link.Lost():
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		case m := <-vals.Channel():
			v, ok := m.Payload.(types.SQMValue)
			if !ok {
				continue
			}
			if err := link.Publish(cfg.TopicValue, []byte(FormatMagnitude(v.Magnitude)), true); err != nil {
				return err
			}
		case m := <-params.Channel():
			if err := publishJSON(link, cfg.TopicParams, m.Payload); err != nil {
				return err
			}
		case m := <-power.Channel():
			if err := publishJSON(link, cfg.TopicPower, m.Payload); err != nil {
				return err
			}
		}
	}
}

// controlMsg is the remote control payload. Configuration fields follow
// {"M0": -16.0, "GA": 25.0, "interval": 5}.
type controlMsg struct {
	types.SQMConfigPatch
	ReadNow bool `json:"read_now,omitempty"`
}

// handleControl runs on the transport's callback goroutine.
func (s *Service) handleControl(payload []byte) {
	var c controlMsg
	if err := json.Unmarshal(payload, &c); err != nil {
		s.log.Warn().Err(err).Str("payload", string(payload)).Msg("invalid remote configuration")
		return
	}
	if !c.SQMConfigPatch.Empty() {
		s.log.Info().Str("payload", string(payload)).Msg("remote configuration received")
		s.conn.Publish(s.conn.NewMessage(topicConfigure, c.SQMConfigPatch, false))
	}
	if c.ReadNow {
		s.conn.Publish(s.conn.NewMessage(topicReadNow, types.ReadNow{}, false))
	}
}

// FormatMagnitude renders a reading the way it is published: two decimals.
func FormatMagnitude(m float64) string {
	return strconv.FormatFloat(m, 'f', 2, 64)
}

func publishJSON(link Link, topic string, v any) error {
	if topic == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return link.Publish(topic, b, true)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{
		Level:  level,  // "up", "degraded", "error", "idle"
		Status: status, // short machine string
		TS:     timex.NowMs(),
	}
	if err != nil {
		st.Code = string(errcode.Of(err))
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}
