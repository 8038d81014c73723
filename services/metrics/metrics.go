// Package metrics exports bus traffic as Prometheus series and serves
// /metrics, /health and /ready.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/types"
)

const serviceName = "metrics"

const shutdownTimeout = 5 * time.Second

var (
	topicSQMValue  = bus.T("sqm", "value")
	topicSQMParams = bus.T("sqm", "params")
	topicSpike     = bus.T("sqm", "event", "spike")
	topicPower     = bus.T("power", "value")
	topicStates    = bus.T("+", "state")
)

type Service struct {
	cfg      types.MetricsConfig
	conn     *bus.Connection
	registry *prometheus.Registry
	c        *collectors
	ready    atomic.Bool
	log      zerolog.Logger
}

func New(conn *bus.Connection, cfg types.MetricsConfig) *Service {
	reg := prometheus.NewRegistry()
	c := newCollectors()
	c.register(reg)
	return &Service{
		cfg:      cfg,
		conn:     conn,
		registry: reg,
		c:        c,
		log:      log.With().Str("service", serviceName).Logger(),
	}
}

// Handler serves /metrics, /health and /ready. /ready turns 200 once the
// first reading has been observed.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"waiting_for_first_reading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
	return mux
}

// Feeds holds the bus subscriptions the collectors read from.
type Feeds struct {
	vals, params, spikes, power, states *bus.Subscription
}

// Subscribe registers the bus subscriptions. Messages published after it
// returns are buffered until Observe drains them.
func (s *Service) Subscribe() *Feeds {
	return &Feeds{
		vals:   s.conn.Subscribe(topicSQMValue),
		params: s.conn.Subscribe(topicSQMParams),
		spikes: s.conn.Subscribe(topicSpike),
		power:  s.conn.Subscribe(topicPower),
		states: s.conn.Subscribe(topicStates),
	}
}

func (s *Service) unsubscribe(f *Feeds) {
	for _, sub := range []*bus.Subscription{f.vals, f.params, f.spikes, f.power, f.states} {
		s.conn.Unsubscribe(sub)
	}
}

// Observe feeds collectors from f until ctx is cancelled, then drops the
// subscriptions.
func (s *Service) Observe(ctx context.Context, f *Feeds) {
	defer s.unsubscribe(f)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-f.vals.Channel():
			if v, ok := m.Payload.(types.SQMValue); ok {
				s.c.observeValue(v)
				s.ready.Store(true)
			}
		case m := <-f.params.Channel():
			if p, ok := m.Payload.(types.SQMParams); ok {
				s.c.observeParams(p)
			}
		case m := <-f.spikes.Channel():
			if _, ok := m.Payload.(types.SpikeEvent); ok {
				s.c.spikes.Inc()
			}
		case m := <-f.power.Channel():
			if p, ok := m.Payload.(types.PowerValue); ok {
				s.c.observePower(p)
			}
		case m := <-f.states.Channel():
			st, ok := m.Payload.(types.ServiceState)
			if !ok || len(m.Topic) == 0 {
				continue
			}
			if name, ok := m.Topic[0].(string); ok {
				s.c.observeState(name, st)
			}
		}
	}
}

// Start subscribes, then observes the bus and serves HTTP in the
// background. Nothing published after Start returns is missed.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	f := s.Subscribe()
	go s.Observe(ctx, f)
	go s.serve(ctx)
}

func (s *Service) serve(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("Starting metrics server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msg("Metrics server error")
	}
}
