// Package history persists readings, spike events and supply samples to
// SQLite and answers range queries over the bus.
package history

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

const serviceName = "history"

var (
	topicSQMValue = bus.T("sqm", "value")
	topicSpike    = bus.T("sqm", "event", "spike")
	topicPower    = bus.T("power", "value")
	TopicQuery    = bus.T(serviceName, "query")
	TopicState    = bus.T(serviceName, "state")
)

// Query is the request payload on history/query. Zero bounds mean the
// last 24 hours.
type Query struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Limit int       `json:"limit"`
}

const defaultQueryLimit = 1000

// Service records bus traffic into a Store.
type Service struct {
	conn      *bus.Connection
	store     *Store
	retention time.Duration
	cleanup   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// New wraps an open store. Retention of zero keeps everything.
func New(conn *bus.Connection, store *Store, cfg types.HistoryConfig) *Service {
	return &Service{
		conn:      conn,
		store:     store,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		cleanup:   cfg.CleanupInterval.Duration(),
		now:       time.Now,
		log:       log.With().Str("service", serviceName).Logger(),
	}
}

// Run blocks until ctx is cancelled. The store is not closed.
func (s *Service) Run(ctx context.Context) {
	vals := s.conn.Subscribe(topicSQMValue)
	spikes := s.conn.Subscribe(topicSpike)
	power := s.conn.Subscribe(topicPower)
	queries := s.conn.Subscribe(TopicQuery)
	defer s.conn.Unsubscribe(vals)
	defer s.conn.Unsubscribe(spikes)
	defer s.conn.Unsubscribe(power)
	defer s.conn.Unsubscribe(queries)

	var tick <-chan time.Time
	if s.retention > 0 && s.cleanup > 0 {
		t := time.NewTicker(s.cleanup)
		defer t.Stop()
		tick = t.C
		s.prune()
	}

	s.publishState("ready", "recording", nil)

	// The retained reading replayed on subscribe is already stored.
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return
		case m := <-vals.Channel():
			v, ok := m.Payload.(types.SQMValue)
			if !ok || !v.Timestamp.After(last) {
				continue
			}
			last = v.Timestamp
			if _, err := s.store.AddReading(v); err != nil {
				s.fail("reading", err)
			}
		case m := <-spikes.Channel():
			if e, ok := m.Payload.(types.SpikeEvent); ok {
				if err := s.store.AddSpike(e); err != nil {
					s.fail("spike", err)
				}
			}
		case m := <-power.Channel():
			if p, ok := m.Payload.(types.PowerValue); ok {
				if err := s.store.AddPower(p); err != nil {
					s.fail("power", err)
				}
			}
		case m := <-queries.Channel():
			s.handleQuery(m)
		case <-tick:
			s.prune()
		}
	}
}

func (s *Service) handleQuery(m *bus.Message) {
	var q Query
	if m.Payload != nil {
		if err := jsonx.Decode(m.Payload, &q); err != nil {
			s.conn.Reply(m, types.ErrorReply{OK: false, Error: err.Error()}, false)
			return
		}
	}
	if q.End.IsZero() {
		q.End = s.now()
	}
	if q.Start.IsZero() {
		q.Start = q.End.Add(-24 * time.Hour)
	}
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	rows, err := s.store.Readings(q.Start, q.End, q.Limit)
	if err != nil {
		s.conn.Reply(m, types.ErrorReply{OK: false, Error: err.Error()}, false)
		return
	}
	out := make([]types.SQMValue, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.SQMValue)
	}
	s.conn.Reply(m, out, false)
}

func (s *Service) prune() {
	n, err := s.store.DeleteOlderThan(s.now().Add(-s.retention))
	if err != nil {
		s.fail("cleanup", err)
		return
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("pruned history")
	}
}

func (s *Service) fail(what string, err error) {
	err = errcode.Wrap(errcode.Error, "history."+what, err)
	s.log.Error().Err(err).Msg("history write failed")
	s.publishState("degraded", what+"_failed", err)
}

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		st.Code = string(errcode.Of(err))
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(TopicState, st, true))
}
