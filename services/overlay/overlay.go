// Package overlay keeps a small JSON file with the latest reading for
// all-sky camera overlays: {"AS_MPSAS": 21.34}.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sqmcode-go/bus"
	"sqmcode-go/errcode"
	"sqmcode-go/types"
	"sqmcode-go/x/timex"
)

const serviceName = "overlay"

var (
	topicSQMValue = bus.T("sqm", "value")
	TopicState    = bus.T(serviceName, "state")
)

type file struct {
	MPSAS json.Number `json:"AS_MPSAS"`
}

// Write replaces path with the overlay document for magnitude m. Missing
// parent directories are created and the file is swapped in by rename.
func Write(path string, m float64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("overlay: create %s: %w", dir, err)
	}
	b, err := json.Marshal(file{MPSAS: json.Number(strconv.FormatFloat(m, 'f', 2, 64))})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".overlay-*")
	if err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("overlay: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("overlay: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

type Service struct {
	conn *bus.Connection
	path string
	log  zerolog.Logger
}

func New(conn *bus.Connection, cfg types.OverlayConfig) *Service {
	return &Service{
		conn: conn,
		path: cfg.Path,
		log:  log.With().Str("service", serviceName).Logger(),
	}
}

// Run rewrites the file on every sqm/value until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	vals := s.conn.Subscribe(topicSQMValue)
	defer s.conn.Unsubscribe(vals)

	s.publishState("ready", "waiting_for_value", nil)
	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-vals.Channel():
			v, ok := m.Payload.(types.SQMValue)
			if !ok {
				continue
			}
			if err := Write(s.path, v.Magnitude); err != nil {
				if !failing {
					s.log.Error().Err(err).Str("path", s.path).Msg("overlay write failed")
					s.publishState("degraded", "write_failed", errcode.Wrap(errcode.Error, "overlay.write", err))
				}
				failing = true
				continue
			}
			if failing {
				s.publishState("ready", "writing", nil)
			}
			failing = false
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
