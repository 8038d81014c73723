package config

import (
	"context"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"sqmcode-go/bus"
	"sqmcode-go/errcode"
	"sqmcode-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

// ReadConfigFile allows overriding how the file is read.
var ReadConfigFile = os.ReadFile

var envRef = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:default}.
func expandEnvVars(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(match string) string {
		parts := envRef.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Parse decodes YAML after environment expansion and applies defaults.
func Parse(data []byte) (*types.Config, error) {
	var cfg types.Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "config.parse", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Load reads path, or the built-in defaults when path is empty.
func Load(path string) (*types.Config, error) {
	if path == "" {
		return Parse([]byte(defaultYAML))
	}
	data, err := ReadConfigFile(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Unavailable, "config.load", err)
	}
	return Parse(data)
}

// Sections returns the per-section payloads published on config/<section>.
func Sections(cfg *types.Config) map[string]any {
	return map[string]any{
		"log":       cfg.Log,
		"sensor":    cfg.Sensor,
		"sqm":       cfg.SQM,
		"mqtt":      cfg.MQTT,
		"history":   cfg.History,
		"overlay":   cfg.Overlay,
		"power":     cfg.Power,
		"heartbeat": cfg.Heartbeat,
		"metrics":   cfg.Metrics,
	}
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string

	path   string
	log    zerolog.Logger
	reload chan struct{}
}

func NewConfigService(path string) *ConfigService {
	return &ConfigService{
		Name:   serviceName,
		path:   path,
		log:    log.With().Str("service", serviceName).Logger(),
		reload: make(chan struct{}, 1),
	}
}

// Reload asks the running service to re-read the file. It never blocks.
func (s *ConfigService) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// publishConfig loads the file and publishes each section as a retained message.
func (s *ConfigService) publishConfig(conn *bus.Connection) (*types.Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	for k, v := range Sections(cfg) {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return cfg, nil
}

func (s *ConfigService) publishState(conn *bus.Connection, level, status string, err error) {
	st := types.ServiceState{Level: level, Status: status, TS: time.Now().UnixMilli()}
	if err != nil {
		st.Code = string(errcode.Of(err))
		st.Error = err.Error()
	}
	conn.Publish(conn.NewMessage(bus.T(serviceName, "state"), st, true))
}

// Start publishes the configuration and then serves reload requests until
// ctx is cancelled. The first load error is returned; reload errors keep
// the previous retained sections.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if _, err := s.publishConfig(conn); err != nil {
		s.publishState(conn, "stopped", "load_failed", err)
		return err
	}
	s.publishState(conn, "ready", "loaded", nil)
	s.log.Info().Str("path", s.path).Msg("configuration published")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.reload:
				if _, err := s.publishConfig(conn); err != nil {
					s.log.Error().Err(err).Msg("reload failed, keeping previous configuration")
					s.publishState(conn, "degraded", "reload_failed", err)
					continue
				}
				s.log.Info().Msg("configuration reloaded")
				s.publishState(conn, "ready", "reloaded", nil)
			}
		}
	}()
	return nil
}
