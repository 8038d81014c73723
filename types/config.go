package types

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file. Each section is published
// retained on config/<section>.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Sensor    SensorConfig    `yaml:"sensor"`
	SQM       SQMConfig       `yaml:"sqm"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	History   HistoryConfig   `yaml:"history"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Power     PowerConfig     `yaml:"power"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	JSON   bool   `yaml:"json" json:"json"`
	Colors bool   `yaml:"colors" json:"colors"`
}

// SensorConfig selects the TSL2591 and its auto-range bounds.
type SensorConfig struct {
	Bus           int      `yaml:"bus" json:"bus"` // /dev/i2c-N
	Address       uint16   `yaml:"address" json:"address"`
	Gain          string   `yaml:"gain" json:"gain"` // low | med | high | max
	IntegrationMs int      `yaml:"integration_ms" json:"integration_ms"`
	HighThreshold uint16   `yaml:"high_threshold" json:"high_threshold"`
	LowThreshold  uint16   `yaml:"low_threshold" json:"low_threshold"`
	MaxAttempts   int      `yaml:"max_attempts" json:"max_attempts"`
	SettleMargin  Duration `yaml:"settle_margin" json:"settle_margin"`
	SkipIDCheck   bool     `yaml:"skip_id_check" json:"skip_id_check"`
}

// SQMConfig holds the calibration and cycle parameters. It is replaced as a
// whole between cycles; see SQMConfigPatch for partial updates.
type SQMConfig struct {
	M0                     float64 `yaml:"m0" json:"M0"`
	GA                     float64 `yaml:"ga" json:"GA"`
	MeasureIntervalSeconds float64 `yaml:"measure_interval_seconds" json:"interval"`
	FilterWindowSize       int     `yaml:"filter_window_size" json:"filter_window_size"`
	FilterMaxChange        float64 `yaml:"filter_max_change" json:"filter_max_change"`
	LowLightMaxReads       int     `yaml:"low_light_max_reads" json:"low_light_max_reads"`
	LowLightMinCounts      int     `yaml:"low_light_min_counts" json:"low_light_min_counts"`
	DarkLimit              float64 `yaml:"dark_limit" json:"dark_limit"`
}

// Interval returns the measurement period.
func (c SQMConfig) Interval() time.Duration {
	return time.Duration(c.MeasureIntervalSeconds * float64(time.Second))
}

type MQTTConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Broker          string   `yaml:"broker" json:"broker"`
	ClientID        string   `yaml:"client_id" json:"client_id"`
	Username        string   `yaml:"username" json:"username"`
	Password        string   `yaml:"password" json:"-"`
	QoS             byte     `yaml:"qos" json:"qos"`
	KeepAlive       Duration `yaml:"keep_alive" json:"keep_alive"`
	ConnectTimeout  Duration `yaml:"connect_timeout" json:"connect_timeout"`
	TopicValue      string   `yaml:"topic_value" json:"topic_value"`
	TopicParams     string   `yaml:"topic_params" json:"topic_params"`
	TopicControl    string   `yaml:"topic_control" json:"topic_control"`
	TopicPower      string   `yaml:"topic_power" json:"topic_power"`
	Discovery       bool     `yaml:"discovery" json:"discovery"`
	DiscoveryPrefix string   `yaml:"discovery_prefix" json:"discovery_prefix"`
	DeviceName      string   `yaml:"device_name" json:"device_name"`
}

type HistoryConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Path            string   `yaml:"path" json:"path"`
	RetentionDays   int      `yaml:"retention_days" json:"retention_days"`
	CleanupInterval Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type OverlayConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type PowerConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Bus      int      `yaml:"bus" json:"bus"`
	Address  uint16   `yaml:"address" json:"address"`
	Interval Duration `yaml:"interval" json:"interval"`
}

type HeartbeatConfig struct {
	Interval Duration `yaml:"interval" json:"interval"`
	// Watchdog exits the process when no sqm/value arrives within this
	// period. Zero disables it.
	Watchdog Duration `yaml:"watchdog" json:"watchdog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML accepts "10s" style strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }
