package config

import (
	"time"

	"sqmcode-go/types"
)

// defaultYAML is used when no configuration path is given.
const defaultYAML = `
log:
  level: ${SQM_LOG_LEVEL:info}
sensor:
  bus: 1
  gain: med
  integration_ms: 200
sqm:
  m0: -16.07
  ga: 25.55
  measure_interval_seconds: 10
  filter_window_size: 5
  filter_max_change: 3.0
mqtt:
  enabled: ${SQM_MQTT_ENABLED:false}
  broker: ${SQM_MQTT_BROKER:tcp://localhost:1883}
overlay:
  enabled: false
  path: /home/pi/allsky/config/overlay/extra/allskytsl2591SQM.json
heartbeat:
  interval: 30s
`

// applyDefaults fills zero values after load.
func applyDefaults(cfg *types.Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Sensor
	if cfg.Sensor.Gain == "" {
		cfg.Sensor.Gain = "med"
	}
	if cfg.Sensor.IntegrationMs == 0 {
		cfg.Sensor.IntegrationMs = 200
	}
	if cfg.Sensor.Address == 0 {
		cfg.Sensor.Address = 0x29
	}
	if cfg.Sensor.HighThreshold == 0 {
		cfg.Sensor.HighThreshold = 0xFFE0
	}
	if cfg.Sensor.LowThreshold == 0 {
		cfg.Sensor.LowThreshold = 0x0010
	}
	if cfg.Sensor.MaxAttempts == 0 {
		cfg.Sensor.MaxAttempts = 15
	}
	if cfg.Sensor.SettleMargin == 0 {
		cfg.Sensor.SettleMargin = types.Duration(120 * time.Millisecond)
	}

	// SQM. M0 and GA have no neutral zero so they are only defaulted together.
	if cfg.SQM.M0 == 0 && cfg.SQM.GA == 0 {
		cfg.SQM.M0 = -16.07
		cfg.SQM.GA = 25.55
	}
	if cfg.SQM.MeasureIntervalSeconds == 0 {
		cfg.SQM.MeasureIntervalSeconds = 10
	}
	if cfg.SQM.FilterWindowSize == 0 {
		cfg.SQM.FilterWindowSize = 5
	}
	if cfg.SQM.FilterMaxChange == 0 {
		cfg.SQM.FilterMaxChange = 3.0
	}
	if cfg.SQM.LowLightMinCounts == 0 {
		cfg.SQM.LowLightMinCounts = 128
	}
	if cfg.SQM.DarkLimit == 0 {
		cfg.SQM.DarkLimit = 25.0
	}

	// MQTT, topics as deployed on the original meter.
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "sqmd"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = types.Duration(60 * time.Second)
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = types.Duration(10 * time.Second)
	}
	if cfg.MQTT.TopicValue == "" {
		cfg.MQTT.TopicValue = "Test/SQM"
	}
	if cfg.MQTT.TopicParams == "" {
		cfg.MQTT.TopicParams = "Test/SQM/Params"
	}
	if cfg.MQTT.TopicControl == "" {
		cfg.MQTT.TopicControl = "Test/SQM/sub"
	}
	if cfg.MQTT.TopicPower == "" {
		cfg.MQTT.TopicPower = "Test/SQM/Power"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.MQTT.DeviceName == "" {
		cfg.MQTT.DeviceName = "sqmmeter"
	}

	// History
	if cfg.History.Path == "" {
		cfg.History.Path = "./sqm.sqlite"
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}
	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = types.Duration(24 * time.Hour)
	}

	// Power
	if cfg.Power.Bus == 0 {
		cfg.Power.Bus = cfg.Sensor.Bus
	}
	if cfg.Power.Address == 0 {
		cfg.Power.Address = 0x40
	}
	if cfg.Power.Interval == 0 {
		cfg.Power.Interval = types.Duration(10 * time.Second)
	}

	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = types.Duration(30 * time.Second)
	}

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}
