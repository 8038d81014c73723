package bridge

import (
	"sqmcode-go/types"
)

type discovery struct {
	topic   string
	payload map[string]any
}

// discoveryConfigs builds Home Assistant MQTT discovery payloads for the
// sky brightness reading and the supply monitor.
func discoveryConfigs(cfg types.MQTTConfig) []discovery {
	dev := map[string]any{
		"identifiers":  []string{cfg.DeviceName},
		"name":         cfg.DeviceName,
		"model":        "TSL2591 SQM",
		"manufacturer": "sqmcode",
	}
	avail := availabilityTopic(cfg)

	sensor := func(key, name, state, unit, tmpl, icon string) discovery {
		p := map[string]any{
			"name":               name,
			"unique_id":          cfg.DeviceName + "_" + key,
			"state_topic":        state,
			"availability_topic": avail,
			"device":             dev,
		}
		if unit != "" {
			p["unit_of_measurement"] = unit
			p["state_class"] = "measurement"
		}
		if tmpl != "" {
			p["value_template"] = tmpl
		}
		if icon != "" {
			p["icon"] = icon
		}
		return discovery{
			topic:   cfg.DiscoveryPrefix + "/sensor/" + cfg.DeviceName + "/" + key + "/config",
			payload: p,
		}
	}

	out := []discovery{
		sensor("mpsas", "Sky Brightness", cfg.TopicValue, "mag/arcsec²", "", "mdi:weather-night"),
	}
	if cfg.TopicParams != "" {
		out = append(out,
			sensor("gain", "SQM Gain", cfg.TopicParams, "", "{{ value_json.gain }}", "mdi:tune"),
			sensor("integration", "SQM Integration", cfg.TopicParams, "ms", "{{ value_json.integration_time_ms }}", "mdi:timer-outline"),
		)
	}
	if cfg.TopicPower != "" {
		out = append(out,
			sensor("current", "SQM Current", cfg.TopicPower, "mA", "{{ value_json.current_mA }}", ""),
			sensor("voltage", "SQM Voltage", cfg.TopicPower, "mV", "{{ value_json.voltage_mV }}", ""),
			sensor("power", "SQM Power", cfg.TopicPower, "mW", "{{ value_json.power_mW }}", ""),
		)
	}
	return out
}
