package types

import "time"

// Retained value: sqm/value
type SQMValue struct {
	Magnitude     float64   `json:"magnitude"`
	Gain          string    `json:"gain"`
	IntegrationMs int       `json:"integration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Retained diagnostics: sqm/params
type SQMParams struct {
	Gain          string    `json:"gain"`
	IntegrationMs int       `json:"integration_time_ms"`
	Timestamp     time.Time `json:"timestamp"`
	M0            float64   `json:"config_M0"`
	GA            float64   `json:"config_GA"`
	Channel0      uint16    `json:"ch0"`
	Channel1      uint16    `json:"ch1"`
	FluxFull      float64   `json:"flux_full"`
	FluxIR        float64   `json:"flux_ir"`
	Raw           float64   `json:"raw_magnitude"` // before filtering
	DarkLimit     bool      `json:"dark_limit"`
	Outcome       string    `json:"outcome"` // in_band | too_bright | too_dark | exhausted
	Adjustments   int       `json:"adjustments"`
	Faults        int       `json:"faults"`
	ReadFaults    int       `json:"read_faults"`
	Averaged      int       `json:"averaged"`
	Window        int       `json:"window"`
}

// Event: sqm/event/spike
type SpikeEvent struct {
	Rejected     float64   `json:"rejected"`
	Delta        float64   `json:"delta"`
	LastAccepted float64   `json:"last_accepted"`
	MaxChange    float64   `json:"max_change"`
	Timestamp    time.Time `json:"timestamp"`
}

// Control: sqm/control/read_now
type ReadNow struct{}

// SQMConfigPatch is a partial runtime update. Nil means "leave as-is".
// Field names follow the remote JSON payload {"M0", "GA", "interval", ...}.
type SQMConfigPatch struct {
	M0               *float64 `json:"M0,omitempty"`
	GA               *float64 `json:"GA,omitempty"`
	Interval         *float64 `json:"interval,omitempty"`
	FilterWindowSize *int     `json:"filter_window_size,omitempty"`
	FilterMaxChange  *float64 `json:"filter_max_change,omitempty"`
}

func (p SQMConfigPatch) Empty() bool {
	return p.M0 == nil && p.GA == nil && p.Interval == nil &&
		p.FilterWindowSize == nil && p.FilterMaxChange == nil
}

// Apply returns c with the patch fields applied.
func (p SQMConfigPatch) Apply(c SQMConfig) SQMConfig {
	if p.M0 != nil {
		c.M0 = *p.M0
	}
	if p.GA != nil {
		c.GA = *p.GA
	}
	if p.Interval != nil {
		c.MeasureIntervalSeconds = *p.Interval
	}
	if p.FilterWindowSize != nil {
		c.FilterWindowSize = *p.FilterWindowSize
	}
	if p.FilterMaxChange != nil {
		c.FilterMaxChange = *p.FilterMaxChange
	}
	return c
}
