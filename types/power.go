package types

// ------------------------
// Supply monitor (ina260)
// ------------------------

type PowerInfo struct {
	Sensor string `json:"sensor"`
	Bus    int    `json:"bus"`
	Addr   uint16 `json:"addr"`
}

// Retained value: power/value
type PowerValue struct {
	CurrentMilliA float64 `json:"current_mA"`
	VoltageMilliV float64 `json:"voltage_mV"`
	PowerMilliW   float64 `json:"power_mW"`
	TS            int64   `json:"ts_ms"`
}
