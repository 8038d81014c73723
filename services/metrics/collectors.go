package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"sqmcode-go/types"
)

// collectors groups the exported series. Each Service owns its own set on
// a private registry.
type collectors struct {
	magnitude     prometheus.Gauge
	rawMagnitude  prometheus.Gauge
	channel       *prometheus.GaugeVec
	gain          *prometheus.GaugeVec
	integrationMs prometheus.Gauge
	cycles        *prometheus.CounterVec
	adjustments   prometheus.Counter
	faults        prometheus.Counter
	spikes        prometheus.Counter
	current       prometheus.Gauge
	voltage       prometheus.Gauge
	power         prometheus.Gauge
	serviceUp     *prometheus.GaugeVec
}

func newCollectors() *collectors {
	return &collectors{
		magnitude: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_magnitude_mpsas",
			Help: "Filtered sky brightness in magnitudes per square arc-second.",
		}),
		rawMagnitude: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_raw_magnitude_mpsas",
			Help: "Sky brightness before spike filtering.",
		}),
		channel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sqm_channel_counts",
			Help: "Last raw ADC counts per channel.",
		}, []string{"channel"}),
		gain: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sqm_gain",
			Help: "Active gain level (1 for the current level).",
		}, []string{"gain"}),
		integrationMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_integration_ms",
			Help: "Active integration time in milliseconds.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sqm_cycles_total",
			Help: "Measurement cycles by auto-range outcome.",
		}, []string{"outcome"}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqm_range_adjustments_total",
			Help: "Gain or integration changes made while auto-ranging.",
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqm_register_faults_total",
			Help: "Sensor register I/O failures.",
		}),
		spikes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sqm_spikes_rejected_total",
			Help: "Readings rejected by the spike filter.",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_supply_current_milliamps",
			Help: "Supply current from the INA260.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_supply_voltage_millivolts",
			Help: "Supply voltage from the INA260.",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sqm_supply_power_milliwatts",
			Help: "Supply power from the INA260.",
		}),
		serviceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sqmd_service_up",
			Help: "1 when a service reports a healthy state, 0 otherwise.",
		}, []string{"service"}),
	}
}

func (c *collectors) register(r prometheus.Registerer) {
	r.MustRegister(
		c.magnitude, c.rawMagnitude, c.channel, c.gain, c.integrationMs,
		c.cycles, c.adjustments, c.faults, c.spikes,
		c.current, c.voltage, c.power, c.serviceUp,
	)
}

func (c *collectors) observeValue(v types.SQMValue) {
	c.magnitude.Set(v.Magnitude)
}

func (c *collectors) observeParams(p types.SQMParams) {
	c.rawMagnitude.Set(p.Raw)
	c.channel.WithLabelValues("ch0").Set(float64(p.Channel0))
	c.channel.WithLabelValues("ch1").Set(float64(p.Channel1))
	c.gain.Reset()
	c.gain.WithLabelValues(p.Gain).Set(1)
	c.integrationMs.Set(float64(p.IntegrationMs))
	c.cycles.WithLabelValues(p.Outcome).Inc()
	c.adjustments.Add(float64(p.Adjustments))
	c.faults.Add(float64(p.Faults))
}

func (c *collectors) observePower(p types.PowerValue) {
	c.current.Set(p.CurrentMilliA)
	c.voltage.Set(p.VoltageMilliV)
	c.power.Set(p.PowerMilliW)
}

func healthy(level string) bool {
	switch level {
	case "ready", "up", "idle":
		return true
	}
	return false
}

func (c *collectors) observeState(service string, st types.ServiceState) {
	v := 0.0
	if healthy(st.Level) {
		v = 1
	}
	c.serviceUp.WithLabelValues(service).Set(v)
}
