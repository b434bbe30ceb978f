package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector instruments the sampler, sequencer and stress runners. A nil
// *Collector is valid and records nothing.
type Collector struct {
	samples          prometheus.Counter
	sampleFailures   prometheus.Counter
	pinWrites        prometheus.Counter
	pinWriteFailures prometheus.Counter
	modeTransitions  *prometheus.CounterVec
	missed           prometheus.Gauge
	samplerRunning   prometheus.Gauge
	sequencerRunning prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to read values directly.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hwstress_samples_total",
			Help: "Successful ADC readings taken by the sampler.",
		}),
		sampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hwstress_sample_failures_total",
			Help: "ADC readings that returned the failure marker.",
		}),
		pinWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hwstress_pin_writes_total",
			Help: "Relay output writes issued by the sequencer.",
		}),
		pinWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hwstress_pin_write_failures_total",
			Help: "Relay output writes that failed.",
		}),
		modeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hwstress_mode_transitions_total",
			Help: "Modes applied by the sequencer.",
		}, []string{"mode"}),
		missed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hwstress_missed_samples",
			Help: "Missed samples reported at the last refresh tick.",
		}),
		samplerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hwstress_sampler_running",
			Help: "1 while a sampling loop is active.",
		}),
		sequencerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hwstress_sequencer_running",
			Help: "1 while a relay sequence is active.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.samples,
			c.sampleFailures,
			c.pinWrites,
			c.pinWriteFailures,
			c.modeTransitions,
			c.missed,
			c.samplerRunning,
			c.sequencerRunning,
		)
	}
	return c
}

func (c *Collector) Sample(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.samples.Inc()
	} else {
		c.sampleFailures.Inc()
	}
}

func (c *Collector) PinWrite(ok bool) {
	if c == nil {
		return
	}
	c.pinWrites.Inc()
	if !ok {
		c.pinWriteFailures.Inc()
	}
}

func (c *Collector) Mode(name string) {
	if c == nil {
		return
	}
	c.modeTransitions.WithLabelValues(name).Inc()
}

func (c *Collector) Missed(n int) {
	if c == nil {
		return
	}
	c.missed.Set(float64(n))
}

func (c *Collector) SamplerRunning(running bool) {
	if c == nil {
		return
	}
	c.samplerRunning.Set(boolToFloat(running))
}

func (c *Collector) SequencerRunning(running bool) {
	if c == nil {
		return
	}
	c.sequencerRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
