package stress

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/hwstress/pkg/accounting"
	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/metrics"
	"github.com/itohio/hwstress/pkg/sampler"
)

// ADCTick is what the ADC test shows on every refresh.
type ADCTick struct {
	Requests int
	Count    int
	Latest   sampler.Sample
	Held     []float64
	Elapsed  time.Duration
	Report   accounting.Report
}

// ADCRunner drives one sampling test.
type ADCRunner struct {
	sampler *sampler.Sampler
	cfg     config.ADCTestConfig
	log     logrus.FieldLogger
	metrics *metrics.Collector
	onTick  func(ADCTick)
}

// ADCOption configures an ADCRunner.
type ADCOption func(*ADCRunner)

// WithADCLogger sets the logger.
func WithADCLogger(log logrus.FieldLogger) ADCOption {
	return func(r *ADCRunner) { r.log = log }
}

// WithADCMetrics sets the metrics collector.
func WithADCMetrics(m *metrics.Collector) ADCOption {
	return func(r *ADCRunner) { r.metrics = m }
}

// OnADCTick registers a callback invoked on the polling goroutine once per
// refresh.
func OnADCTick(fn func(ADCTick)) ADCOption {
	return func(r *ADCRunner) { r.onTick = fn }
}

// NewADCRunner binds a runner to s.
func NewADCRunner(s *sampler.Sampler, cfg config.ADCTestConfig, opts ...ADCOption) *ADCRunner {
	r := &ADCRunner{sampler: s, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logging.Discard()
	}
	r.log = r.log.WithField("component", "adc_test")
	return r
}

// Run samples until ctx is done, cfg.Duration elapses, or a failed reading
// is observed. Only usage errors from starting the sampler are returned.
func (r *ADCRunner) Run(ctx context.Context) (ADCResult, error) {
	if err := r.sampler.Start(r.cfg.Interval()); err != nil {
		return ADCResult{}, err
	}
	r.log.WithFields(logrus.Fields{
		"requests": r.cfg.Requests,
		"period":   r.cfg.Period,
		"interval": r.cfg.Interval(),
	}).Info("ADC test started")

	var deadline <-chan time.Time
	if r.cfg.Duration > 0 {
		timer := time.NewTimer(r.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(refreshOrDefault(r.cfg.Refresh))
	defer ticker.Stop()

	status := BusOK
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			tick := r.tick()
			if r.onTick != nil {
				r.onTick(tick)
			}
			// A failure marker with no read error yet means the first
			// reading is still in flight.
			if tick.Latest.Failed() && r.sampler.LastError() != nil {
				status = BusFailed
				break loop
			}
		}
	}

	count := r.sampler.Stop()
	duration := r.sampler.Duration()
	report := accounting.Reconcile(duration, r.cfg.Period, r.cfg.Requests, count)
	r.metrics.Missed(report.Missed)

	res := ADCResult{
		Requests: report.Expected,
		Received: count,
		Missed:   report.Missed,
		Duration: duration,
		Status:   status,
	}
	if status == BusFailed {
		res.Err = r.sampler.LastError()
		r.log.WithError(res.Err).WithField("count", count).Error("ADC test failed")
	} else {
		r.log.WithField("count", count).Info("ADC test finished")
	}
	return res, nil
}

// tick takes exactly one snapshot of the sampler.
func (r *ADCRunner) tick() ADCTick {
	latest, count := r.sampler.Snapshot()
	elapsed := r.sampler.Elapsed()
	report := accounting.Reconcile(elapsed, r.cfg.Period, r.cfg.Requests, count)
	r.metrics.Missed(report.Missed)

	return ADCTick{
		Requests: r.cfg.Requests,
		Count:    count,
		Latest:   latest,
		Held:     r.sampler.Held(),
		Elapsed:  elapsed,
		Report:   report,
	}
}
