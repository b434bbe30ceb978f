package sampler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hwstress/pkg/hw"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/metrics"
)

var (
	// ErrAlreadyRunning is returned by Start while a loop is active.
	ErrAlreadyRunning = errors.New("sampler already running")
	// ErrInvalidInterval is returned by Start for a non-positive interval.
	ErrInvalidInterval = errors.New("sampling interval must be positive")
)

// Sample is one reading. The zero value is the failure marker.
type Sample struct {
	Value     float64
	Timestamp time.Time
	OK        bool
}

// Failure is the marker stored when a read fails or nothing was sampled yet.
var Failure = Sample{}

// Failed reports whether s is the failure marker.
func (s Sample) Failed() bool {
	return !s.OK
}

// String formats the value with two decimals, or "ERR" for the failure marker.
func (s Sample) String() string {
	if !s.OK {
		return "ERR"
	}
	return strconv.FormatFloat(s.Value, 'f', 2, 64)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Sampler) { s.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithHeld keeps the last n successful readings for Held and Summary.
func WithHeld(n int) Option {
	return func(s *Sampler) { s.held = n }
}

// WithLimit ends the loop by itself after n successful readings. 0 means
// run until stopped.
func WithLimit(n int) Option {
	return func(s *Sampler) { s.limit = n }
}

// Sampler reads a SampleSource at a fixed interval on its own goroutine.
// Pollers read snapshots through the accessors without blocking the loop.
type Sampler struct {
	src     hw.SampleSource
	log     logrus.FieldLogger
	metrics *metrics.Collector
	held    int
	limit   int

	mu       sync.RWMutex
	latest   Sample
	count    int
	window   *Window
	lastErr  error
	start    time.Time
	end      time.Time
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sampler over src.
func New(src hw.SampleSource, opts ...Option) *Sampler {
	s := &Sampler{
		src:  src,
		held: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.WithField("component", "sampler")
	s.window = NewWindow(s.held)
	return s
}

// Start begins sampling every interval.
func (s *Sampler) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.Wrapf(ErrInvalidInterval, "got %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.latest = Failure
	s.count = 0
	s.lastErr = nil
	s.window.Reset()
	s.interval = interval
	s.start = time.Now()
	s.end = time.Time{}

	s.metrics.SamplerRunning(true)
	s.log.WithField("interval", interval).Info("Sampling started")

	go s.run(ctx, interval, s.done)
	return nil
}

func (s *Sampler) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.end = time.Now()
		s.mu.Unlock()
		s.metrics.SamplerRunning(false)
	}()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	failing := false
	for {
		if ctx.Err() != nil {
			return
		}

		value, err := s.src.Read()
		now := time.Now()

		s.mu.Lock()
		if err != nil {
			s.latest = Failure
			s.lastErr = err
		} else {
			s.count++
			s.latest = Sample{Value: value, Timestamp: now, OK: true}
			s.window.Add(value)
		}
		count := s.count
		s.mu.Unlock()

		s.metrics.Sample(err == nil)
		if err != nil && !failing {
			s.log.WithError(err).WithField("count", count).Warn("Read failed")
		} else if err == nil && failing {
			s.log.WithField("count", count).Info("Reads recovered")
		}
		failing = err != nil

		if s.limit > 0 && count >= s.limit {
			s.log.WithField("count", count).Debug("Sample limit reached")
			return
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Stop ends the loop, waits for it to exit and returns the final count.
// Stop on an idle sampler returns 0. It must not be called from the loop.
func (s *Sampler) Stop() int {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return 0
	}

	cancel()
	<-done

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.log.WithField("count", s.count).WithField("duration", s.end.Sub(s.start)).Info("Sampling stopped")
	return s.count
}

// Running reports whether a loop has been started and not yet stopped.
func (s *Sampler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done != nil
}

// Latest returns the most recent reading, or Failure.
func (s *Sampler) Latest() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Count returns the number of successful readings so far.
func (s *Sampler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Snapshot returns the latest reading and count taken together.
func (s *Sampler) Snapshot() (Sample, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.count
}

// LastError returns the error behind the most recent failed read.
func (s *Sampler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Interval returns the interval of the current or last session.
func (s *Sampler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Elapsed returns the time since Start, or the session length once the loop
// has exited.
func (s *Sampler) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.start.IsZero() {
		return 0
	}
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Duration returns end minus start once both are recorded, else 0.
func (s *Sampler) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.start.IsZero() || s.end.IsZero() {
		return 0
	}
	return s.end.Sub(s.start)
}

// Held returns the retained readings, oldest first.
func (s *Sampler) Held() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Values()
}

// Summary returns statistics over the retained readings.
func (s *Sampler) Summary() (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Summary()
}
