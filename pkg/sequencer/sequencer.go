package sequencer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hwstress/pkg/hw"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/metrics"
)

var (
	// ErrAlreadyRunning is returned when a sequence is started or a mode is
	// applied while another run is active.
	ErrAlreadyRunning = errors.New("sequence already running")
	// ErrUnknownMode matches every UnknownModeError.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrUnknownSequence is returned for an unregistered sequence name.
	ErrUnknownSequence = errors.New("unknown sequence")
	// ErrInvalidTiming is returned for negative delays.
	ErrInvalidTiming = errors.New("invalid timing")
)

// UnknownModeError names a mode that is not registered.
type UnknownModeError struct {
	Name string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown mode %q", e.Name)
}

// Is makes errors.Is(err, ErrUnknownMode) hold.
func (e *UnknownModeError) Is(target error) bool {
	return target == ErrUnknownMode
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Sequencer) { s.log = log }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithMode registers an extra mode, replacing a built-in of the same name.
func WithMode(m Mode) Option {
	return func(s *Sequencer) { s.modes[m.Name] = m }
}

// WithSequence registers an extra sequence, replacing a built-in of the same name.
func WithSequence(seq Sequence) Option {
	return func(s *Sequencer) { s.sequences[seq.Name] = seq }
}

// Status is a display snapshot of a Sequencer.
type Status struct {
	Function string
	Mode     string
	HasMode  bool
	Timing   Timing
	Pins     map[string]bool
	Running  bool
}

// Sequencer drives relay outputs through timed modes on a background
// goroutine. When the bank cannot supply the mode pins at construction
// every operation degrades to a no-op and Mode never reports a value.
type Sequencer struct {
	log     logrus.FieldLogger
	metrics *metrics.Collector

	modes     map[string]Mode
	sequences map[string]Sequence
	outputs   map[string]hw.OutputPin
	inputs    map[string]hw.InputPin
	available bool

	mu       sync.RWMutex
	mode     string
	hasMode  bool
	pins     map[string]bool
	function string
	timing   Timing
	running  bool

	// runMu serialises Start, ApplyMode and Cancel.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New binds a sequencer to bank.
func New(bank hw.RelayBank, opts ...Option) *Sequencer {
	s := &Sequencer{
		modes:     make(map[string]Mode),
		sequences: make(map[string]Sequence),
		outputs:   make(map[string]hw.OutputPin),
		inputs:    make(map[string]hw.InputPin),
		pins:      make(map[string]bool),
	}
	for _, m := range BuiltinModes() {
		s.modes[m.Name] = m
	}
	for _, seq := range BuiltinSequences() {
		s.sequences[seq.Name] = seq
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.WithField("component", "sequencer")

	for _, name := range MonitoredPins {
		s.pins[name] = false
	}

	s.available = s.acquire(bank)
	return s
}

// acquire looks up every pin a mode drives. Input pins are optional.
func (s *Sequencer) acquire(bank hw.RelayBank) bool {
	required := make(map[string]struct{})
	for _, m := range s.modes {
		for _, pv := range m.Pins {
			required[pv.Pin] = struct{}{}
		}
	}
	for _, name := range MonitoredPins {
		required[name] = struct{}{}
	}

	for name := range required {
		pin, err := bank.OutputPin(name)
		if err != nil {
			s.log.WithError(err).WithField("pin", name).Error("Relay bank unavailable")
			s.outputs = map[string]hw.OutputPin{}
			return false
		}
		s.outputs[name] = pin
	}

	for _, name := range []string{hw.PinTLS, hw.PinPanelPower} {
		pin, err := bank.InputPin(name)
		if err != nil {
			s.log.WithError(err).WithField("pin", name).Debug("Input not available")
			continue
		}
		s.inputs[name] = pin
	}
	return true
}

// Available reports whether the relay bank was opened.
func (s *Sequencer) Available() bool {
	return s.available
}

// Sequences returns the registered sequence names, sorted.
func (s *Sequencer) Sequences() []string {
	names := make([]string, 0, len(s.sequences))
	for name := range s.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sequence returns a registered sequence.
func (s *Sequencer) Sequence(name string) (Sequence, bool) {
	seq, ok := s.sequences[name]
	return seq, ok
}

// RunCycle starts run, rest, 6x (purge, burp), rest.
func (s *Sequencer) RunCycle(t Timing) error {
	return s.Start(SequenceRunCycle, t)
}

// FunctionalityTest starts 5x (run, purge), rest.
func (s *Sequencer) FunctionalityTest(t Timing) error {
	return s.Start(SequenceFunctionalityTest, t)
}

// TestMode starts 2x (run, rest), purge, bleed.
func (s *Sequencer) TestMode(t Timing) error {
	return s.Start(SequenceTestMode, t)
}

// LeakTest starts leak.
func (s *Sequencer) LeakTest(t Timing) error {
	return s.Start(SequenceLeakTest, t)
}

// Start runs the named sequence on a new goroutine and returns at once.
// A previous run that finished by itself is reaped; one still active yields
// ErrAlreadyRunning.
func (s *Sequencer) Start(name string, t Timing) error {
	seq, ok := s.sequences[name]
	if !ok {
		return errors.Wrapf(ErrUnknownSequence, "%q", name)
	}
	if err := t.validate(); err != nil {
		return err
	}
	for _, m := range seq.Modes {
		if _, ok := s.modes[m]; !ok {
			return &UnknownModeError{Name: m}
		}
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			s.cancel()
			s.cancel, s.done = nil, nil
		default:
			return ErrAlreadyRunning
		}
	}

	s.mu.Lock()
	s.function = seq.Function
	s.timing = t
	s.mode, s.hasMode = "", false
	s.mu.Unlock()

	if !s.available {
		s.log.WithField("sequence", name).Warn("Relay bank unavailable, sequence not started")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.metrics.SequencerRunning(true)
	s.log.WithFields(logrus.Fields{
		"sequence":    name,
		"pin_delay":   t.PinDelay,
		"cycle_delay": t.CycleDelay,
	}).Info("Sequence started")

	go s.run(ctx, seq, t, s.done)
	return nil
}

func (s *Sequencer) run(ctx context.Context, seq Sequence, t Timing, done chan struct{}) {
	defer close(done)

	for _, name := range seq.Modes {
		if err := s.apply(ctx, name, t.PinDelay); err != nil {
			break
		}
		if t.CycleDelay > 0 && !sleep(ctx, t.CycleDelay) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancelled := ctx.Err() != nil

	// Outputs always end at rest, cancelled or not.
	s.apply(context.Background(), ModeRest, 0)

	s.mu.Lock()
	s.mode = ModeComplete
	s.hasMode = true
	s.running = false
	s.mu.Unlock()

	s.metrics.SequencerRunning(false)
	s.log.WithFields(logrus.Fields{
		"sequence":  seq.Name,
		"cancelled": cancelled,
	}).Info("Sequence complete")
}

// ApplyMode applies one mode synchronously on the caller's goroutine. It
// fails with ErrAlreadyRunning while a sequence is active.
func (s *Sequencer) ApplyMode(ctx context.Context, name string, pinDelay time.Duration) error {
	if pinDelay < 0 {
		return errors.Wrapf(ErrInvalidTiming, "pin delay %v", pinDelay)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrAlreadyRunning
		}
	}
	return s.apply(ctx, name, pinDelay)
}

// apply writes the pins of mode name in order, waiting pinDelay between
// writes. Cancellation is checked before every write; a cancelled apply
// returns the context error with the remaining pins untouched. Write
// failures are logged and skipped.
func (s *Sequencer) apply(ctx context.Context, name string, pinDelay time.Duration) error {
	m, ok := s.modes[name]
	if !ok {
		return &UnknownModeError{Name: name}
	}
	if !s.available {
		return nil
	}

	for i, pv := range m.Pins {
		if i > 0 && pinDelay > 0 && !sleep(ctx, pinDelay) {
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.outputs[pv.Pin].Set(pv.Value)
		s.metrics.PinWrite(err == nil)

		s.mu.Lock()
		if err == nil {
			s.pins[pv.Pin] = pv.Value
		}
		if i == 0 {
			s.mode = name
			s.hasMode = true
		}
		s.mu.Unlock()

		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"mode": name,
				"pin":  pv.Pin,
			}).Warn("Pin write failed")
		}
	}

	s.metrics.Mode(name)
	s.log.WithField("mode", name).Debug("Mode applied")
	return nil
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Cancel stops the active run, waits for outputs to reach rest and clears
// the run state. It is a no-op when nothing runs and must not be called
// from the sequence goroutine.
func (s *Sequencer) Cancel() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// Done returns a channel closed when the current run has finished. With no
// run the channel is already closed.
func (s *Sequencer) Done() <-chan struct{} {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Mode returns the current mode, ModeComplete after a run, and false until
// the latest run has set its first pin.
func (s *Sequencer) Mode() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.hasMode
}

// PinValues returns the last written level of each monitored output.
func (s *Sequencer) PinValues() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(MonitoredPins))
	for _, name := range MonitoredPins {
		out[name] = s.pins[name]
	}
	return out
}

// InputValues reads every available input pin. It blocks on the bus.
func (s *Sequencer) InputValues() (map[string]bool, error) {
	out := make(map[string]bool, len(s.inputs))
	for name, pin := range s.inputs {
		v, err := pin.Get()
		if err != nil {
			return nil, errors.Wrapf(err, "read input %s", name)
		}
		out[name] = v
	}
	return out, nil
}

// Status returns a snapshot for display.
func (s *Sequencer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pins := make(map[string]bool, len(MonitoredPins))
	for _, name := range MonitoredPins {
		pins[name] = s.pins[name]
	}
	return Status{
		Function: s.function,
		Mode:     s.mode,
		HasMode:  s.hasMode,
		Timing:   s.timing,
		Pins:     pins,
		Running:  s.running,
	}
}
