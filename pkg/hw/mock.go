package hw

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/itohio/hwstress/pkg/config"
)

// MockSource simulates an ADC for testing and development.
type MockSource struct {
	cfg *config.MockConfig

	mu        sync.Mutex
	startTime time.Time
	reads     int
	failNext  int
	failAll   bool
	valueFunc func(n int) float64
}

var _ SampleSource = (*MockSource)(nil)

// NewMockSource creates a simulated ADC. A nil config selects a quiet
// 10.4 bias with no read latency.
func NewMockSource(cfg *config.MockConfig) *MockSource {
	if cfg == nil {
		cfg = &config.MockConfig{
			Bias:       10.4,
			NoiseLevel: 0,
		}
	}
	return &MockSource{
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// NewConstantSource returns a mock that always reads value.
func NewConstantSource(value float64) *MockSource {
	m := NewMockSource(nil)
	m.valueFunc = func(int) float64 { return value }
	return m
}

// SetValueFunc overrides the simulated signal. f receives the read index.
func (m *MockSource) SetValueFunc(f func(n int) float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valueFunc = f
}

// FailNext makes the next n reads fail with ErrTransientIO.
func (m *MockSource) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailAll makes every read fail until cleared.
func (m *MockSource) FailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// Reads returns the number of Read calls, failed ones included.
func (m *MockSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Read returns the next simulated value.
func (m *MockSource) Read() (float64, error) {
	if m.cfg.ReadLatency > 0 {
		time.Sleep(m.cfg.ReadLatency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.reads
	m.reads++

	if m.failAll {
		return 0, errors.Wrap(ErrTransientIO, "mock read")
	}
	if m.failNext > 0 {
		m.failNext--
		return 0, errors.Wrap(ErrTransientIO, "mock read")
	}

	if m.valueFunc != nil {
		return m.valueFunc(n), nil
	}

	elapsed := time.Since(m.startTime)
	noise := (math.Sin(float64(elapsed.Nanoseconds())*0.001) +
		math.Cos(float64(elapsed.Nanoseconds())*0.0013)) *
		m.cfg.NoiseLevel * 0.5
	return m.cfg.Bias + noise, nil
}

// MockBank simulates a relay expander. Output writes are recorded in order.
type MockBank struct {
	mu       sync.Mutex
	outputs  map[string]bool
	inputs   map[string]bool
	writes   []PinWrite
	failPins map[string]bool
	latency  time.Duration
}

// PinWrite is one recorded output write.
type PinWrite struct {
	Pin   string
	Value bool
}

var _ RelayBank = (*MockBank)(nil)

// NewMockBank creates a bank exposing the given pin names. Empty lists select
// the default relay board pins.
func NewMockBank(outputs, inputs []string) *MockBank {
	if len(outputs) == 0 {
		for name := range DefaultOutputPins {
			outputs = append(outputs, name)
		}
	}
	if len(inputs) == 0 {
		for name := range DefaultInputPins {
			inputs = append(inputs, name)
		}
	}

	b := &MockBank{
		outputs:  make(map[string]bool, len(outputs)),
		inputs:   make(map[string]bool, len(inputs)),
		failPins: make(map[string]bool),
	}
	for _, name := range outputs {
		b.outputs[name] = false
	}
	for _, name := range inputs {
		b.inputs[name] = false
	}
	return b
}

// SetLatency delays every pin write by d.
func (b *MockBank) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// FailPin makes writes to name fail with ErrTransientIO.
func (b *MockBank) FailPin(name string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPins[name] = fail
}

// SetInput sets the simulated level of an input pin.
func (b *MockBank) SetInput(name string, value bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs[name] = value
}

// Output returns the current level of an output pin.
func (b *MockBank) Output(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs[name]
}

// Writes returns a copy of all recorded writes.
func (b *MockBank) Writes() []PinWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PinWrite, len(b.writes))
	copy(out, b.writes)
	return out
}

// OutputPin returns a handle to the named output.
func (b *MockBank) OutputPin(name string) (OutputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.outputs[name]; !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "output %q", name)
	}
	return &mockOutput{bank: b, name: name}, nil
}

// InputPin returns a handle to the named input.
func (b *MockBank) InputPin(name string) (InputPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inputs[name]; !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "input %q", name)
	}
	return &mockInput{bank: b, name: name}, nil
}

type mockOutput struct {
	bank *MockBank
	name string
}

func (o *mockOutput) Set(value bool) error {
	o.bank.mu.Lock()
	latency := o.bank.latency
	o.bank.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	o.bank.mu.Lock()
	defer o.bank.mu.Unlock()
	if o.bank.failPins[o.name] {
		return errors.Wrapf(ErrTransientIO, "mock write %s", o.name)
	}
	o.bank.outputs[o.name] = value
	o.bank.writes = append(o.bank.writes, PinWrite{Pin: o.name, Value: value})
	return nil
}

type mockInput struct {
	bank *MockBank
	name string
}

func (i *mockInput) Get() (bool, error) {
	i.bank.mu.Lock()
	defer i.bank.mu.Unlock()
	return i.bank.inputs[i.name], nil
}
