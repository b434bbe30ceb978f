package hw

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// gpioConsumer labels requested lines in the kernel.
const gpioConsumer = "hwstress"

// GPIOBank drives relays wired straight to SoC GPIO lines through the
// Linux GPIO character device.
type GPIOBank struct {
	log     logrus.FieldLogger
	mu      sync.RWMutex
	outputs map[string]*gpiocdev.Line
	inputs  map[string]*gpiocdev.Line
}

var _ RelayBank = (*GPIOBank)(nil)

// NewGPIOBank requests every named line on chip. Outputs start low.
func NewGPIOBank(chip string, outputs, inputs map[string]int, log logrus.FieldLogger) (*GPIOBank, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &GPIOBank{
		log:     log.WithField("component", "gpio"),
		outputs: make(map[string]*gpiocdev.Line, len(outputs)),
		inputs:  make(map[string]*gpiocdev.Line, len(inputs)),
	}

	for name, offset := range outputs {
		line, err := gpiocdev.RequestLine(chip, offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(gpioConsumer))
		if err != nil {
			b.Close()
			return nil, errors.Wrapf(ErrHardwareUnavailable, "request output %s (%s:%d): %v", name, chip, offset, err)
		}
		b.outputs[name] = line
		b.log.Debugf("Configured output %s: chip=%s, line=%d", name, chip, offset)
	}

	for name, offset := range inputs {
		line, err := gpiocdev.RequestLine(chip, offset,
			gpiocdev.AsInput,
			gpiocdev.WithConsumer(gpioConsumer))
		if err != nil {
			b.Close()
			return nil, errors.Wrapf(ErrHardwareUnavailable, "request input %s (%s:%d): %v", name, chip, offset, err)
		}
		b.inputs[name] = line
		b.log.Debugf("Configured input %s: chip=%s, line=%d", name, chip, offset)
	}

	return b, nil
}

// OutputPin returns a handle to the named output line.
func (b *GPIOBank) OutputPin(name string) (OutputPin, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	line, ok := b.outputs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "output %q", name)
	}
	return &gpioOutput{name: name, line: line}, nil
}

// InputPin returns a handle to the named input line.
func (b *GPIOBank) InputPin(name string) (InputPin, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	line, ok := b.inputs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "input %q", name)
	}
	return &gpioInput{name: name, line: line}, nil
}

// Close releases all requested lines.
func (b *GPIOBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, line := range b.outputs {
		if err := line.Close(); err != nil {
			b.log.Warnf("Error closing line %s: %v", name, err)
		}
	}
	for name, line := range b.inputs {
		if err := line.Close(); err != nil {
			b.log.Warnf("Error closing line %s: %v", name, err)
		}
	}
	b.outputs = map[string]*gpiocdev.Line{}
	b.inputs = map[string]*gpiocdev.Line{}
	return nil
}

type gpioOutput struct {
	name string
	line *gpiocdev.Line
}

func (o *gpioOutput) Set(value bool) error {
	val := 0
	if value {
		val = 1
	}
	if err := o.line.SetValue(val); err != nil {
		return errors.Wrapf(ErrTransientIO, "set %s=%v: %v", o.name, value, err)
	}
	return nil
}

type gpioInput struct {
	name string
	line *gpiocdev.Line
}

func (i *gpioInput) Get() (bool, error) {
	val, err := i.line.Value()
	if err != nil {
		return false, errors.Wrapf(ErrTransientIO, "get %s: %v", i.name, err)
	}
	return val != 0, nil
}
