package hw

import "github.com/pkg/errors"

var (
	// ErrHardwareUnavailable is returned when a bus or device could not be opened.
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	// ErrTransientIO marks a single failed read or pin write.
	ErrTransientIO = errors.New("transient i/o error")
	// ErrUnknownPin is returned by a RelayBank for a pin name it does not expose.
	ErrUnknownPin = errors.New("unknown pin")
)

// SampleSource produces one scalar reading per call. Read may block.
type SampleSource interface {
	Read() (float64, error)
}

// OutputPin is a named boolean output.
type OutputPin interface {
	Set(value bool) error
}

// InputPin is a named boolean input.
type InputPin interface {
	Get() (bool, error)
}

// RelayBank exposes named output and input pins.
type RelayBank interface {
	OutputPin(name string) (OutputPin, error)
	InputPin(name string) (InputPin, error)
}

// Pin names wired on the relay board.
const (
	PinMotor      = "motor"
	PinV1         = "v1"
	PinV2         = "v2"
	PinV5         = "v5"
	PinShutdown   = "shutdown"
	PinTLS        = "tls"
	PinPanelPower = "panel_power"
)

// DefaultOutputPins maps output pin names to expander pin numbers.
var DefaultOutputPins = map[string]int{
	PinMotor:    0,
	PinV1:       1,
	PinV2:       2,
	PinV5:       3,
	PinShutdown: 4,
}

// DefaultInputPins maps input pin names to expander pin numbers.
var DefaultInputPins = map[string]int{
	PinTLS:        8,
	PinPanelPower: 10,
}

// Unavailable stands in for hardware that failed to open. Every read fails
// and every pin lookup fails with ErrHardwareUnavailable.
type Unavailable struct {
	Cause error
}

var (
	_ SampleSource = Unavailable{}
	_ RelayBank    = Unavailable{}
)

func (u Unavailable) err() error {
	if u.Cause != nil {
		return errors.Wrap(ErrHardwareUnavailable, u.Cause.Error())
	}
	return ErrHardwareUnavailable
}

// Read always fails.
func (u Unavailable) Read() (float64, error) {
	return 0, u.err()
}

// OutputPin always fails.
func (u Unavailable) OutputPin(name string) (OutputPin, error) {
	return nil, u.err()
}

// InputPin always fails.
func (u Unavailable) InputPin(name string) (InputPin, error) {
	return nil, u.err()
}
