package hw

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

// MCP23017 register map with IOCON.BANK=0.
const (
	mcpRegIODIRA = 0x00
	mcpRegGPIOA  = 0x12
	mcpRegOLATA  = 0x14

	// DefaultMCP23017Address is the address with A0-A2 tied to ground.
	DefaultMCP23017Address = 0x20
)

// MCP23017 drives a Microchip MCP23017 16-bit I/O expander over I2C.
// Pins 0-7 are port A, 8-15 port B.
type MCP23017 struct {
	dev     i2c.Dev
	outputs map[string]int
	inputs  map[string]int

	mu   sync.Mutex
	olat [2]byte
}

var _ RelayBank = (*MCP23017)(nil)

// NewMCP23017 configures the expander: named outputs are driven low and set
// as outputs, every other pin is left an input. Nil maps select the relay
// board defaults.
func NewMCP23017(bus i2c.Bus, addr uint16, outputs, inputs map[string]int) (*MCP23017, error) {
	if addr == 0 {
		addr = DefaultMCP23017Address
	}
	if len(outputs) == 0 {
		outputs = DefaultOutputPins
	}
	if len(inputs) == 0 {
		inputs = DefaultInputPins
	}

	iodir := [2]byte{0xFF, 0xFF}
	for name, pin := range outputs {
		if pin < 0 || pin > 15 {
			return nil, errors.Errorf("mcp23017: output %s pin %d out of range", name, pin)
		}
		iodir[pin/8] &^= 1 << uint(pin%8)
	}
	for name, pin := range inputs {
		if pin < 0 || pin > 15 {
			return nil, errors.Errorf("mcp23017: input %s pin %d out of range", name, pin)
		}
		if iodir[pin/8]&(1<<uint(pin%8)) == 0 {
			return nil, errors.Errorf("mcp23017: pin %d used as both input and output", pin)
		}
	}

	m := &MCP23017{
		dev:     i2c.Dev{Bus: bus, Addr: addr},
		outputs: outputs,
		inputs:  inputs,
	}

	// Latch zeros before switching direction so relays never glitch on.
	if err := m.dev.Tx([]byte{mcpRegOLATA, 0x00, 0x00}, nil); err != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "mcp23017 at 0x%02x: %v", addr, err)
	}
	if err := m.dev.Tx([]byte{mcpRegIODIRA, iodir[0], iodir[1]}, nil); err != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "mcp23017 at 0x%02x: %v", addr, err)
	}
	return m, nil
}

// Outputs returns the configured output names in pin order.
func (m *MCP23017) Outputs() []string {
	return sortedByPin(m.outputs)
}

// OutputPin returns a handle to the named output.
func (m *MCP23017) OutputPin(name string) (OutputPin, error) {
	pin, ok := m.outputs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "output %q", name)
	}
	return &mcpOutput{mcp: m, pin: pin}, nil
}

// InputPin returns a handle to the named input.
func (m *MCP23017) InputPin(name string) (InputPin, error) {
	pin, ok := m.inputs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "input %q", name)
	}
	return &mcpInput{mcp: m, pin: pin}, nil
}

func (m *MCP23017) write(pin int, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	port := pin / 8
	next := m.olat[port]
	if value {
		next |= 1 << uint(pin%8)
	} else {
		next &^= 1 << uint(pin%8)
	}
	if err := m.dev.Tx([]byte{mcpRegOLATA + byte(port), next}, nil); err != nil {
		return errors.Wrapf(ErrTransientIO, "mcp23017 write pin %d: %v", pin, err)
	}
	m.olat[port] = next
	return nil
}

func (m *MCP23017) read(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 1)
	if err := m.dev.Tx([]byte{mcpRegGPIOA + byte(pin/8)}, buf); err != nil {
		return false, errors.Wrapf(ErrTransientIO, "mcp23017 read pin %d: %v", pin, err)
	}
	return buf[0]&(1<<uint(pin%8)) != 0, nil
}

type mcpOutput struct {
	mcp *MCP23017
	pin int
}

func (o *mcpOutput) Set(value bool) error {
	return o.mcp.write(o.pin, value)
}

type mcpInput struct {
	mcp *MCP23017
	pin int
}

func (i *mcpInput) Get() (bool, error) {
	return i.mcp.read(i.pin)
}

func sortedByPin(pins map[string]int) []string {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return pins[names[i]] < pins[names[j]]
	})
	return names
}
