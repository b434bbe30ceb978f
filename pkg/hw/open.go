package hw

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/itohio/hwstress/pkg/config"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// OpenI2C initialises the host drivers once and opens the named bus. An
// empty name opens the first registered bus.
func OpenI2C(name string) (i2c.BusCloser, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "host init: %v", hostErr)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "open i2c bus %q: %v", name, err)
	}
	return bus, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenSource builds the configured sample source. An open failure is logged
// and degrades to Unavailable so pollers observe failed readings instead of
// an error. The returned closer is never nil.
func OpenSource(cfg *config.Config, log logrus.FieldLogger) (SampleSource, io.Closer) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "adc")

	switch cfg.ADC.Backend {
	case config.BackendMock:
		return NewMockSource(&cfg.Mock), nopCloser{}

	case config.BackendSerial:
		src, err := OpenSerialSource(cfg.ADC)
		if err != nil {
			log.WithError(err).Error("ADC unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		return src, src

	default:
		bus, err := OpenI2C(cfg.ADC.Bus)
		if err != nil {
			log.WithError(err).Error("ADC unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		adc, err := NewADS1115(bus, cfg.ADC)
		if err != nil {
			bus.Close()
			log.WithError(err).Error("ADC unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		return adc, bus
	}
}

// OpenBank builds the configured relay bank, degrading like OpenSource.
func OpenBank(cfg *config.Config, log logrus.FieldLogger) (RelayBank, io.Closer) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "mcp")

	outputs, inputs := cfg.MCP.Outputs, cfg.MCP.Inputs
	if len(outputs) == 0 {
		outputs = DefaultOutputPins
	}
	if len(inputs) == 0 {
		inputs = DefaultInputPins
	}

	switch cfg.MCP.Backend {
	case config.BackendMock:
		return NewMockBank(sortedByPin(outputs), sortedByPin(inputs)), nopCloser{}

	case config.BackendGPIO:
		bank, err := NewGPIOBank(cfg.MCP.Chip, outputs, inputs, log)
		if err != nil {
			log.WithError(err).Error("Relay bank unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		return bank, bank

	default:
		bus, err := OpenI2C(cfg.MCP.Bus)
		if err != nil {
			log.WithError(err).Error("Relay bank unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		mcp, err := NewMCP23017(bus, cfg.MCP.Address, outputs, inputs)
		if err != nil {
			bus.Close()
			log.WithError(err).Error("Relay bank unavailable")
			return Unavailable{Cause: err}, nopCloser{}
		}
		return mcp, bus
	}
}
