package hw

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/itohio/hwstress/pkg/config"
)

const (
	// DefaultBaudRate is the bridge firmware baud rate.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single request/response exchange.
	DefaultReadTimeout = 500 * time.Millisecond

	serialRequest = "R\n"
)

// SerialSource reads an ADC through a microcontroller bridge on a serial
// port. Each Read sends one request line and parses one reply line.
type SerialSource struct {
	name string
	cal  config.CalibrationConfig

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	reader *bufio.Reader
}

var _ SampleSource = (*SerialSource)(nil)

// OpenSerialSource opens the bridge on cfg.Serial.Port.
func OpenSerialSource(cfg config.ADCConfig) (*SerialSource, error) {
	baudRate := cfg.Serial.BaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(cfg.Serial.Port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "open serial port %s: %v", cfg.Serial.Port, err)
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(ErrHardwareUnavailable, "set read timeout on %s: %v", cfg.Serial.Port, err)
	}

	return newSerialSource(cfg.Serial.Port, port, cfg.Calibration), nil
}

func newSerialSource(name string, conn io.ReadWriteCloser, cal config.CalibrationConfig) *SerialSource {
	return &SerialSource{
		name:   name,
		cal:    cal,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// SerialPorts lists the serial ports present on the host.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}
	return ports, nil
}

// Read requests one conversion and returns the calibrated value.
func (s *SerialSource) Read() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, errors.Wrap(ErrHardwareUnavailable, "serial source closed")
	}

	if _, err := io.WriteString(s.conn, serialRequest); err != nil {
		return 0, errors.Wrapf(ErrTransientIO, "write request to %s: %v", s.name, err)
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		// A read timeout surfaces as a short read with no newline.
		return 0, errors.Wrapf(ErrTransientIO, "read reply from %s: %v", s.name, err)
	}

	raw, err := parseLine(strings.TrimSpace(line))
	if err != nil {
		return 0, errors.Wrapf(ErrTransientIO, "%s: %v", s.name, err)
	}
	return Scale(float64(raw.Reading), s.cal), nil
}

// Close closes the port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// rawReading is one reply from the bridge.
type rawReading struct {
	Timestamp time.Time
	Reading   int16
}

// parseLine parses a bridge reply.
// Format: unix_micros,reading
// Example: 1234567890123,19200
func parseLine(line string) (rawReading, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return rawReading{}, errors.Errorf("invalid line format: expected 2 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return rawReading{}, errors.Wrap(err, "invalid timestamp")
	}

	reading, err := strconv.ParseInt(parts[1], 10, 16)
	if err != nil {
		return rawReading{}, errors.Wrap(err, "invalid reading")
	}

	return rawReading{
		Timestamp: time.Unix(0, timestampMicros*1000),
		Reading:   int16(reading),
	}, nil
}
