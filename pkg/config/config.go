package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the adc and mcp sections.
const (
	BackendI2C    = "i2c"
	BackendSerial = "serial"
	BackendGPIO   = "gpio"
	BackendMock   = "mock"
)

// Config represents the application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	ADC     ADCConfig     `yaml:"adc"`
	MCP     MCPConfig     `yaml:"mcp"`
	ADCTest ADCTestConfig `yaml:"adc_test"`
	MCPTest MCPTestConfig `yaml:"mcp_test"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ADCConfig describes the sensor side peripheral.
type ADCConfig struct {
	Backend     string            `yaml:"backend"`
	Bus         string            `yaml:"bus"` // I2C bus name, empty selects the first bus
	Address     uint16            `yaml:"address"`
	Channel     int               `yaml:"channel"`
	Gain        int               `yaml:"gain"` // PGA index 0-5
	Calibration CalibrationConfig `yaml:"calibration"`
	Serial      SerialConfig      `yaml:"serial"`
}

// CalibrationConfig maps raw converter counts onto engineering units.
type CalibrationConfig struct {
	Zero   float64 `yaml:"zero"`
	Span   float64 `yaml:"span"`
	OutMin float64 `yaml:"out_min"`
	OutMax float64 `yaml:"out_max"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MCPConfig describes the relay driving I/O expander.
type MCPConfig struct {
	Backend string         `yaml:"backend"`
	Bus     string         `yaml:"bus"`
	Address uint16         `yaml:"address"`
	Chip    string         `yaml:"chip"`    // gpiochip used by the gpio backend
	Outputs map[string]int `yaml:"outputs"` // empty selects the relay board defaults
	Inputs  map[string]int `yaml:"inputs"`
}

// ADCTestConfig contains the sampling test parameters. Requests readings
// are taken every Period.
type ADCTestConfig struct {
	Requests int           `yaml:"requests"`
	Period   time.Duration `yaml:"period"`
	Held     int           `yaml:"held"`
	Refresh  time.Duration `yaml:"refresh"`
	Duration time.Duration `yaml:"duration"` // 0 runs until interrupted
}

// Interval returns the delay between two consecutive readings.
func (c ADCTestConfig) Interval() time.Duration {
	if c.Requests <= 0 {
		return c.Period
	}
	return c.Period / time.Duration(c.Requests)
}

// MCPTestConfig contains the sequencing test parameters.
type MCPTestConfig struct {
	PinDelay   time.Duration `yaml:"pin_delay"`
	CycleDelay time.Duration `yaml:"cycle_delay"`
	Refresh    time.Duration `yaml:"refresh"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// MockConfig contains simulated hardware configuration.
type MockConfig struct {
	Bias        float64       `yaml:"bias"`         // Reading the simulated ADC settles on
	NoiseLevel  float64       `yaml:"noise_level"`  // Peak noise amplitude
	ReadLatency time.Duration `yaml:"read_latency"` // Simulated conversion time
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ADC: ADCConfig{
			Backend: BackendI2C,
			Address: 0x48,
			Channel: 0,
			Gain:    1,
			Calibration: CalibrationConfig{
				Zero:   15422.0,
				Span:   22864.0,
				OutMin: 0.0,
				OutMax: 20.8,
			},
			Serial: SerialConfig{
				Port:     "/dev/ttyACM0",
				BaudRate: 115200,
			},
		},
		MCP: MCPConfig{
			Backend: BackendI2C,
			Address: 0x20,
			Chip:    "gpiochip0",
		},
		ADCTest: ADCTestConfig{
			Requests: 60,
			Period:   time.Second,
			Held:     1,
			Refresh:  time.Second / 30,
		},
		MCPTest: MCPTestConfig{
			PinDelay:   0,
			CycleDelay: time.Second,
			Refresh:    time.Second / 30,
		},
		Mock: MockConfig{
			Bias:        10.4,
			NoiseLevel:  0.05,
			ReadLatency: time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate rejects settings the sampler and sequencer cannot run with.
func (c *Config) Validate() error {
	switch c.ADC.Backend {
	case BackendI2C, BackendSerial, BackendMock:
	default:
		return errors.Errorf("adc: unknown backend %q", c.ADC.Backend)
	}
	switch c.MCP.Backend {
	case BackendI2C, BackendGPIO, BackendMock:
	default:
		return errors.Errorf("mcp: unknown backend %q", c.MCP.Backend)
	}
	if c.ADC.Gain < 0 || c.ADC.Gain > 5 {
		return errors.Errorf("adc: gain index %d out of range 0-5", c.ADC.Gain)
	}
	if c.ADC.Channel < 0 || c.ADC.Channel > 3 {
		return errors.Errorf("adc: channel %d out of range 0-3", c.ADC.Channel)
	}
	if c.ADC.Calibration.Span == c.ADC.Calibration.Zero {
		return errors.New("adc: calibration span equals zero point")
	}
	if c.ADCTest.Requests < 1 {
		return errors.Errorf("adc_test: requests must be at least 1, got %d", c.ADCTest.Requests)
	}
	if c.ADCTest.Period <= 0 {
		return errors.Errorf("adc_test: period must be positive, got %v", c.ADCTest.Period)
	}
	if c.MCPTest.PinDelay < 0 || c.MCPTest.CycleDelay < 0 {
		return errors.New("mcp_test: delays must not be negative")
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.ADC.Backend == "" {
		c.ADC.Backend = def.ADC.Backend
	}
	if c.ADC.Address == 0 {
		c.ADC.Address = def.ADC.Address
	}
	if c.ADC.Calibration.Span == 0 {
		c.ADC.Calibration.Span = def.ADC.Calibration.Span
	}
	if c.ADC.Calibration.OutMax == 0 {
		c.ADC.Calibration.OutMax = def.ADC.Calibration.OutMax
	}
	if c.ADC.Serial.Port == "" {
		c.ADC.Serial.Port = def.ADC.Serial.Port
	}
	if c.ADC.Serial.BaudRate == 0 {
		c.ADC.Serial.BaudRate = def.ADC.Serial.BaudRate
	}

	if c.MCP.Backend == "" {
		c.MCP.Backend = def.MCP.Backend
	}
	if c.MCP.Address == 0 {
		c.MCP.Address = def.MCP.Address
	}
	if c.MCP.Chip == "" {
		c.MCP.Chip = def.MCP.Chip
	}

	if c.ADCTest.Requests == 0 {
		c.ADCTest.Requests = def.ADCTest.Requests
	}
	if c.ADCTest.Period == 0 {
		c.ADCTest.Period = def.ADCTest.Period
	}
	if c.ADCTest.Held == 0 {
		c.ADCTest.Held = def.ADCTest.Held
	}
	if c.ADCTest.Refresh == 0 {
		c.ADCTest.Refresh = def.ADCTest.Refresh
	}

	if c.MCPTest.Refresh == 0 {
		c.MCPTest.Refresh = def.MCPTest.Refresh
	}
}
