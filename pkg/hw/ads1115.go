package hw

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"

	"github.com/itohio/hwstress/pkg/config"
)

// ADS1115 register map.
const (
	adsRegConversion = 0x00
	adsRegConfig     = 0x01

	adsConfigOS     = 0x80 // config high byte: start / conversion ready
	adsConfigSingle = 0x01 // config high byte: single-shot mode
	adsConfigLow    = 0xE3 // 860 SPS, comparator disabled

	// DefaultADS1115Address is the address with ADDR tied to ground.
	DefaultADS1115Address = 0x48
)

// adsPollAttempts bounds the wait for a single conversion (~1.2ms at 860 SPS).
const (
	adsPollAttempts = 20
	adsPollInterval = 200 * time.Microsecond
)

// ADS1115 reads single-ended conversions from a TI ADS1115 over I2C and
// scales them with the configured calibration.
type ADS1115 struct {
	dev     i2c.Dev
	channel int
	gain    int
	cal     config.CalibrationConfig
	mu      sync.Mutex
}

var _ SampleSource = (*ADS1115)(nil)

// NewADS1115 binds an ADS1115 on bus. The device is probed once by reading
// its config register.
func NewADS1115(bus i2c.Bus, cfg config.ADCConfig) (*ADS1115, error) {
	if cfg.Channel < 0 || cfg.Channel > 3 {
		return nil, errors.Errorf("ads1115: channel %d out of range", cfg.Channel)
	}
	if cfg.Gain < 0 || cfg.Gain > 5 {
		return nil, errors.Errorf("ads1115: gain %d out of range", cfg.Gain)
	}
	addr := cfg.Address
	if addr == 0 {
		addr = DefaultADS1115Address
	}

	a := &ADS1115{
		dev:     i2c.Dev{Bus: bus, Addr: addr},
		channel: cfg.Channel,
		gain:    cfg.Gain,
		cal:     cfg.Calibration,
	}

	buf := make([]byte, 2)
	if err := a.dev.Tx([]byte{adsRegConfig}, buf); err != nil {
		return nil, errors.Wrapf(ErrHardwareUnavailable, "ads1115 at 0x%02x: %v", addr, err)
	}
	return a, nil
}

// configHigh returns the high byte of the config word for a single-shot
// conversion of AINx against GND.
func (a *ADS1115) configHigh() byte {
	mux := byte(0x04 | a.channel)
	return adsConfigOS | mux<<4 | byte(a.gain)<<1 | adsConfigSingle
}

// ReadRaw performs one single-shot conversion and returns the signed count.
func (a *ADS1115) ReadRaw() (int16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.dev.Tx([]byte{adsRegConfig, a.configHigh(), adsConfigLow}, nil); err != nil {
		return 0, errors.Wrapf(ErrTransientIO, "ads1115 start conversion: %v", err)
	}

	buf := make([]byte, 2)
	ready := false
	for i := 0; i < adsPollAttempts; i++ {
		if err := a.dev.Tx([]byte{adsRegConfig}, buf); err != nil {
			return 0, errors.Wrapf(ErrTransientIO, "ads1115 poll: %v", err)
		}
		if buf[0]&adsConfigOS != 0 {
			ready = true
			break
		}
		time.Sleep(adsPollInterval)
	}
	if !ready {
		return 0, errors.Wrap(ErrTransientIO, "ads1115 conversion timed out")
	}

	if err := a.dev.Tx([]byte{adsRegConversion}, buf); err != nil {
		return 0, errors.Wrapf(ErrTransientIO, "ads1115 read conversion: %v", err)
	}
	return int16(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

// Read returns one calibrated reading.
func (a *ADS1115) Read() (float64, error) {
	raw, err := a.ReadRaw()
	if err != nil {
		return 0, err
	}
	return Scale(float64(raw), a.cal), nil
}

// Scale maps x linearly from [Zero, Span] onto [OutMin, OutMax] and rounds to
// two decimals. A degenerate calibration returns x unchanged.
func Scale(x float64, cal config.CalibrationConfig) float64 {
	if cal.Span == cal.Zero {
		return x
	}
	v := (x-cal.Zero)*(cal.OutMax-cal.OutMin)/(cal.Span-cal.Zero) + cal.OutMin
	v = math.Round(v*100) / 100
	if v == 0 {
		// normalise -0
		return 0
	}
	return v
}
