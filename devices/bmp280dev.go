package devices

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devsup-go/bus"
	"devsup-go/config"
	"devsup-go/device"
	"devsup-go/drivers/bmp280"
)

// BMP280Config configures the combined barometer/thermometer driver.
// Oversampling is the nominal multiplier and standby time is in
// milliseconds; both must be values the chip supports.
type BMP280Config struct {
	I2CBus               uint8  `json:"i2c_bus"`
	Oversampling         uint16 `json:"oversampling"`
	StandbyTimeMs        uint16 `json:"standby_time_ms"`
	DeviceReadyTimeoutMs uint16 `json:"device_ready_timeout_ms"`
}

// DefaultBMP280Config returns the template written back for empty entries.
func DefaultBMP280Config() BMP280Config {
	return BMP280Config{
		Oversampling:         16,
		StandbyTimeMs:        63,
		DeviceReadyTimeoutMs: 100,
	}
}

// bmp280SpinStep is the poll interval while waiting for a conversion.
const bmp280SpinStep = 10 * time.Millisecond

// BMP280 exposes the sensor through the Thermometer and Barometer
// capabilities.
type BMP280 struct {
	mu  sync.Mutex
	cfg BMP280Config

	i2c     *bus.I2CController
	dev     bmp280.Device
	running bool
}

// NewBMP280 validates the configuration and builds the driver.
func NewBMP280(cfg BMP280Config) (*BMP280, error) {
	if _, ok := bmp280.OversamplingFromMultiplier(cfg.Oversampling); !ok {
		return nil, device.ErrInvalidConfig(
			"unsupported oversampling %d, supported values are: 1, 2, 4, 8, 16", cfg.Oversampling)
	}
	if _, ok := bmp280.StandbyFromMillis(cfg.StandbyTimeMs); !ok {
		return nil, device.ErrInvalidConfig(
			"unsupported standby time %d, supported values are: 1, 63, 125, 250, 500, 1000, 2000, 4000",
			cfg.StandbyTimeMs)
	}
	if cfg.DeviceReadyTimeoutMs == 0 {
		return nil, device.ErrInvalidConfig("device ready timeout cannot be 0")
	}
	return &BMP280{cfg: cfg}, nil
}

// NewBMP280FromConfig builds the driver from a serialized device entry.
func NewBMP280FromConfig(entry *config.DeviceEntry) (device.Driver, error) {
	var cfg BMP280Config
	if err := decodeDriverData(entry, DefaultBMP280Config(), &cfg); err != nil {
		return nil, err
	}
	return NewBMP280(cfg)
}

func (d *BMP280) Name() string { return "bmp280" }

func (d *BMP280) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *BMP280) readyTimeout() time.Duration {
	return time.Duration(d.cfg.DeviceReadyTimeoutMs) * time.Millisecond
}

// Start takes the I²C bus handle, verifies the chip, loads its calibration
// and switches it into continuous measurement.
func (d *BMP280) Start(parent *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, ok := device.GetBusPtr[*bus.I2CController](parent)
	if !ok {
		return device.ErrMissingController("i2c")
	}

	handle, err := i2c.Get(d.cfg.I2CBus)
	if err != nil {
		return device.ErrHardware(err, "could not get I2C bus %d", d.cfg.I2CBus)
	}

	dev := bmp280.New(handle)
	standby, _ := bmp280.StandbyFromMillis(d.cfg.StandbyTimeMs)
	oversampling, _ := bmp280.OversamplingFromMultiplier(d.cfg.Oversampling)

	if err := dev.Configure(standby, oversampling, bmp280.ModeNormal); err != nil {
		if perr := i2c.Put(d.cfg.I2CBus); perr != nil {
			logrus.Warnf("Failed to drop I2C handle while recovering from an error: %v", perr)
		}
		return device.ErrHardware(err, "failed to configure pressure sensor")
	}

	d.i2c = i2c
	d.dev = dev
	d.running = true
	return nil
}

// Stop puts the chip to sleep and drops the bus handle.
func (d *BMP280) Stop(_ *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return device.ErrInvalidOperation("device is not running")
	}

	if err := d.dev.Configure(d.dev.Standby(), d.dev.Oversampling(), bmp280.ModeSleep); err != nil {
		logrus.Warnf("Failed to put pressure sensor to sleep: %v", err)
	}
	if err := d.i2c.Put(d.cfg.I2CBus); err != nil {
		logrus.Warnf("Failed to drop I2C handle: %v", err)
	}

	d.i2c = nil
	d.running = false
	return nil
}

func (d *BMP280) sample() (float32, float32, error) {
	if !d.running {
		return 0, 0, device.ErrInvalidOperation("device is in an invalid state")
	}
	if err := d.dev.WaitReady(d.readyTimeout(), bmp280SpinStep); err != nil {
		return 0, 0, device.ErrHardware(err, "pressure sensor did not become ready")
	}
	t, p, err := d.dev.ReadSample()
	if err != nil {
		return 0, 0, device.ErrHardware(err, "failed to read sample")
	}
	return t, p, nil
}

// ------------------------
// Thermometer capability
// ------------------------

func (d *BMP280) TemperatureC() (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, _, err := d.sample()
	return t, err
}

// ------------------------
// Barometer capability
// ------------------------

func (d *BMP280) PressurePa() (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, p, err := d.sample()
	return p, err
}
