package devices

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devsup-go/bus"
	"devsup-go/config"
	"devsup-go/device"
	"devsup-go/drivers/tsl2591"
)

// TSL2591Config configures the ambient-light sensor driver. Gain is the
// nominal multiplier and integration time is in milliseconds; both must be
// values the chip supports.
type TSL2591Config struct {
	I2CBus               uint8  `json:"i2c_bus"`
	Gain                 uint16 `json:"gain"`
	IntegrationTimeMs    uint16 `json:"integration_time_ms"`
	DeviceReadyTimeoutMs uint16 `json:"device_ready_timeout_ms"`
}

// DefaultTSL2591Config returns the template written back for empty entries.
func DefaultTSL2591Config() TSL2591Config {
	return TSL2591Config{
		Gain:                 25,
		IntegrationTimeMs:    300,
		DeviceReadyTimeoutMs: 1000,
	}
}

// tsl2591SpinStep is the poll interval while waiting for a valid ADC cycle.
const tsl2591SpinStep = 10 * time.Millisecond

// supported index → value tables, exposed through the capability.
var (
	tsl2591Gains     = []uint16{1, 25, 428, 9876}
	tsl2591Intervals = []uint16{100, 200, 300, 400, 500, 600}
)

// TSL2591 exposes the light sensor through the LightSensor capability.
type TSL2591 struct {
	mu  sync.Mutex
	cfg TSL2591Config

	i2c      *bus.I2CController
	handle   *bus.I2CHandle
	dev      tsl2591.Device
	autoGain bool
	running  bool
}

// NewTSL2591 validates the configuration and builds the driver.
func NewTSL2591(cfg TSL2591Config) (*TSL2591, error) {
	if _, ok := tsl2591.GainFromMultiplier(cfg.Gain); !ok {
		return nil, device.ErrInvalidConfig(
			"unsupported gain %d, supported gain values are: 1, 25, 428, 9876", cfg.Gain)
	}
	if _, ok := tsl2591.IntegrationFromMillis(cfg.IntegrationTimeMs); !ok {
		return nil, device.ErrInvalidConfig(
			"unsupported integration time %d, supported values are: 100, 200, 300, 400, 500, 600",
			cfg.IntegrationTimeMs)
	}
	if cfg.DeviceReadyTimeoutMs == 0 {
		return nil, device.ErrInvalidConfig("device ready timeout cannot be 0")
	}
	return &TSL2591{cfg: cfg}, nil
}

// NewTSL2591FromConfig builds the driver from a serialized device entry.
func NewTSL2591FromConfig(entry *config.DeviceEntry) (device.Driver, error) {
	var cfg TSL2591Config
	if err := decodeDriverData(entry, DefaultTSL2591Config(), &cfg); err != nil {
		return nil, err
	}
	return NewTSL2591(cfg)
}

func (d *TSL2591) Name() string { return "tsl2591" }

func (d *TSL2591) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *TSL2591) readyTimeout() time.Duration {
	return time.Duration(d.cfg.DeviceReadyTimeoutMs) * time.Millisecond
}

// Start takes the I²C bus handle, verifies the chip and programs the
// configured gain and timing.
func (d *TSL2591) Start(parent *device.Server) error {
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

	dev := tsl2591.New(handle)
	gain, _ := tsl2591.GainFromMultiplier(d.cfg.Gain)
	timing, _ := tsl2591.IntegrationFromMillis(d.cfg.IntegrationTimeMs)

	fail := func(cause error, msg string) error {
		if perr := i2c.Put(d.cfg.I2CBus); perr != nil {
			logrus.Warnf("Failed to drop I2C handle while recovering from an error: %v", perr)
		}
		return device.ErrHardware(cause, "%s", msg)
	}

	if err := dev.Configure(gain, timing); err != nil {
		return fail(err, "failed to configure light sensor")
	}
	if err := dev.Enable(); err != nil {
		return fail(err, "failed to enable light sensor")
	}
	if err := dev.WaitValid(d.readyTimeout(), tsl2591SpinStep); err != nil {
		return fail(err, "light sensor did not become ready")
	}

	d.i2c = i2c
	d.handle = handle
	d.dev = dev
	d.running = true
	return nil
}

// Stop powers the sensor down and drops the bus handle.
func (d *TSL2591) Stop(_ *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return device.ErrInvalidOperation("device is not running")
	}

	if err := d.dev.Disable(); err != nil {
		logrus.Warnf("Failed to disable light sensor: %v", err)
	}
	if err := d.i2c.Put(d.cfg.I2CBus); err != nil {
		logrus.Warnf("Failed to drop I2C handle: %v", err)
	}

	d.i2c = nil
	d.handle = nil
	d.running = false
	return nil
}

func (d *TSL2591) assertRunning() error {
	if !d.running {
		return device.ErrInvalidOperation("device is in an invalid state")
	}
	return nil
}

// ------------------------
// LightSensor capability
// ------------------------

func (d *TSL2591) SupportedGains() map[uint8]uint16 {
	out := make(map[uint8]uint16, len(tsl2591Gains))
	for i, v := range tsl2591Gains {
		out[uint8(i)] = v
	}
	return out
}

func (d *TSL2591) SupportedIntervals() map[uint8]uint16 {
	out := make(map[uint8]uint16, len(tsl2591Intervals))
	for i, v := range tsl2591Intervals {
		out[uint8(i)] = v
	}
	return out
}

func (d *TSL2591) SupportedChannels() map[uint8]string {
	out := make(map[uint8]string, len(tsl2591.ChannelNames))
	for i, name := range tsl2591.ChannelNames {
		out[uint8(i)] = name
	}
	return out
}

func (d *TSL2591) AutoGain() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return false, err
	}
	return d.autoGain, nil
}

func (d *TSL2591) SetAutoGain(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	d.autoGain = enabled
	return nil
}

func (d *TSL2591) Gain() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return 0, err
	}
	m, ok := d.dev.Gain().Multiplier()
	if !ok {
		return 0, device.ErrInternal("programmed gain %#x has no multiplier", uint8(d.dev.Gain()))
	}
	return m, nil
}

// SetGain takes an index into the supported gain table.
func (d *TSL2591) SetGain(gainID uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	if int(gainID) >= len(tsl2591Gains) {
		return device.ErrInvalidOperation("unknown gain id %d", gainID)
	}
	gain, ok := tsl2591.GainFromMultiplier(tsl2591Gains[gainID])
	if !ok {
		// The table advertised a value the chip package cannot map back:
		// that is a code bug, not a hardware fault.
		return device.ErrInternal("gain table value %d failed to round-trip", tsl2591Gains[gainID])
	}
	if err := d.dev.SetGain(gain); err != nil {
		return device.ErrHardware(err, "failed to program gain")
	}
	if err := d.dev.WaitValid(d.readyTimeout(), tsl2591SpinStep); err != nil {
		return device.ErrHardware(err, "sensor did not settle after gain change")
	}
	return nil
}

func (d *TSL2591) Interval() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return 0, err
	}
	ms, ok := d.dev.Timing().Millis()
	if !ok {
		return 0, device.ErrInternal("programmed timing %#x has no interval", uint8(d.dev.Timing()))
	}
	return ms, nil
}

// SetInterval takes an index into the supported interval table.
func (d *TSL2591) SetInterval(intervalID uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	if int(intervalID) >= len(tsl2591Intervals) {
		return device.ErrInvalidOperation("unknown interval id %d", intervalID)
	}
	timing, ok := tsl2591.IntegrationFromMillis(tsl2591Intervals[intervalID])
	if !ok {
		return device.ErrInternal("interval table value %d failed to round-trip", tsl2591Intervals[intervalID])
	}
	if err := d.dev.SetTiming(timing); err != nil {
		return device.ErrHardware(err, "failed to program integration time")
	}
	if err := d.dev.WaitValid(d.readyTimeout(), tsl2591SpinStep); err != nil {
		return device.ErrHardware(err, "sensor did not settle after interval change")
	}
	return nil
}

func (d *TSL2591) Luminosity(channelID uint8) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return 0, err
	}
	if int(channelID) >= len(tsl2591.ChannelNames) {
		return 0, device.ErrInvalidOperation("unknown channel id %d", channelID)
	}
	v, err := d.dev.Luminosity(tsl2591.Channel(channelID))
	if err != nil {
		return 0, device.ErrHardware(err, "failed to read luminosity")
	}
	return v, nil
}

func (d *TSL2591) Lux() (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return 0, err
	}

	lux, err := d.dev.Lux()
	if err == tsl2591.ErrSaturated && d.autoGain {
		// step the gain down once and retry before giving up
		if g := d.dev.Gain(); g != tsl2591.Gain1x {
			if err := d.stepGainDown(g); err != nil {
				return 0, err
			}
			lux, err = d.dev.Lux()
		}
	}
	if err != nil {
		return 0, device.ErrHardware(err, "failed to compute lux")
	}
	return lux, nil
}

func (d *TSL2591) stepGainDown(g tsl2591.Gain) error {
	m, _ := g.Multiplier()
	for i := len(tsl2591Gains) - 1; i > 0; i-- {
		if tsl2591Gains[i] == m {
			lower, _ := tsl2591.GainFromMultiplier(tsl2591Gains[i-1])
			if err := d.dev.SetGain(lower); err != nil {
				return device.ErrHardware(err, "failed to reduce gain")
			}
			return d.waitSettle()
		}
	}
	return nil
}

func (d *TSL2591) waitSettle() error {
	if err := d.dev.WaitValid(d.readyTimeout(), tsl2591SpinStep); err != nil {
		return device.ErrHardware(err, "sensor did not settle after gain change")
	}
	return nil
}
