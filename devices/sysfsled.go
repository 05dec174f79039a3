package devices

import (
	"sync"

	"github.com/sirupsen/logrus"
	pgpio "periph.io/x/conn/v3/gpio"

	"devsup-go/bus"
	"devsup-go/config"
	"devsup-go/device"
)

// SysfsLEDConfig configures the generic LED controller: a PWM channel for
// brightness, one pin that switches between the visible and infrared banks,
// and one pin that gates power to the emitters.
type SysfsLEDConfig struct {
	BrightnessPWMChannel uint8          `json:"brightness_pwm_channel"`
	ModeSwitchPin        uint8          `json:"mode_switch_pin"`
	PowerSwitchPin       uint8          `json:"power_switch_pin"`
	DefaultMode          device.LEDMode `json:"default_mode"`
	DefaultBrightness    float32        `json:"default_brightness"`
	DefaultPowerOn       bool           `json:"default_power_state_on"`
	PowerOnGPIOState     uint8          `json:"power_on_gpio_state"`
	PowerOffGPIOState    uint8          `json:"power_off_gpio_state"`
	IRModeGPIOState      uint8          `json:"ir_mode_gpio_state"`
	VisModeGPIOState     uint8          `json:"vis_mode_gpio_state"`
	PWMPeriodNs          uint32         `json:"pwm_period_ns"`
	PWM0BrightnessDuty   uint32         `json:"pwm_0_brightness_duty_cycle"`
	PWM100BrightnessDuty uint32         `json:"pwm_100_brightness_duty_cycle"`
}

// DefaultSysfsLEDConfig returns the template written back for empty entries.
func DefaultSysfsLEDConfig() SysfsLEDConfig {
	return SysfsLEDConfig{
		// try not to burn out people's eyes until explicitly told to
		DefaultMode:       device.LEDVisible,
		DefaultBrightness: 0.5,
		// power on the LEDs immediately to make sure we can get tracking
		DefaultPowerOn:       true,
		PowerOnGPIOState:     1,
		PowerOffGPIOState:    0,
		IRModeGPIOState:      0,
		VisModeGPIOState:     1,
		PWMPeriodNs:          1000000,
		PWM0BrightnessDuty:   0,
		PWM100BrightnessDuty: 1000000,
	}
}

// SysfsLED drives an LED bank through a PWM brightness channel and two raw
// GPIO lines.
type SysfsLED struct {
	mu  sync.Mutex
	cfg SysfsLEDConfig

	raw     *bus.RawController
	pwm     *bus.PWMController
	modePin pgpio.PinIO
	pwrPin  pgpio.PinIO
	channel *bus.PWMHandle

	mode       device.LEDMode
	brightness float32
	powerOn    bool
	running    bool
}

// NewSysfsLED validates the configuration and builds the driver.
func NewSysfsLED(cfg SysfsLEDConfig) (*SysfsLED, error) {
	if cfg.PowerOnGPIOState == cfg.PowerOffGPIOState {
		return nil, device.ErrInvalidConfig("GPIO values for power states overlap")
	}
	if cfg.IRModeGPIOState == cfg.VisModeGPIOState {
		return nil, device.ErrInvalidConfig("GPIO values for modes overlap")
	}
	if cfg.ModeSwitchPin == cfg.PowerSwitchPin {
		return nil, device.ErrInvalidConfig("mode switch and power switch use the same pin")
	}
	if cfg.PWMPeriodNs == 0 {
		return nil, device.ErrInvalidConfig("PWM period must be greater than zero")
	}
	if cfg.PWM0BrightnessDuty == cfg.PWM100BrightnessDuty {
		return nil, device.ErrInvalidConfig("PWM duty cycles overlap")
	}
	if cfg.DefaultMode != device.LEDVisible && cfg.DefaultMode != device.LEDInfrared {
		return nil, device.ErrInvalidConfig("unknown default LED mode %q", string(cfg.DefaultMode))
	}

	return &SysfsLED{
		cfg:        cfg,
		mode:       cfg.DefaultMode,
		brightness: cfg.DefaultBrightness,
		powerOn:    cfg.DefaultPowerOn,
	}, nil
}

// NewSysfsLEDFromConfig builds the driver from a serialized device entry.
func NewSysfsLEDFromConfig(entry *config.DeviceEntry) (device.Driver, error) {
	var cfg SysfsLEDConfig
	if err := decodeDriverData(entry, DefaultSysfsLEDConfig(), &cfg); err != nil {
		return nil, err
	}
	return NewSysfsLED(cfg)
}

func (d *SysfsLED) Name() string { return "sysfs_generic_led" }

func (d *SysfsLED) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start claims the mode and power pins and the brightness channel, then
// applies the configured defaults. Controllers are acquired in registration
// order: raw before PWM.
func (d *SysfsLED) Start(parent *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, ok := device.GetBusPtr[*bus.RawController](parent)
	if !ok {
		return device.ErrMissingController("raw")
	}
	pwm, ok := device.GetBusPtr[*bus.PWMController](parent)
	if !ok {
		return device.ErrMissingController("pwm")
	}

	modePin, err := raw.OpenOut(d.cfg.ModeSwitchPin, bus.OutputNormal)
	if err != nil {
		return device.ErrHardware(err, "could not get mode switch pin")
	}
	pwrPin, err := raw.OpenOut(d.cfg.PowerSwitchPin, bus.OutputNormal)
	if err != nil {
		if cerr := raw.Close(d.cfg.ModeSwitchPin); cerr != nil {
			logrus.Warnf("Failed to close mode switch pin while recovering from an error: %v", cerr)
		}
		return device.ErrHardware(err, "could not get power switch pin")
	}
	channel, err := pwm.Open(d.cfg.BrightnessPWMChannel)
	if err != nil {
		for _, pin := range []uint8{d.cfg.ModeSwitchPin, d.cfg.PowerSwitchPin} {
			if cerr := raw.Close(pin); cerr != nil {
				logrus.Warnf("Failed to close pin %d while recovering from an error: %v", pin, cerr)
			}
		}
		return device.ErrHardware(err, "could not get brightness control pwm channel")
	}

	if err := channel.SetPeriod(d.cfg.PWMPeriodNs); err != nil {
		logrus.Warnf("Failed to program brightness PWM period: %v", err)
	}
	if err := channel.Enable(true); err != nil {
		logrus.Warnf("Failed to enable brightness PWM channel: %v", err)
	}

	d.raw = raw
	d.pwm = pwm
	d.modePin = modePin
	d.pwrPin = pwrPin
	d.channel = channel
	d.running = true

	// Apply the default state; failures here are real hardware failures.
	if err := d.applyMode(d.cfg.DefaultMode); err != nil {
		d.teardownLocked()
		return err
	}
	if err := d.applyBrightness(d.cfg.DefaultBrightness); err != nil {
		d.teardownLocked()
		return err
	}
	if err := d.applyPower(d.cfg.DefaultPowerOn); err != nil {
		d.teardownLocked()
		return err
	}
	return nil
}

// Stop releases every claimed resource. Release failures are logged;
// teardown keeps going.
func (d *SysfsLED) Stop(_ *device.Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return device.ErrInvalidOperation("device is not running")
	}
	d.teardownLocked()
	return nil
}

func (d *SysfsLED) teardownLocked() {
	if d.channel != nil {
		if err := d.channel.Enable(false); err != nil {
			logrus.Warnf("Failed to disable brightness PWM channel: %v", err)
		}
		if err := d.pwm.Close(d.cfg.BrightnessPWMChannel); err != nil {
			logrus.Warnf("Failed to close brightness PWM channel: %v", err)
		}
	}
	for _, pin := range []uint8{d.cfg.ModeSwitchPin, d.cfg.PowerSwitchPin} {
		if d.raw != nil && d.raw.Owned(pin) {
			if err := d.raw.Close(pin); err != nil {
				logrus.Warnf("Failed to close pin %d: %v", pin, err)
			}
		}
	}
	d.raw = nil
	d.pwm = nil
	d.modePin = nil
	d.pwrPin = nil
	d.channel = nil
	d.running = false
}

func (d *SysfsLED) assertRunning() error {
	if !d.running {
		return device.ErrInvalidOperation("device is in an invalid state")
	}
	return nil
}

func levelFor(state uint8) pgpio.Level {
	if state != 0 {
		return pgpio.High
	}
	return pgpio.Low
}

func (d *SysfsLED) applyMode(mode device.LEDMode) error {
	state := d.cfg.VisModeGPIOState
	if mode == device.LEDInfrared {
		state = d.cfg.IRModeGPIOState
	}
	if err := d.modePin.Out(levelFor(state)); err != nil {
		return device.ErrHardware(err, "failed to drive mode switch pin")
	}
	d.mode = mode
	return nil
}

func (d *SysfsLED) applyBrightness(brightness float32) error {
	if brightness < 0 || brightness > 1 {
		return device.ErrInvalidOperation("brightness must be within [0, 1]")
	}
	lo := float64(d.cfg.PWM0BrightnessDuty)
	hi := float64(d.cfg.PWM100BrightnessDuty)
	duty := uint32(lo + (hi-lo)*float64(brightness))
	if err := d.channel.SetDutyCycle(duty); err != nil {
		return device.ErrHardware(err, "failed to program brightness duty cycle")
	}
	d.brightness = brightness
	return nil
}

func (d *SysfsLED) applyPower(on bool) error {
	state := d.cfg.PowerOffGPIOState
	if on {
		state = d.cfg.PowerOnGPIOState
	}
	if err := d.pwrPin.Out(levelFor(state)); err != nil {
		return device.ErrHardware(err, "failed to drive power switch pin")
	}
	d.powerOn = on
	return nil
}

// ------------------------
// LEDController capability
// ------------------------

func (d *SysfsLED) Mode() (device.LEDMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return "", err
	}
	return d.mode, nil
}

func (d *SysfsLED) SetMode(mode device.LEDMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	if mode != device.LEDVisible && mode != device.LEDInfrared {
		return device.ErrInvalidOperation("unknown LED mode %q", string(mode))
	}
	return d.applyMode(mode)
}

func (d *SysfsLED) Brightness() (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return 0, err
	}
	return d.brightness, nil
}

func (d *SysfsLED) SetBrightness(brightness float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	return d.applyBrightness(brightness)
}

func (d *SysfsLED) PowerState() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return false, err
	}
	return d.powerOn, nil
}

func (d *SysfsLED) SetPowerState(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.assertRunning(); err != nil {
		return err
	}
	return d.applyPower(on)
}
