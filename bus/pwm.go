package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"devsup-go/gpio"
)

// The controller drives the kernel PWM class directly: channels are
// exported under /sys/class/pwm/pwmchip0 and controlled through the
// period/duty_cycle/polarity/enable attribute files.
const defaultPWMChipPath = "/sys/class/pwm/pwmchip0"

// pwmChannelCount is fixed by the hardware: the SoC exposes two channels.
const pwmChannelCount = 2

// PWMConfig is the serialized configuration of the PWM controller: channel
// id → pin.
type PWMConfig struct {
	Channels map[uint8]uint8 `json:"channels"`
}

// PWMHandle is a shared reference to one exported PWM channel. The handle
// serializes attribute writes.
type PWMHandle struct {
	mu      sync.Mutex
	chip    string
	channel uint8

	periodNs uint32
}

func (h *PWMHandle) attr(name string) string {
	return filepath.Join(h.chip, fmt.Sprintf("pwm%d", h.channel), name)
}

func (h *PWMHandle) writeAttr(name, value string) error {
	if err := os.WriteFile(h.attr(name), []byte(value), 0o644); err != nil {
		return errHardware(err, "failed to write PWM %s", name)
	}
	return nil
}

// Channel returns the hardware channel index this handle drives.
func (h *PWMHandle) Channel() uint8 { return h.channel }

// SetPeriod sets the PWM period in nanoseconds.
func (h *PWMHandle) SetPeriod(ns uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writeAttr("period", strconv.FormatUint(uint64(ns), 10)); err != nil {
		return err
	}
	h.periodNs = ns
	return nil
}

// SetDutyCycle sets the active time in nanoseconds. The kernel rejects
// values above the current period.
func (h *PWMHandle) SetDutyCycle(ns uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.periodNs != 0 && ns > h.periodNs {
		return &Error{C: CodeUnsupported, Reason: "duty cycle exceeds period"}
	}
	return h.writeAttr("duty_cycle", strconv.FormatUint(uint64(ns), 10))
}

// Enable starts or stops the output.
func (h *PWMHandle) Enable(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := "0"
	if on {
		v = "1"
	}
	return h.writeAttr("enable", v)
}

type pwmChannel struct {
	lease  gpio.LeaseID
	handle *PWMHandle
}

// PWMController exports kernel PWM channels, one pin lease per channel.
// Exactly two channels are supported.
type PWMController struct {
	mu      sync.RWMutex
	arbiter *gpio.Arbiter
	config  map[uint8]uint8
	owned   map[uint8]*pwmChannel

	// chipPath points at the pwmchip sysfs directory. Swapped in tests.
	chipPath string
}

// NewPWMController validates the channel configuration against the arbiter
// and builds the controller. No hardware is touched until a channel is
// opened.
func NewPWMController(arbiter *gpio.Arbiter, config map[uint8]uint8) (*PWMController, error) {
	for channel, pin := range config {
		if channel >= pwmChannelCount {
			return nil, errInvalidConfig(
				"unsupported PWM channel: channel %d pin %d", channel, pin)
		}
		if !arbiter.HasPin(pin) {
			return nil, errInvalidConfig(
				"PWM channel is attempting to use invalid pin: channel %d pin %d", channel, pin)
		}
		for otherChannel, otherPin := range config {
			if channel != otherChannel && pin == otherPin {
				return nil, errInvalidConfig(
					"PWM channel definitions overlap: channel %d -> %d with channel %d -> %d",
					channel, pin, otherChannel, otherPin)
			}
		}
	}

	return &PWMController{
		arbiter:  arbiter,
		config:   config,
		owned:    make(map[uint8]*pwmChannel),
		chipPath: defaultPWMChipPath,
	}, nil
}

// PWMFromConfig builds a PWM controller from a serialized configuration
// entry, writing back a default template if the entry was empty.
func PWMFromConfig(arbiter *gpio.Arbiter, entry *ConfigEntry) (*PWMController, error) {
	var cfg PWMConfig
	if err := decodeEntry(entry, PWMConfig{Channels: map[uint8]uint8{}}, &cfg); err != nil {
		return nil, err
	}
	return NewPWMController(arbiter, cfg.Channels)
}

func (c *PWMController) Name() string { return "pwm" }

func (c *PWMController) export(channel uint8) error {
	dir := filepath.Join(c.chipPath, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); err == nil {
		return nil // already exported
	}
	if err := os.WriteFile(filepath.Join(c.chipPath, "export"),
		[]byte(strconv.Itoa(int(channel))), 0o644); err != nil {
		return errHardware(err, "failed to export PWM channel %d", channel)
	}
	// The kernel creates the attribute files asynchronously; give udev a
	// moment to fix up permissions before the first write.
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errHardware(nil, "PWM channel %d did not appear after export", channel)
}

func (c *PWMController) unexport(channel uint8) error {
	if err := os.WriteFile(filepath.Join(c.chipPath, "unexport"),
		[]byte(strconv.Itoa(int(channel))), 0o644); err != nil {
		return errHardware(err, "failed to unexport PWM channel %d", channel)
	}
	return nil
}

// Open exports channel, acquires its pin lease, and attempts to set normal
// polarity. A polarity refusal is logged, not raised: some kernels only
// accept a polarity write while the channel is disabled or not at all.
func (c *PWMController) Open(channel uint8) (*PWMHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owned[channel]; ok {
		return nil, errChannelBusy(int(channel))
	}

	pin, ok := c.config[channel]
	if !ok {
		return nil, errChannelNotFound(int(channel))
	}

	if !c.arbiter.CanBorrowOne(pin) {
		return nil, errChannelBusy(int(channel))
	}

	if err := c.export(channel); err != nil {
		return nil, err
	}

	lease, err := c.arbiter.BorrowOne(pin)
	if err != nil {
		_ = c.unexport(channel)
		return nil, errHardware(err, "failed to lease pin %d for PWM channel %d", pin, channel)
	}

	handle := &PWMHandle{chip: c.chipPath, channel: channel}
	if err := handle.writeAttr("polarity", "normal"); err != nil {
		logrus.WithField("channel", channel).Warnf("Failed to set normal polarity: %v", err)
	}

	c.owned[channel] = &pwmChannel{lease: lease, handle: handle}
	return handle, nil
}

// Close disables and unexports the channel and releases its pin lease.
func (c *PWMController) Close(channel uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.owned[channel]
	if !ok {
		return errLeaseNotFound()
	}

	if err := c.arbiter.Release(ch.lease); err != nil {
		return errHardware(err, "failed to release lease for PWM channel %d", channel)
	}

	if err := ch.handle.Enable(false); err != nil {
		logrus.WithField("channel", channel).Warnf("Failed to disable PWM channel: %v", err)
	}
	if err := c.unexport(channel); err != nil {
		logrus.WithField("channel", channel).Warnf("Failed to unexport PWM channel: %v", err)
	}

	delete(c.owned, channel)
	return nil
}
