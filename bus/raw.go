package bus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"devsup-go/gpio"
)

// InputMode selects the pull configuration of an input pin.
type InputMode int

const (
	InputNormal InputMode = iota
	InputPullUp
	InputPullDown
)

// OutputMode selects the initial drive of an output pin.
type OutputMode int

const (
	OutputNormal OutputMode = iota
	OutputLogicHigh
	OutputLogicLow
)

// RawConfig is the serialized configuration of the raw controller. The raw
// controller has no channel map; pins are opened ad hoc against the arbiter.
type RawConfig struct{}

type ownedPin struct {
	lease gpio.LeaseID
	pin   pgpio.PinIO
}

// RawController opens individual GPIO lines as input, output or
// bidirectional pins. Each open acquires a one-pin lease from the arbiter;
// close releases it and parks the pin back as a floating input.
type RawController struct {
	mu      sync.RWMutex
	arbiter *gpio.Arbiter
	owned   map[uint8]ownedPin

	// resolve maps a BCM id to a platform pin. Swapped in tests.
	resolve func(bcm uint8) (pgpio.PinIO, error)
}

func resolveHostPin(bcm uint8) (pgpio.PinIO, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", bcm))
	if p == nil {
		return nil, &Error{C: CodeOsError, Reason: fmt.Sprintf("platform has no line GPIO%d", bcm)}
	}
	return p, nil
}

// NewRawController builds a raw controller over the shared arbiter.
func NewRawController(arbiter *gpio.Arbiter) *RawController {
	return &RawController{
		arbiter: arbiter,
		owned:   make(map[uint8]ownedPin),
		resolve: resolveHostPin,
	}
}

// RawFromConfig builds a raw controller from a serialized configuration
// entry, writing back a default template if the entry was empty.
func RawFromConfig(arbiter *gpio.Arbiter, entry *ConfigEntry) (*RawController, error) {
	var cfg RawConfig
	if err := decodeEntry(entry, RawConfig{}, &cfg); err != nil {
		return nil, err
	}
	return NewRawController(arbiter), nil
}

func (c *RawController) Name() string { return "raw" }

// OpenIn opens pin as an input with the requested pull.
func (c *RawController) OpenIn(pin uint8, mode InputMode) (pgpio.PinIO, error) {
	pull := pgpio.Float
	switch mode {
	case InputPullUp:
		pull = pgpio.PullUp
	case InputPullDown:
		pull = pgpio.PullDown
	}
	return c.open(pin, func(p pgpio.PinIO) error {
		return p.In(pull, pgpio.NoEdge)
	})
}

// OpenOut opens pin as an output. OutputNormal leaves the line low, matching
// the platform default.
func (c *RawController) OpenOut(pin uint8, mode OutputMode) (pgpio.PinIO, error) {
	level := pgpio.Low
	if mode == OutputLogicHigh {
		level = pgpio.High
	}
	return c.open(pin, func(p pgpio.PinIO) error {
		return p.Out(level)
	})
}

// OpenIO opens pin without forcing a direction; the caller drives In/Out on
// the returned pin itself.
func (c *RawController) OpenIO(pin uint8) (pgpio.PinIO, error) {
	return c.open(pin, func(pgpio.PinIO) error { return nil })
}

func (c *RawController) open(pin uint8, configure func(pgpio.PinIO) error) (pgpio.PinIO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owned[pin]; ok {
		return nil, errChannelBusy(int(pin))
	}

	state, err := c.arbiter.Pin(pin)
	if err != nil {
		return nil, errHardware(err, "pin %d is not in the arbiter pool", pin)
	}

	if !c.arbiter.CanBorrowOne(pin) {
		return nil, errChannelBusy(int(pin))
	}

	p, err := c.resolve(state.BcmID())
	if err != nil {
		return nil, err
	}
	if err := configure(p); err != nil {
		return nil, errHardware(err, "failed to configure pin %d (BCM %d)", pin, state.BcmID())
	}

	lease, err := c.arbiter.BorrowOne(pin)
	if err != nil {
		return nil, errHardware(err, "failed to lease pin %d", pin)
	}

	c.owned[pin] = ownedPin{lease: lease, pin: p}
	return p, nil
}

// Close releases the lease on pin and parks the line. Park failures are
// logged, not raised: the lease release is the part that must not be lost.
func (c *RawController) Close(pin uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owned, ok := c.owned[pin]
	if !ok {
		return errLeaseNotFound()
	}

	if err := c.arbiter.Release(owned.lease); err != nil {
		return errHardware(err, "failed to release lease for pin %d", pin)
	}

	if err := owned.pin.In(pgpio.Float, pgpio.NoEdge); err != nil {
		logrus.WithField("pin", pin).Warnf("Failed to park pin as input: %v", err)
	}
	if err := owned.pin.Halt(); err != nil {
		logrus.WithField("pin", pin).Warnf("Failed to halt pin: %v", err)
	}

	delete(c.owned, pin)
	return nil
}

// Owned reports whether this controller currently holds pin.
func (c *RawController) Owned(pin uint8) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owned[pin]
	return ok
}
