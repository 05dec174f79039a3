package bus

import (
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"devsup-go/gpio"
)

// I2CPinDef is the pin pair backing one I²C bus.
type I2CPinDef struct {
	SDA uint8 `json:"sda"`
	SCL uint8 `json:"scl"`
}

func (d I2CPinDef) overlap(other I2CPinDef) bool {
	return d.SDA == other.SDA ||
		d.SCL == other.SCL ||
		d.SDA == other.SCL ||
		d.SCL == other.SDA
}

func (d I2CPinDef) pins() []uint8 { return []uint8{d.SDA, d.SCL} }

// I2CConfig is the serialized configuration of the I²C controller: bus id →
// pin definition.
type I2CConfig struct {
	Buses map[uint8]I2CPinDef `json:"buses"`
}

// I2CHandle is a shared reference to one open I²C bus. The handle serializes
// transfers: at most one caller issues bytes on the bus at a time. It
// satisfies the drivers.I2C contract the sensor driver packages are written
// against.
type I2CHandle struct {
	mu  sync.Mutex
	bus i2c.Bus
}

// Tx performs a write followed by a read in a single bus transaction.
func (h *I2CHandle) Tx(addr uint16, w, r []byte) error {
	if addr == 0 || addr > 0x7F {
		return &Error{C: CodeInvalidAddress, Addr: addr}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.bus.Tx(addr, w, r); err != nil {
		return errHardware(err, "I2C transfer failed")
	}
	return nil
}

// WriteCommand sends a single command byte to the slave.
func (h *I2CHandle) WriteCommand(addr uint16, cmd byte) error {
	return h.Tx(addr, []byte{cmd}, nil)
}

// WriteRegister writes one byte into a slave register.
func (h *I2CHandle) WriteRegister(addr uint16, reg, value byte) error {
	return h.Tx(addr, []byte{reg, value}, nil)
}

// ReadRegister selects a slave register and reads len(buf) bytes from it.
func (h *I2CHandle) ReadRegister(addr uint16, reg byte, buf []byte) error {
	return h.Tx(addr, []byte{reg}, buf)
}

type i2cChannel struct {
	lease  gpio.LeaseID
	handle *I2CHandle
	closer i2c.BusCloser
	refs   int
}

// I2CController opens kernel I²C buses, one per configured bus id. Opening a
// bus acquires a two-pin lease; handles are refcounted and the controller
// refuses to close a bus while a driver still holds its handle.
type I2CController struct {
	mu      sync.RWMutex
	arbiter *gpio.Arbiter
	config  map[uint8]I2CPinDef
	owned   map[uint8]*i2cChannel

	// openBus opens the kernel device for a bus id. Swapped in tests.
	openBus func(busID uint8) (i2c.BusCloser, error)
}

func openHostI2C(busID uint8) (i2c.BusCloser, error) {
	b, err := i2creg.Open(strconv.Itoa(int(busID)))
	if err != nil {
		return nil, errHardware(err, "failed to open I2C bus %d", busID)
	}
	return b, nil
}

// NewI2CController validates the pin configuration against the arbiter and
// builds the controller. No hardware is touched until a bus is opened.
func NewI2CController(arbiter *gpio.Arbiter, config map[uint8]I2CPinDef) (*I2CController, error) {
	for busID, def := range config {
		if def.SDA == def.SCL {
			return nil, errInvalidConfig(
				"I2C bus is attempting to use the same pin twice: bus %d -> (SDA: %d, SCL: %d)",
				busID, def.SDA, def.SCL)
		}
		if !arbiter.HasPin(def.SDA) {
			return nil, errInvalidConfig(
				"I2C bus is attempting to use invalid pin: bus %d pin %d (SDA)", busID, def.SDA)
		}
		if !arbiter.HasPin(def.SCL) {
			return nil, errInvalidConfig(
				"I2C bus is attempting to use invalid pin: bus %d pin %d (SCL)", busID, def.SCL)
		}
		for otherID, other := range config {
			if busID != otherID && def.overlap(other) {
				return nil, errInvalidConfig(
					"I2C bus pin definitions overlap: bus %d -> (SDA: %d, SCL: %d) with bus %d -> (SDA: %d, SCL: %d)",
					busID, def.SDA, def.SCL, otherID, other.SDA, other.SCL)
			}
		}
	}

	return &I2CController{
		arbiter: arbiter,
		config:  config,
		owned:   make(map[uint8]*i2cChannel),
		openBus: openHostI2C,
	}, nil
}

// I2CFromConfig builds an I²C controller from a serialized configuration
// entry, writing back a default template if the entry was empty.
func I2CFromConfig(arbiter *gpio.Arbiter, entry *ConfigEntry) (*I2CController, error) {
	var cfg I2CConfig
	if err := decodeEntry(entry, I2CConfig{Buses: map[uint8]I2CPinDef{}}, &cfg); err != nil {
		return nil, err
	}
	return NewI2CController(arbiter, cfg.Buses)
}

func (c *I2CController) Name() string { return "i2c" }

// Get returns the handle for busID, opening the bus lazily on first use.
// Every Get must be balanced by a Put once the caller drops the handle.
func (c *I2CController) Get(busID uint8) (*I2CHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.owned[busID]; ok {
		ch.refs++
		return ch.handle, nil
	}

	def, ok := c.config[busID]
	if !ok {
		return nil, errChannelNotFound(int(busID))
	}

	if !c.arbiter.CanBorrowMany(def.pins()) {
		return nil, errHardware(nil, "I2C bus %d pins are already in use", busID)
	}

	closer, err := c.openBus(busID)
	if err != nil {
		return nil, err
	}

	lease, err := c.arbiter.BorrowMany(def.pins())
	if err != nil {
		_ = closer.Close()
		return nil, errHardware(err, "failed to lease pins for I2C bus %d", busID)
	}

	ch := &i2cChannel{
		lease:  lease,
		handle: &I2CHandle{bus: closer},
		closer: closer,
		refs:   1,
	}
	c.owned[busID] = ch
	return ch.handle, nil
}

// Put drops one handle reference previously taken with Get.
func (c *I2CController) Put(busID uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.owned[busID]
	if !ok {
		return errLeaseNotFound()
	}
	if ch.refs > 0 {
		ch.refs--
	}
	return nil
}

// Close releases the bus and its pin lease. It refuses while any driver
// still holds the handle.
func (c *I2CController) Close(busID uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.owned[busID]
	if !ok {
		return errLeaseNotFound()
	}
	if ch.refs > 0 {
		return errChannelBusy(int(busID))
	}

	if err := c.arbiter.Release(ch.lease); err != nil {
		return errHardware(err, "failed to release lease for I2C bus %d", busID)
	}

	_ = ch.closer.Close()
	delete(c.owned, busID)
	return nil
}

// IsOpen reports whether busID currently has an open kernel device.
func (c *I2CController) IsOpen(busID uint8) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.owned[busID]
	return ok
}
