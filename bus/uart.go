package bus

import (
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"devsup-go/gpio"
)

// Parity selects the UART parity bit behavior.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityEven  Parity = "even"
	ParityOdd   Parity = "odd"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

func (p Parity) serial() (serial.Parity, bool) {
	switch p {
	case ParityNone, "":
		return serial.NoParity, true
	case ParityEven:
		return serial.EvenParity, true
	case ParityOdd:
		return serial.OddParity, true
	case ParityMark:
		return serial.MarkParity, true
	case ParitySpace:
		return serial.SpaceParity, true
	}
	return serial.NoParity, false
}

// UARTDef is one internal port definition: the tty device path plus the pin
// pair the port consumes.
type UARTDef struct {
	Path string `json:"path"`
	RX   uint8  `json:"rx"`
	TX   uint8  `json:"tx"`
}

func (d UARTDef) overlap(other UARTDef) bool {
	return d.Path == other.Path ||
		d.TX == other.TX ||
		d.RX == other.RX ||
		d.TX == other.RX ||
		d.RX == other.TX
}

func (d UARTDef) pins() []uint8 { return []uint8{d.RX, d.TX} }

// UARTConfig is the serialized configuration of the UART controller: port id
// → definition.
type UARTConfig struct {
	Ports map[uint8]UARTDef `json:"ports"`
}

// UARTHandle is a shared reference to one open serial port. Reads and writes
// are serialized.
type UARTHandle struct {
	mu   sync.Mutex
	port serial.Port
}

func (h *UARTHandle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Read(buf)
}

func (h *UARTHandle) Write(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Write(buf)
}

// SetReadTimeout bounds how long a Read blocks waiting for data.
func (h *UARTHandle) SetReadTimeout(d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.SetReadTimeout(d)
}

func (h *UARTHandle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Close()
}

type uartPort struct {
	path   string
	lease  *gpio.LeaseID // nil for external ports
	handle *UARTHandle
}

// UARTController opens serial ports. Internal ports are declared in the
// configuration and consume a two-pin lease; arbitrary external device paths
// may also be opened, for which no lease is taken.
type UARTController struct {
	mu       sync.RWMutex
	arbiter  *gpio.Arbiter
	internal map[uint8]UARTDef
	owned    map[string]*uartPort

	// openPort opens the tty device. Swapped in tests.
	openPort func(path string, mode *serial.Mode) (serial.Port, error)
}

func openHostPort(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// NewUARTController builds a controller with no internal ports; only
// external paths can be opened.
func NewUARTController(arbiter *gpio.Arbiter) *UARTController {
	c, _ := NewUARTControllerWithPorts(arbiter, nil)
	return c
}

// NewUARTControllerWithPorts validates the internal port map against the
// arbiter and builds the controller.
func NewUARTControllerWithPorts(arbiter *gpio.Arbiter, internal map[uint8]UARTDef) (*UARTController, error) {
	for id, def := range internal {
		if def.RX == def.TX {
			return nil, errInvalidConfig(
				"UART port is attempting to use the same pin twice: port %d (at %s) -> (RX: %d, TX: %d)",
				id, def.Path, def.RX, def.TX)
		}
		if !arbiter.HasPin(def.RX) {
			return nil, errInvalidConfig(
				"UART port is attempting to use invalid pin: port %d (at %s) pin %d (RX)",
				id, def.Path, def.RX)
		}
		if !arbiter.HasPin(def.TX) {
			return nil, errInvalidConfig(
				"UART port is attempting to use invalid pin: port %d (at %s) pin %d (TX)",
				id, def.Path, def.TX)
		}
		for otherID, other := range internal {
			if id != otherID && def.overlap(other) {
				return nil, errInvalidConfig(
					"UART port definitions overlap: port %d (at %s) -> (RX: %d, TX: %d) with port %d (at %s) -> (RX: %d, TX: %d)",
					id, def.Path, def.RX, def.TX, otherID, other.Path, other.RX, other.TX)
			}
		}
	}

	return &UARTController{
		arbiter:  arbiter,
		internal: internal,
		owned:    make(map[string]*uartPort),
		openPort: openHostPort,
	}, nil
}

// UARTFromConfig builds a UART controller from a serialized configuration
// entry, writing back a default template if the entry was empty.
func UARTFromConfig(arbiter *gpio.Arbiter, entry *ConfigEntry) (*UARTController, error) {
	var cfg UARTConfig
	if err := decodeEntry(entry, UARTConfig{Ports: map[uint8]UARTDef{}}, &cfg); err != nil {
		return nil, err
	}
	return NewUARTControllerWithPorts(arbiter, cfg.Ports)
}

func (c *UARTController) Name() string { return "uart" }

func buildMode(baud uint32, parity Parity, dataBits, stopBits uint8) (*serial.Mode, error) {
	if baud == 0 {
		return nil, errInvalidConfig("baud rate cannot be 0")
	}
	if dataBits < 5 || dataBits > 9 {
		return nil, errInvalidConfig("data bit count is out of bounds: only 5-9 data bits are supported")
	}
	p, ok := parity.serial()
	if !ok {
		return nil, errInvalidConfig("unknown parity %q", string(parity))
	}
	var sb serial.StopBits
	switch stopBits {
	case 1:
		sb = serial.OneStopBit
	case 2:
		sb = serial.TwoStopBits
	default:
		return nil, errInvalidConfig("stop bit count can be either 1 or 2")
	}
	return &serial.Mode{
		BaudRate: int(baud),
		Parity:   p,
		DataBits: int(dataBits),
		StopBits: sb,
	}, nil
}

// Open opens an internal port, acquiring its two-pin lease.
func (c *UARTController) Open(port uint8, baud uint32, parity Parity, dataBits, stopBits uint8) (*UARTHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, ok := c.internal[port]
	if !ok {
		return nil, errChannelNotFound(int(port))
	}
	if _, ok := c.owned[def.Path]; ok {
		return nil, errChannelBusy(int(port))
	}

	mode, err := buildMode(baud, parity, dataBits, stopBits)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(def.Path); err != nil {
		return nil, errHardware(err, "UART device %s does not exist", def.Path)
	}

	if !c.arbiter.CanBorrowMany(def.pins()) {
		return nil, errChannelBusy(int(port))
	}

	p, err := c.openPort(def.Path, mode)
	if err != nil {
		return nil, errHardware(err, "failed to open UART port %d (at %s)", port, def.Path)
	}

	lease, err := c.arbiter.BorrowMany(def.pins())
	if err != nil {
		_ = p.Close()
		return nil, errHardware(err, "failed to lease pins for UART port %d", port)
	}

	handle := &UARTHandle{port: p}
	c.owned[def.Path] = &uartPort{path: def.Path, lease: &lease, handle: handle}
	return handle, nil
}

// OpenPath opens an external device path for which no pin lease is taken.
func (c *UARTController) OpenPath(path string, baud uint32, parity Parity, dataBits, stopBits uint8) (*UARTHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owned[path]; ok {
		return nil, &Error{C: CodeChannelBusy, Reason: "port " + path + " is busy"}
	}

	mode, err := buildMode(baud, parity, dataBits, stopBits)
	if err != nil {
		return nil, err
	}

	p, err := c.openPort(path, mode)
	if err != nil {
		return nil, errHardware(err, "failed to open UART device %s", path)
	}

	handle := &UARTHandle{port: p}
	c.owned[path] = &uartPort{path: path, handle: handle}
	return handle, nil
}

// Close closes an internal port and releases its lease.
func (c *UARTController) Close(port uint8) error {
	c.mu.RLock()
	def, ok := c.internal[port]
	c.mu.RUnlock()
	if !ok {
		return errChannelNotFound(int(port))
	}
	return c.ClosePath(def.Path)
}

// ClosePath closes whichever port is open at path and releases its lease, if
// the port held one.
func (c *UARTController) ClosePath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.owned[path]
	if !ok {
		return errLeaseNotFound()
	}

	if info.lease != nil {
		if err := c.arbiter.Release(*info.lease); err != nil {
			return errHardware(err, "failed to release lease for UART port at %s", path)
		}
	}

	_ = info.handle.close()
	delete(c.owned, path)
	return nil
}
