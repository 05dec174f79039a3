package bus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.bug.st/serial"

	"devsup-go/gpio"
)

// fakePort is a no-op serial.Port.
type fakePort struct {
	closed bool
	mode   *serial.Mode
}

func (p *fakePort) SetMode(mode *serial.Mode) error { p.mode = mode; return nil }
func (p *fakePort) Read(b []byte) (int, error)      { return 0, nil }
func (p *fakePort) Write(b []byte) (int, error)     { return len(b), nil }
func (p *fakePort) Drain() error                    { return nil }
func (p *fakePort) ResetInputBuffer() error         { return nil }
func (p *fakePort) ResetOutputBuffer() error        { return nil }
func (p *fakePort) SetDTR(dtr bool) error           { return nil }
func (p *fakePort) SetRTS(rts bool) error           { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, nil
}
func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) Close() error                         { p.closed = true; return nil }
func (p *fakePort) Break(d time.Duration) error          { return nil }

func devicePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testUARTController(t *testing.T, arbiter *gpio.Arbiter, path string) (*UARTController, *fakePort) {
	t.Helper()
	c, err := NewUARTControllerWithPorts(arbiter, map[uint8]UARTDef{
		0: {Path: path, RX: 2, TX: 3},
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	port := &fakePort{}
	c.openPort = func(string, *serial.Mode) (serial.Port, error) { return port, nil }
	return c, port
}

func TestUARTConfigValidation(t *testing.T) {
	arbiter := testArbiter()

	cases := []struct {
		name   string
		config map[uint8]UARTDef
	}{
		{"same pin twice", map[uint8]UARTDef{0: {Path: "/dev/ttyS0", RX: 2, TX: 2}}},
		{"unknown rx", map[uint8]UARTDef{0: {Path: "/dev/ttyS0", RX: 99, TX: 3}}},
		{"unknown tx", map[uint8]UARTDef{0: {Path: "/dev/ttyS0", RX: 2, TX: 99}}},
		{"pin overlap", map[uint8]UARTDef{
			0: {Path: "/dev/ttyS0", RX: 2, TX: 3},
			1: {Path: "/dev/ttyS1", RX: 3, TX: 4},
		}},
		{"path overlap", map[uint8]UARTDef{
			0: {Path: "/dev/ttyS0", RX: 2, TX: 3},
			1: {Path: "/dev/ttyS0", RX: 4, TX: 5},
		}},
	}
	for _, tc := range cases {
		if _, err := NewUARTControllerWithPorts(arbiter, tc.config); CodeOf(err) != CodeInvalidConfig {
			t.Errorf("%s: got %v, want invalid_config", tc.name, err)
		}
	}
}

func TestUARTOpenClose(t *testing.T) {
	arbiter := testArbiter()
	path := devicePath(t, "ttyAMA0")
	c, port := testUARTController(t, arbiter, path)

	handle, err := c.Open(0, 115200, ParityNone, 8, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if arbiter.CanBorrowMany([]uint8{2, 3}) {
		t.Error("port pins should be leased")
	}

	if _, err := handle.Write([]byte("$GPGGA")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := c.Close(0); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !port.closed {
		t.Error("tty should have been closed")
	}
	if !arbiter.CanBorrowMany([]uint8{2, 3}) {
		t.Error("pins should be free after close")
	}
}

func TestUARTOpenValidation(t *testing.T) {
	path := devicePath(t, "ttyAMA0")
	c, _ := testUARTController(t, testArbiter(), path)

	if _, err := c.Open(9, 115200, ParityNone, 8, 1); CodeOf(err) != CodeChannelNotFound {
		t.Errorf("unknown port = %v, want channel_not_found", err)
	}
	if _, err := c.Open(0, 0, ParityNone, 8, 1); CodeOf(err) != CodeInvalidConfig {
		t.Errorf("zero baud = %v, want invalid_config", err)
	}
	if _, err := c.Open(0, 115200, ParityNone, 4, 1); CodeOf(err) != CodeInvalidConfig {
		t.Errorf("bad data bits = %v, want invalid_config", err)
	}
	if _, err := c.Open(0, 115200, ParityNone, 8, 3); CodeOf(err) != CodeInvalidConfig {
		t.Errorf("bad stop bits = %v, want invalid_config", err)
	}
	if _, err := c.Open(0, 115200, "lumpy", 8, 1); CodeOf(err) != CodeInvalidConfig {
		t.Errorf("bad parity = %v, want invalid_config", err)
	}
}

func TestUARTMissingDevicePath(t *testing.T) {
	c, _ := testUARTController(t, testArbiter(), "/nonexistent/ttyS9")
	if _, err := c.Open(0, 115200, ParityNone, 8, 1); CodeOf(err) != CodeHardwareError {
		t.Errorf("missing path = %v, want hardware_error", err)
	}
}

func TestUARTExternalPathSkipsLease(t *testing.T) {
	arbiter := testArbiter()
	path := devicePath(t, "ttyUSB0")
	c, port := testUARTController(t, arbiter, devicePath(t, "ttyAMA0"))

	if _, err := c.OpenPath(path, 9600, ParityEven, 7, 2); err != nil {
		t.Fatalf("open path: %v", err)
	}
	// no pins were consumed
	if !arbiter.CanBorrowMany([]uint8{2, 3, 4, 5, 6}) {
		t.Error("external port must not take pin leases")
	}

	if _, err := c.OpenPath(path, 9600, ParityEven, 7, 2); CodeOf(err) != CodeChannelBusy {
		t.Errorf("double open = %v, want channel_busy", err)
	}

	if err := c.ClosePath(path); err != nil {
		t.Fatalf("close path: %v", err)
	}
	if !port.closed {
		t.Error("external tty should have been closed")
	}
}
