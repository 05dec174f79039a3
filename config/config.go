// Package config loads and persists the supervisor's single JSON
// configuration file. The file is read once at startup, validated as a
// whole, and rewritten pretty-printed on exit with the previous copy
// preserved as "<path>.bak" — drivers and controllers write defaulted
// templates back into their entries, so the rewrite is what hands those
// templates to the administrator.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/renameio"

	"devsup-go/bus"
)

// Code is a stable identifier for a configuration failure.
type Code string

const (
	CodeSerialize Code = "serialize"
	CodeInvalid   Code = "invalid_entry"
	CodeDuplicate Code = "duplicate_entry"
	CodeOther     Code = "other"
)

// Error is the configuration-layer taxonomy.
type Error struct {
	C      Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch e.C {
	case CodeSerialize:
		return "serialize/parse error: " + e.Reason
	case CodeInvalid:
		return "invalid config entry: " + e.Reason
	case CodeDuplicate:
		return "duplicate config entry: " + e.Reason
	default:
		return "config error: " + e.Reason
	}
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Code() Code    { return e.C }

func errInvalid(format string, args ...any) *Error {
	return &Error{C: CodeInvalid, Reason: fmt.Sprintf(format, args...)}
}

// ------------------------
// Sections
// ------------------------

// RPCSection configures the RPC listener.
type RPCSection struct {
	ServerHost string `json:"server_host"`
	ServerPort uint16 `json:"server_port"`
}

func (s *RPCSection) validate() error {
	if net.ParseIP(s.ServerHost) == nil {
		return errInvalid("failed to parse server host: %q", s.ServerHost)
	}
	if s.ServerPort == 0 {
		return errInvalid("invalid server port")
	}
	return nil
}

// Addr returns the host:port the RPC server binds.
func (s *RPCSection) Addr() string {
	return net.JoinHostPort(s.ServerHost, strconv.Itoa(int(s.ServerPort)))
}

// ADBSection configures the connection to the ADB server on the development
// host side of the tunnel.
type ADBSection struct {
	ServerHost     string `json:"server_host"`
	ServerPort     uint16 `json:"server_port"`
	ReadTimeoutMs  uint64 `json:"read_timeout_ms"`
	WriteTimeoutMs uint64 `json:"write_timeout_ms"`
}

func (s *ADBSection) validate() error {
	if s.ServerPort == 0 {
		return errInvalid("invalid server port")
	}
	if _, err := net.ResolveTCPAddr("tcp", s.Addr()); err != nil {
		return errInvalid("failed to parse server host: %v", err)
	}
	return nil
}

// Addr returns the host:port of the ADB server.
func (s *ADBSection) Addr() string {
	return net.JoinHostPort(s.ServerHost, strconv.Itoa(int(s.ServerPort)))
}

// GPIOSection carries the (pin id → bcm id) pool handed to the arbiter.
type GPIOSection struct {
	PinConfig map[uint8]uint8 `json:"pin_config"`
}

func (s *GPIOSection) validate() error {
	seenBcm := map[uint8]uint8{}
	for id, bcm := range s.PinConfig {
		if prev, ok := seenBcm[bcm]; ok {
			return errInvalid(
				"invalid pin configuration: (%d -> %d), pin BCM ID %d is defined more than once (also pin %d)",
				id, bcm, bcm, prev)
		}
		seenBcm[bcm] = id
	}
	return nil
}

// ControllerSection lists the bus controllers to build at startup.
type ControllerSection struct {
	Controllers []bus.ConfigEntry `json:"controllers"`
}

func (s *ControllerSection) validate() error {
	seen := map[string]bool{}
	for _, entry := range s.Controllers {
		if entry.Name == "" {
			return errInvalid("bus name cannot be empty")
		}
		if seen[entry.Name] {
			return &Error{C: CodeDuplicate,
				Reason: "bus controller " + entry.Name + " is defined more than once"}
		}
		seen[entry.Name] = true
	}
	return nil
}

// DeviceEntry describes one device to register at startup.
type DeviceEntry struct {
	Driver       string          `json:"driver"`
	FriendlyName string          `json:"friendly_name,omitempty"`
	DriverData   json.RawMessage `json:"driver_data"`
}

func (e *DeviceEntry) validate() error {
	if e.Driver == "" {
		return errInvalid("driver name cannot be empty")
	}
	return nil
}

// DeviceSection lists the devices to register at startup.
type DeviceSection struct {
	Devices []DeviceEntry `json:"devices"`
}

func (s *DeviceSection) validate() error {
	for i := range s.Devices {
		if err := s.Devices[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// ------------------------
// Document
// ------------------------

// Config is the whole configuration document.
type Config struct {
	RPC         RPCSection        `json:"rpc_section"`
	ADB         ADBSection        `json:"adb_section"`
	GPIO        GPIOSection       `json:"gpio_section"`
	Controllers ControllerSection `json:"controller_section"`
	Devices     DeviceSection     `json:"device_section"`
}

// Default returns a configuration that binds the RPC server on all
// interfaces and talks to a local ADB server.
func Default() *Config {
	return &Config{
		RPC: RPCSection{ServerHost: "0.0.0.0", ServerPort: 30000},
		ADB: ADBSection{
			ServerHost:     "localhost",
			ServerPort:     5037,
			ReadTimeoutMs:  1000,
			WriteTimeoutMs: 1000,
		},
		GPIO: GPIOSection{PinConfig: map[uint8]uint8{}},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.RPC.validate(); err != nil {
		return err
	}
	if err := c.ADB.validate(); err != nil {
		return err
	}
	if err := c.GPIO.validate(); err != nil {
		return err
	}
	if err := c.Devices.validate(); err != nil {
		return err
	}
	return c.Controllers.validate()
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &Error{C: CodeSerialize,
			Reason: "failed to deserialize config file: " + err.Error(), Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{C: CodeOther, Reason: "failed to read config file: " + err.Error(), Err: err}
	}
	return Parse(data)
}

// Marshal renders the configuration, pretty-printed when requested.
func (c *Config) Marshal(pretty bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = json.Marshal(c)
	}
	if err != nil {
		return nil, &Error{C: CodeSerialize, Reason: "failed to serialize config: " + err.Error(), Err: err}
	}
	return data, nil
}

// Save rewrites the configuration file pretty-printed, preserving the
// previous copy as "<path>.bak". The write itself is atomic.
func Save(path string, c *Config) error {
	data, err := c.Marshal(true)
	if err != nil {
		return err
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := renameio.WriteFile(path+".bak", prev, 0o644); err != nil {
			return &Error{C: CodeOther, Reason: "failed to write backup: " + err.Error(), Err: err}
		}
	}

	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return &Error{C: CodeOther, Reason: "failed to write config file: " + err.Error(), Err: err}
	}
	return nil
}
