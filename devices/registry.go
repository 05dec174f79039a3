// Package devices contains the concrete device drivers the supervisor can
// load from configuration, and the name→factory registry the loader uses.
// Each driver wires one or more bus handles to the capability interfaces it
// advertises.
package devices

import (
	"errors"

	"github.com/goccy/go-json"

	"devsup-go/config"
	"devsup-go/device"
)

// ErrUnknownDriver is returned for a driver name the registry does not know.
// The loader logs such entries and skips them.
var ErrUnknownDriver = errors.New("unknown device driver")

// Factory builds a driver from its configuration entry.
type Factory func(entry *config.DeviceEntry) (device.Driver, error)

var registry = map[string]Factory{
	"sysfs_generic_led": NewSysfsLEDFromConfig,
	"gps_uart":          NewUARTGPSFromConfig,
	"tsl2591":           NewTSL2591FromConfig,
	"bmp280":            NewBMP280FromConfig,
}

// New builds the driver named by entry.Driver.
func New(entry *config.DeviceEntry) (device.Driver, error) {
	factory, ok := registry[entry.Driver]
	if !ok {
		return nil, ErrUnknownDriver
	}
	return factory(entry)
}

// Known returns every registered driver name.
func Known() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// decodeDriverData unmarshals a driver payload into cfg. When the entry has
// no payload, the defaulted cfg is written back into the entry and an error
// is returned: the administrator gets a template to edit, but startup does
// not continue on defaults.
func decodeDriverData[T any](entry *config.DeviceEntry, def T, cfg *T) error {
	if len(entry.DriverData) == 0 || string(entry.DriverData) == "null" {
		raw, err := json.Marshal(def)
		if err != nil {
			return device.ErrInvalidConfig(
				"device was missing config data, default config failed to be written: %v", err)
		}
		entry.DriverData = raw
		return device.ErrInvalidConfig("device was missing config data, default config was written")
	}
	if err := json.Unmarshal(entry.DriverData, cfg); err != nil {
		return device.ErrInvalidConfig("failed to deserialize device config data: %v", err)
	}
	return nil
}
