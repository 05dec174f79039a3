package bus

import (
	"errors"

	"devsup-go/gpio"
)

// ErrUnknownController is returned for a controller name the registry does
// not know. The loader logs such entries and skips them.
var ErrUnknownController = errors.New("unknown bus controller")

// FromConfigEntry builds the controller named by entry.Name. Empty entries
// get a default template written back and fail, per the FromConfig contract.
func FromConfigEntry(arbiter *gpio.Arbiter, entry *ConfigEntry) (Controller, error) {
	switch entry.Name {
	case "raw":
		return RawFromConfig(arbiter, entry)
	case "i2c":
		return I2CFromConfig(arbiter, entry)
	case "pwm":
		return PWMFromConfig(arbiter, entry)
	case "uart":
		return UARTFromConfig(arbiter, entry)
	}
	return nil, ErrUnknownController
}

// KnownControllers returns every controller name the registry accepts.
func KnownControllers() []string {
	return []string{"raw", "i2c", "pwm", "uart"}
}
