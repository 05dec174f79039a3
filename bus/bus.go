// Package bus implements the bus-controller layer: polymorphic controllers
// for raw GPIO, I²C, PWM and UART that claim pins through the gpio arbiter
// and vend handles whose lifetime is tied to those leases.
//
// Controllers are interior-mutable: they are co-owned by the device server
// and by every driver that has cached a pointer, and they serialize their own
// state. Handles serialize the channel they wrap; two channels on the same
// controller may be used concurrently.
package bus

import (
	"github.com/goccy/go-json"
)

// Controller is the uniform protocol every bus-controller variant implements.
// Concrete access goes through a typed lookup on the device server; Name is
// used for logging and duplicate detection.
type Controller interface {
	Name() string
}

// ConfigEntry is one serialized controller entry from the configuration
// file: a controller name plus a variant-specific payload.
type ConfigEntry struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// decodeEntry unmarshals a controller payload into cfg. When the entry is
// missing or null, the defaulted cfg is written back into the entry and an
// invalid-config error is returned: the administrator gets an editable
// template but startup refuses to continue with defaults.
func decodeEntry[T any](entry *ConfigEntry, def T, cfg *T) error {
	if entry == nil || len(entry.Data) == 0 || string(entry.Data) == "null" {
		raw, err := json.Marshal(def)
		if err != nil {
			return errInvalidConfig("controller entry was empty and the default template could not be produced: %v", err)
		}
		if entry != nil {
			entry.Data = raw
		}
		return errInvalidConfig("controller entry was empty, a default template was written back")
	}
	if err := json.Unmarshal(entry.Data, cfg); err != nil {
		return errInvalidConfig("failed to decode controller entry: %v", err)
	}
	return nil
}
