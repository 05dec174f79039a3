package device

import "sync"

// CapabilityID names one capability interface a driver may implement. The
// set of capabilities a driver offers is probed once at record construction
// and never changes afterwards.
type CapabilityID string

const (
	CapLEDController CapabilityID = "led_controller"
	CapGPS           CapabilityID = "gps"
	CapLightSensor   CapabilityID = "light_sensor"
	CapThermometer   CapabilityID = "thermometer"
	CapBarometer     CapabilityID = "barometer"
)

// ------------------------
// Capability registry
// ------------------------

var (
	capMu     sync.RWMutex
	capProbes = map[CapabilityID]func(Driver) bool{}
)

// RegisterCapability adds a capability to the probe registry. The built-in
// capabilities register themselves; tests may add their own before
// constructing records.
func RegisterCapability(id CapabilityID, probe func(Driver) bool) {
	capMu.Lock()
	defer capMu.Unlock()
	capProbes[id] = probe
}

// probeCapabilities runs every registered probe against d once.
func probeCapabilities(d Driver) map[CapabilityID]bool {
	capMu.RLock()
	defer capMu.RUnlock()
	caps := make(map[CapabilityID]bool, len(capProbes))
	for id, probe := range capProbes {
		if probe(d) {
			caps[id] = true
		}
	}
	return caps
}

func init() {
	RegisterCapability(CapLEDController, func(d Driver) bool { _, ok := d.(LEDController); return ok })
	RegisterCapability(CapGPS, func(d Driver) bool { _, ok := d.(GPS); return ok })
	RegisterCapability(CapLightSensor, func(d Driver) bool { _, ok := d.(LightSensor); return ok })
	RegisterCapability(CapThermometer, func(d Driver) bool { _, ok := d.(Thermometer); return ok })
	RegisterCapability(CapBarometer, func(d Driver) bool { _, ok := d.(Barometer); return ok })
}

// ------------------------
// Capability interfaces
// ------------------------

// LEDMode selects between the two emitter banks of an LED controller.
type LEDMode string

const (
	LEDVisible  LEDMode = "visible"
	LEDInfrared LEDMode = "infrared"
)

// LEDController drives an LED bank: mode, brightness and power.
type LEDController interface {
	Mode() (LEDMode, error)
	SetMode(LEDMode) error
	Brightness() (float32, error)
	SetBrightness(float32) error
	PowerState() (bool, error)
	SetPowerState(bool) error
}

// Satellite is one satellite in view as reported by the receiver.
type Satellite struct {
	ID        int64 `json:"id"`
	Elevation int64 `json:"elevation"`
	Azimuth   int64 `json:"azimuth"`
	SNR       int64 `json:"snr"`
}

// GPS exposes the receiver's last known navigation state.
type GPS interface {
	Location() (lat, lon float64, err error)
	Altitude() (float32, error)
	HasFix() (bool, error)
	Speed() (float32, error)
	Heading() (float32, error)
	Satellites() ([]Satellite, error)
	HorizontalAccuracy() (float32, error)
	VerticalAccuracy() (float32, error)
}

// LightSensor exposes an ambient-light sensor with discrete gain and
// integration-interval tables. Setters take an index into the corresponding
// supported table, symmetric with enumeration.
type LightSensor interface {
	SupportedGains() map[uint8]uint16
	SupportedIntervals() map[uint8]uint16
	SupportedChannels() map[uint8]string
	AutoGain() (bool, error)
	SetAutoGain(bool) error
	Gain() (uint16, error)
	SetGain(gainID uint8) error
	Interval() (uint16, error)
	SetInterval(intervalID uint8) error
	Luminosity(channelID uint8) (uint32, error)
	Lux() (float32, error)
}

// Thermometer reports ambient temperature in degrees Celsius.
type Thermometer interface {
	TemperatureC() (float32, error)
}

// Barometer reports ambient pressure in pascals.
type Barometer interface {
	PressurePa() (float32, error)
}

// As returns the driver behind r as capability C, if it implements it.
func As[C any](r *Record) (C, bool) {
	c, ok := r.driver.(C)
	return c, ok
}
