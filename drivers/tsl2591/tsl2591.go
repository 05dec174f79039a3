// Package tsl2591 provides a driver for the TSL2591 high-dynamic-range
// ambient light sensor. The sensor exposes two ADC channels (full spectrum
// and infrared) behind a command/register protocol; gain and integration
// time are discrete and must be programmed while the ADC is understood to be
// invalid, so callers re-wait for validity after changing either.
package tsl2591

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the fixed I2C address of the sensor.
const Address = 0x29

// ChipID is the value of the ID register on a live chip.
const ChipID = 0x50

// Registers. Every access is issued through the command bit.
const (
	commandBit = 0xA0

	regEnable   = 0x00
	regControl  = 0x01
	regID       = 0x12
	regStatus   = 0x13
	regChan0LSB = 0x14
	regChan1LSB = 0x16

	enablePowerOff = 0x00
	enablePowerOn  = 0x01
	enableAEN      = 0x02

	statusAVALID = 0x01
)

// LuxDF is the device factor of the lux equation.
const LuxDF = 735.0

// Gain selects the ADC gain.
type Gain uint8

const (
	Gain1x    Gain = 0x00
	Gain25x   Gain = 0x10
	Gain428x  Gain = 0x20
	Gain9876x Gain = 0x30
)

// Multiplier returns the nominal gain multiplier.
func (g Gain) Multiplier() (uint16, bool) {
	switch g {
	case Gain1x:
		return 1, true
	case Gain25x:
		return 25, true
	case Gain428x:
		return 428, true
	case Gain9876x:
		return 9876, true
	}
	return 0, false
}

// GainFromMultiplier is the inverse of Multiplier.
func GainFromMultiplier(m uint16) (Gain, bool) {
	switch m {
	case 1:
		return Gain1x, true
	case 25:
		return Gain25x, true
	case 428:
		return Gain428x, true
	case 9876:
		return Gain9876x, true
	}
	return 0, false
}

// IntegrationTime selects the ADC integration interval.
type IntegrationTime uint8

const (
	Integration100ms IntegrationTime = 0x00
	Integration200ms IntegrationTime = 0x01
	Integration300ms IntegrationTime = 0x02
	Integration400ms IntegrationTime = 0x03
	Integration500ms IntegrationTime = 0x04
	Integration600ms IntegrationTime = 0x05
)

// Millis returns the interval length in milliseconds.
func (t IntegrationTime) Millis() (uint16, bool) {
	if t > Integration600ms {
		return 0, false
	}
	return uint16(t+1) * 100, true
}

// IntegrationFromMillis is the inverse of Millis.
func IntegrationFromMillis(ms uint16) (IntegrationTime, bool) {
	if ms == 0 || ms > 600 || ms%100 != 0 {
		return 0, false
	}
	return IntegrationTime(ms/100 - 1), true
}

// Channel selects which spectrum a luminosity read reports.
type Channel uint8

const (
	ChannelFullSpectrum Channel = 0 // visible + infrared
	ChannelInfrared     Channel = 1
	ChannelVisible      Channel = 2
)

// ChannelNames maps channel ids to their display names, in id order.
var ChannelNames = [3]string{"Visible+Infrared", "Infrared", "Visible"}

// Errors returned by the driver.
var (
	ErrWrongChip  = errors.New("tsl2591: unexpected chip id")
	ErrNotValid   = errors.New("tsl2591: adc not valid")
	ErrTimeout    = errors.New("tsl2591: timed out waiting for the chip to become ready")
	ErrSaturated  = errors.New("tsl2591: sensor is saturated")
	ErrUnderflow  = errors.New("tsl2591: full-spectrum channel read zero")
	ErrBadChannel = errors.New("tsl2591: unknown channel")
)

// Device wraps an I2C connection to a TSL2591 sensor.
type Device struct {
	bus     drivers.I2C
	Address uint16

	gain    Gain
	timing  IntegrationTime
	enabled bool
}

// New creates a device handle. The I2C bus must already be configured; no
// hardware is touched until Configure.
func New(bus drivers.I2C) Device {
	return Device{
		bus:     bus,
		Address: Address,
		gain:    Gain25x,
		timing:  Integration200ms,
	}
}

func (d *Device) command(cmd byte) error {
	return d.bus.Tx(d.Address, []byte{commandBit | cmd}, nil)
}

func (d *Device) write(reg, value byte) error {
	return d.bus.Tx(d.Address, []byte{commandBit | reg, value}, nil)
}

func (d *Device) read(reg byte, buf []byte) error {
	return d.bus.Tx(d.Address, []byte{commandBit | reg}, buf)
}

// Connected reports whether a TSL2591 answers on the bus.
func (d *Device) Connected() bool {
	var id [1]byte
	if err := d.read(regID, id[:]); err != nil {
		return false
	}
	return id[0] == ChipID
}

// Configure verifies the chip identity and programs gain and timing. The
// sensor is left disabled; call Enable before reading.
func (d *Device) Configure(gain Gain, timing IntegrationTime) error {
	var id [1]byte
	if err := d.read(regID, id[:]); err != nil {
		return err
	}
	if id[0] != ChipID {
		return ErrWrongChip
	}
	return d.setControl(gain, timing)
}

func (d *Device) setControl(gain Gain, timing IntegrationTime) error {
	if err := d.write(regControl, byte(timing)|byte(gain)); err != nil {
		return err
	}
	d.gain = gain
	d.timing = timing
	return nil
}

// Gain returns the currently programmed gain.
func (d *Device) Gain() Gain { return d.gain }

// Timing returns the currently programmed integration time.
func (d *Device) Timing() IntegrationTime { return d.timing }

// SetGain reprograms the ADC gain.
func (d *Device) SetGain(gain Gain) error {
	return d.setControl(gain, d.timing)
}

// SetTiming reprograms the integration time.
func (d *Device) SetTiming(timing IntegrationTime) error {
	return d.setControl(d.gain, timing)
}

// Enable powers the oscillator and the ALS ADC.
func (d *Device) Enable() error {
	if err := d.write(regEnable, enablePowerOn|enableAEN); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

// Disable powers the chip down.
func (d *Device) Disable() error {
	if err := d.write(regEnable, enablePowerOff); err != nil {
		return err
	}
	d.enabled = false
	return nil
}

// Valid reports whether the ADC has completed an integration cycle since the
// last configuration change.
func (d *Device) Valid() (bool, error) {
	var status [1]byte
	if err := d.read(regStatus, status[:]); err != nil {
		return false, err
	}
	return status[0]&statusAVALID != 0, nil
}

// WaitValid polls the status register until the ADC is valid, at the given
// step, failing once timeout elapses.
func (d *Device) WaitValid(timeout, step time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := d.Valid()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(step)
	}
}

// ReadRaw returns the two ADC accumulators: full spectrum and infrared.
func (d *Device) ReadRaw() (full, ir uint16, err error) {
	var buf [2]byte
	if err := d.read(regChan0LSB, buf[:]); err != nil {
		return 0, 0, err
	}
	full = uint16(buf[0]) | uint16(buf[1])<<8
	if err := d.read(regChan1LSB, buf[:]); err != nil {
		return 0, 0, err
	}
	ir = uint16(buf[0]) | uint16(buf[1])<<8
	return full, ir, nil
}

// Luminosity returns the raw accumulator for one channel.
func (d *Device) Luminosity(ch Channel) (uint32, error) {
	full, ir, err := d.ReadRaw()
	if err != nil {
		return 0, err
	}
	switch ch {
	case ChannelFullSpectrum:
		return uint32(full), nil
	case ChannelInfrared:
		return uint32(ir), nil
	case ChannelVisible:
		return uint32(full) - uint32(ir), nil
	}
	return 0, ErrBadChannel
}

// Lux converts the current accumulators into lux using the device factor.
// Saturated accumulators and a zero full-spectrum reading are reported as
// errors rather than nonsense values.
func (d *Device) Lux() (float32, error) {
	full, ir, err := d.ReadRaw()
	if err != nil {
		return 0, err
	}
	if full == 0xFFFF || ir == 0xFFFF {
		return 0, ErrSaturated
	}
	if full == 0 {
		return 0, ErrUnderflow
	}

	atime, _ := d.timing.Millis()
	again, _ := d.gain.Multiplier()
	cpl := (float32(atime) * float32(again)) / LuxDF
	c0 := float32(full)
	c1 := float32(ir)
	return (c0 - c1) * (1.0 - c1/c0) / cpl, nil
}
