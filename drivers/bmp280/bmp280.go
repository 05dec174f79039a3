// Package bmp280 provides a driver for the BMP280 combined barometer and
// thermometer. Raw ADC words are useless without the per-part factory
// calibration, so Configure reads the calibration block once and every
// sample is compensated with the Bosch reference algorithm.
package bmp280

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the default I2C address (SDO low).
const Address = 0x76

// ChipID is the value of the ID register on a live chip.
const ChipID = 0x58

// Registers.
const (
	regCalib0   = 0x88
	calibLen    = 24
	regID       = 0xD0
	regReset    = 0xE0
	regStatus   = 0xF3
	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regPressMSB = 0xF7
	regTempMSB  = 0xFA

	resetValue = 0xB6

	// measuring (bit 3) and im_update (bit 0) must both be clear
	statusBusyMask = 0x09
)

// Mode selects the power mode written into ctrl_meas.
type Mode uint8

const (
	ModeSleep  Mode = 0x00
	ModeForced Mode = 0x01
	ModeNormal Mode = 0x03
)

// Oversampling selects the per-measurement sample count.
type Oversampling uint8

const (
	Oversampling1x  Oversampling = 0x01
	Oversampling2x  Oversampling = 0x02
	Oversampling4x  Oversampling = 0x03
	Oversampling8x  Oversampling = 0x04
	Oversampling16x Oversampling = 0x05
)

// Multiplier returns the oversampling factor.
func (o Oversampling) Multiplier() (uint16, bool) {
	switch o {
	case Oversampling1x:
		return 1, true
	case Oversampling2x:
		return 2, true
	case Oversampling4x:
		return 4, true
	case Oversampling8x:
		return 8, true
	case Oversampling16x:
		return 16, true
	}
	return 0, false
}

// OversamplingFromMultiplier is the inverse of Multiplier.
func OversamplingFromMultiplier(m uint16) (Oversampling, bool) {
	switch m {
	case 1:
		return Oversampling1x, true
	case 2:
		return Oversampling2x, true
	case 4:
		return Oversampling4x, true
	case 8:
		return Oversampling8x, true
	case 16:
		return Oversampling16x, true
	}
	return 0, false
}

// Standby selects the pause between measurements in normal mode.
type Standby uint8

const (
	Standby1ms    Standby = 0x00
	Standby63ms   Standby = 0x01
	Standby125ms  Standby = 0x02
	Standby250ms  Standby = 0x03
	Standby500ms  Standby = 0x04
	Standby1000ms Standby = 0x05
	Standby2000ms Standby = 0x06
	Standby4000ms Standby = 0x07
)

// Millis returns the standby length in milliseconds.
func (s Standby) Millis() (uint16, bool) {
	switch s {
	case Standby1ms:
		return 1, true
	case Standby63ms:
		return 63, true
	case Standby125ms:
		return 125, true
	case Standby250ms:
		return 250, true
	case Standby500ms:
		return 500, true
	case Standby1000ms:
		return 1000, true
	case Standby2000ms:
		return 2000, true
	case Standby4000ms:
		return 4000, true
	}
	return 0, false
}

// StandbyFromMillis is the inverse of Millis.
func StandbyFromMillis(ms uint16) (Standby, bool) {
	for s := Standby1ms; s <= Standby4000ms; s++ {
		if v, _ := s.Millis(); v == ms {
			return s, true
		}
	}
	return 0, false
}

// Errors returned by the driver.
var (
	ErrWrongChip = errors.New("bmp280: unexpected chip id")
	ErrTimeout   = errors.New("bmp280: timed out waiting for the chip to become ready")
)

type calibration struct {
	t1         uint16
	t2, t3     int16
	p1         uint16
	p2, p3, p4 int16
	p5, p6, p7 int16
	p8, p9     int16
}

// Device wraps an I2C connection to a BMP280 sensor.
type Device struct {
	bus     drivers.I2C
	Address uint16

	calib        calibration
	oversampling Oversampling
	standby      Standby
}

// New creates a device handle. The I2C bus must already be configured; no
// hardware is touched until Configure.
func New(bus drivers.I2C) Device {
	return Device{
		bus:          bus,
		Address:      Address,
		oversampling: Oversampling16x,
		standby:      Standby63ms,
	}
}

func (d *Device) write(reg, value byte) error {
	return d.bus.Tx(d.Address, []byte{reg, value}, nil)
}

func (d *Device) read(reg byte, buf []byte) error {
	return d.bus.Tx(d.Address, []byte{reg}, buf)
}

// Connected reports whether a BMP280 answers on the bus.
func (d *Device) Connected() bool {
	var id [1]byte
	if err := d.read(regID, id[:]); err != nil {
		return false
	}
	return id[0] == ChipID
}

// Reset issues a soft reset. Give the chip a few milliseconds afterwards.
func (d *Device) Reset() error {
	return d.write(regReset, resetValue)
}

// Configure verifies the chip identity, reads the factory calibration and
// programs standby, oversampling and mode.
func (d *Device) Configure(standby Standby, oversampling Oversampling, mode Mode) error {
	var id [1]byte
	if err := d.read(regID, id[:]); err != nil {
		return err
	}
	if id[0] != ChipID {
		return ErrWrongChip
	}

	if err := d.readCalibration(); err != nil {
		return err
	}

	if err := d.write(regConfig, byte(standby)<<5); err != nil {
		return err
	}
	ctrl := byte(oversampling)<<5 | byte(oversampling)<<2 | byte(mode)
	if err := d.write(regCtrlMeas, ctrl); err != nil {
		return err
	}

	d.standby = standby
	d.oversampling = oversampling
	return nil
}

// Oversampling returns the currently programmed oversampling.
func (d *Device) Oversampling() Oversampling { return d.oversampling }

// Standby returns the currently programmed standby interval.
func (d *Device) Standby() Standby { return d.standby }

func (d *Device) readCalibration() error {
	var buf [calibLen]byte
	if err := d.read(regCalib0, buf[:]); err != nil {
		return err
	}
	u16 := func(i int) uint16 { return uint16(buf[i]) | uint16(buf[i+1])<<8 }
	i16 := func(i int) int16 { return int16(u16(i)) }

	d.calib = calibration{
		t1: u16(0), t2: i16(2), t3: i16(4),
		p1: u16(6), p2: i16(8), p3: i16(10), p4: i16(12),
		p5: i16(14), p6: i16(16), p7: i16(18),
		p8: i16(20), p9: i16(22),
	}
	return nil
}

// Busy reports whether a conversion or register copy is in flight.
func (d *Device) Busy() (bool, error) {
	var status [1]byte
	if err := d.read(regStatus, status[:]); err != nil {
		return false, err
	}
	return status[0]&statusBusyMask != 0, nil
}

// WaitReady polls the status register at the given step until the chip is
// idle, failing once timeout elapses.
func (d *Device) WaitReady(timeout, step time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		busy, err := d.Busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(step)
	}
}

// ReadSample returns the compensated temperature (°C) and pressure (Pa).
func (d *Device) ReadSample() (tempC, pressurePa float32, err error) {
	var buf [6]byte
	if err := d.read(regPressMSB, buf[:]); err != nil {
		return 0, 0, err
	}

	rawPres := int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4
	rawTemp := int32(buf[3])<<12 | int32(buf[4])<<4 | int32(buf[5])>>4

	t, p := d.compensate(rawTemp, rawPres)
	return t, p, nil
}

// compensate implements the Bosch reference floating-point compensation.
func (d *Device) compensate(rawTemp, rawPres int32) (tempC, pressurePa float32) {
	c := &d.calib

	v1 := (float64(rawTemp)/16384.0 - float64(c.t1)/1024.0) * float64(c.t2)
	v2 := (float64(rawTemp)/131072.0 - float64(c.t1)/8192.0) *
		(float64(rawTemp)/131072.0 - float64(c.t1)/8192.0) * float64(c.t3)
	tFine := v1 + v2
	tempC = float32(tFine / 5120.0)

	p1 := tFine/2.0 - 64000.0
	p2 := p1 * p1 * float64(c.p6) / 32768.0
	p2 = p2 + p1*float64(c.p5)*2.0
	p2 = p2/4.0 + float64(c.p4)*65536.0
	p1 = (float64(c.p3)*p1*p1/524288.0 + float64(c.p2)*p1) / 524288.0
	p1 = (1.0 + p1/32768.0) * float64(c.p1)
	if p1 == 0 {
		return tempC, 0 // avoid division by zero on an unprogrammed part
	}
	p := 1048576.0 - float64(rawPres)
	p = (p - p2/4096.0) * 6250.0 / p1
	v1 = float64(c.p9) * p * p / 2147483648.0
	v2 = p * float64(c.p8) / 32768.0
	p = p + (v1+v2+float64(c.p7))/16.0
	return tempC, float32(p)
}
