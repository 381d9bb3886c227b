// Package rtc reads the DS3231 real-time clock over I²C. The tracker
// has no network time once deployed in the field, so sun position math
// depends entirely on this chip.
package rtc

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// I2CAddr is the fixed I²C address of the DS3231.
const I2CAddr uint16 = 0x68

// Register map, the subset this driver touches.
const (
	regSeconds = 0x00
	regStatus  = 0x0F
	regTempMSB = 0x11

	statusOSF = 0x80 // oscillator stop flag
)

// ErrOscillatorStopped is returned by Now when the oscillator stop flag
// is set: the clock lost power at some point and its time cannot be
// trusted until it is set again.
var ErrOscillatorStopped = errors.New("rtc: oscillator was stopped, time is not trustworthy")

// Dev is a handle to a DS3231. The chip keeps no zone; this driver
// stores and returns UTC.
type Dev struct {
	c *i2c.Dev
}

// New opens the DS3231 on the given bus. It probes the status register
// so a missing or unwired chip fails here rather than at the first use.
func New(b i2c.Bus) (*Dev, error) {
	d := &Dev{c: &i2c.Dev{Bus: b, Addr: I2CAddr}}
	if _, err := d.status(); err != nil {
		return nil, fmt.Errorf("probing DS3231: %w", err)
	}
	return d, nil
}

// String returns the device name in a readable format.
func (d *Dev) String() string {
	return "DS3231"
}

func (d *Dev) status() (byte, error) {
	var buf [1]byte
	if err := d.c.Tx([]byte{regStatus}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Now reads the current time in UTC. It returns ErrOscillatorStopped
// when the chip reports it lost power since the time was last set.
func (d *Dev) Now() (time.Time, error) {
	st, err := d.status()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading DS3231 status: %w", err)
	}
	if st&statusOSF != 0 {
		return time.Time{}, ErrOscillatorStopped
	}

	var buf [7]byte
	if err := d.c.Tx([]byte{regSeconds}, buf[:]); err != nil {
		return time.Time{}, fmt.Errorf("reading DS3231 time: %w", err)
	}
	sec := fromBCD(buf[0] & 0x7F)
	min := fromBCD(buf[1] & 0x7F)
	hour := fromBCD(buf[2] & 0x3F) // always run in 24h mode
	day := fromBCD(buf[4] & 0x3F)
	month := time.Month(fromBCD(buf[5] & 0x1F))
	year := 2000 + fromBCD(buf[6])
	if buf[5]&0x80 != 0 { // century flag
		year += 100
	}
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC), nil
}

// SetTime writes the time to the chip and clears the oscillator stop
// flag, marking the clock trustworthy again.
func (d *Dev) SetTime(t time.Time) error {
	t = t.UTC()
	w := []byte{
		regSeconds,
		toBCD(t.Second()),
		toBCD(t.Minute()),
		toBCD(t.Hour()),
		byte(t.Weekday()) + 1, // chip counts 1..7
		toBCD(t.Day()),
		toBCD(int(t.Month())),
		toBCD(t.Year() % 100),
	}
	if err := d.c.Tx(w, nil); err != nil {
		return fmt.Errorf("writing DS3231 time: %w", err)
	}

	st, err := d.status()
	if err != nil {
		return fmt.Errorf("reading DS3231 status: %w", err)
	}
	if err := d.c.Tx([]byte{regStatus, st &^ statusOSF}, nil); err != nil {
		return fmt.Errorf("clearing oscillator stop flag: %w", err)
	}
	return nil
}

// Temperature reads the die temperature in °C at 0.25°C resolution. The
// chip updates it every 64 seconds.
func (d *Dev) Temperature() (float64, error) {
	var buf [2]byte
	if err := d.c.Tx([]byte{regTempMSB}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading DS3231 temperature: %w", err)
	}
	raw := int16(buf[0])<<8 | int16(buf[1])
	return float64(raw>>6) * 0.25, nil
}

func toBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}
