package rtc

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

// probe is the status read New issues to verify the chip is present.
var probe = i2ctest.IO{Addr: 0x68, W: []byte{regStatus}, R: []byte{0x00}}

func mustClose(t *testing.T, b *i2ctest.Playback) {
	t.Helper()
	if err := b.Close(); err != nil {
		t.Errorf("unconsumed I²C ops: %v", err)
	}
}

func TestNow_DecodesBCDTime(t *testing.T) {
	b := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			probe,
			{Addr: 0x68, W: []byte{regStatus}, R: []byte{0x00}},
			{Addr: 0x68, W: []byte{regSeconds}, R: []byte{0x30, 0x59, 0x23, 0x02, 0x31, 0x12, 0x25}},
		},
	}
	d, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := d.Now()
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	want := time.Date(2025, time.December, 31, 23, 59, 30, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
	mustClose(t, b)
}

func TestNow_OscillatorStopFlag(t *testing.T) {
	b := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			probe,
			{Addr: 0x68, W: []byte{regStatus}, R: []byte{statusOSF}},
		},
	}
	d, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := d.Now(); !errors.Is(err, ErrOscillatorStopped) {
		t.Errorf("Now() error = %v, want ErrOscillatorStopped", err)
	}
	mustClose(t, b)
}

func TestSetTime_WritesTimeAndClearsOSF(t *testing.T) {
	b := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			probe,
			// 2026-08-26 is a Wednesday, chip weekday 4.
			{Addr: 0x68, W: []byte{regSeconds, 0x56, 0x34, 0x12, 0x04, 0x26, 0x08, 0x26}},
			{Addr: 0x68, W: []byte{regStatus}, R: []byte{statusOSF | 0x08}},
			{Addr: 0x68, W: []byte{regStatus, 0x08}},
		},
	}
	d, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.SetTime(time.Date(2026, time.August, 26, 12, 34, 56, 0, time.UTC)); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	mustClose(t, b)
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		name string
		msb  byte
		lsb  byte
		want float64
	}{
		{"positive quarter steps", 0x19, 0x40, 25.25},
		{"negative", 0xFF, 0xC0, -0.25},
		{"zero", 0x00, 0x00, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &i2ctest.Playback{
				Ops: []i2ctest.IO{
					probe,
					{Addr: 0x68, W: []byte{regTempMSB}, R: []byte{tc.msb, tc.lsb}},
				},
			}
			d, err := New(b)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := d.Temperature()
			if err != nil {
				t.Fatalf("Temperature: %v", err)
			}
			if got != tc.want {
				t.Errorf("Temperature() = %v, want %v", got, tc.want)
			}
			mustClose(t, b)
		})
	}
}

func TestBCDRoundTrip(t *testing.T) {
	for v := 0; v < 100; v++ {
		if got := fromBCD(toBCD(v)); got != v {
			t.Fatalf("fromBCD(toBCD(%d)) = %d", v, got)
		}
	}
}
