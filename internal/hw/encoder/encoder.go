// Package encoder decodes the quadrature signal from the azimuth encoder
// into a signed tick count.
package encoder

import (
	"fmt"

	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

// quadTable maps (previous<<2 | current) A/B pin states to a tick delta.
// A is bit 1, B is bit 0. Transitions that skip a quadrature state (both
// lines changing in one sample) decode to 0.
var quadTable = [16]int64{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// Decoder accumulates ticks from A/B level transitions. It is not safe
// for concurrent use; the motion loop owns it.
type Decoder struct {
	gpio   gpio.Driver
	pinA   int
	pinB   int
	last   uint8
	ticks  int64
	seeded bool
}

// New configures both encoder lines as pulled-up inputs.
func New(g gpio.Driver, pinA, pinB int) (*Decoder, error) {
	if err := g.SetupPin(pinA, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setting up encoder pin A (%d): %w", pinA, err)
	}
	if err := g.SetupPin(pinB, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setting up encoder pin B (%d): %w", pinB, err)
	}
	return &Decoder{gpio: g, pinA: pinA, pinB: pinB}, nil
}

func (d *Decoder) read() (uint8, error) {
	a, err := d.gpio.ReadPin(d.pinA)
	if err != nil {
		return 0, fmt.Errorf("reading encoder pin A: %w", err)
	}
	b, err := d.gpio.ReadPin(d.pinB)
	if err != nil {
		return 0, fmt.Errorf("reading encoder pin B: %w", err)
	}
	var state uint8
	if a == gpio.High {
		state |= 2
	}
	if b == gpio.High {
		state |= 1
	}
	return state, nil
}

// Seed latches the current pin state without counting a transition. Call
// it before a burst of samples whenever the lines were left unobserved,
// so a stale state does not decode as movement.
func (d *Decoder) Seed() error {
	state, err := d.read()
	if err != nil {
		return err
	}
	d.last = state
	d.seeded = true
	return nil
}

// Sample reads both lines once and applies the transition table. The
// first sample after construction only latches the state.
func (d *Decoder) Sample() error {
	if !d.seeded {
		return d.Seed()
	}
	state, err := d.read()
	if err != nil {
		return err
	}
	d.ticks += quadTable[d.last<<2|state]
	d.last = state
	return nil
}

// SampleBurst takes n consecutive samples. The decoder sees at most one
// transition per sample, so bursts are how the motion loop keeps up with
// the encoder between step pulses.
func (d *Decoder) SampleBurst(n int) error {
	for i := 0; i < n; i++ {
		if err := d.Sample(); err != nil {
			return err
		}
	}
	return nil
}

// Ticks returns the accumulated tick count.
func (d *Decoder) Ticks() int64 {
	return d.ticks
}

// SetTicks overwrites the accumulated count. Used when zeroing at the
// home position and when seeding from a persisted snapshot.
func (d *Decoder) SetTicks(t int64) {
	d.ticks = t
}

// Seeded reports whether the decoder has latched an initial pin state.
func (d *Decoder) Seeded() bool {
	return d.seeded
}
