// Package limitswitch debounces the mechanical home switch and turns
// each press into a single home event.
package limitswitch

import (
	"fmt"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

// DefaultDebounce is how long the raw pin level must hold before a
// state change is accepted.
const DefaultDebounce = 30 * time.Millisecond

// Gate reads the switch through a pull-up, so the pin is low while the
// switch is pressed. It is not safe for concurrent use.
type Gate struct {
	gpio     gpio.Driver
	pin      int
	debounce time.Duration

	lastRaw  gpio.Level
	lastFlip time.Time
	primed   bool

	pressed bool // debounced state
	homed   bool // an event was already emitted for this press
}

// New configures the switch pin as a pulled-up input. A non-positive
// debounce selects DefaultDebounce.
func New(g gpio.Driver, pin int, debounce time.Duration) (*Gate, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setting up limit switch pin (%d): %w", pin, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Gate{gpio: g, pin: pin, debounce: debounce}, nil
}

// Poll samples the switch at the given time. It returns true exactly
// once per debounced press; the caller zeroes the encoder on that
// event. The press is re-armed only after a debounced release.
func (gt *Gate) Poll(now time.Time) (bool, error) {
	raw, err := gt.gpio.ReadPin(gt.pin)
	if err != nil {
		return false, fmt.Errorf("reading limit switch: %w", err)
	}
	if !gt.primed || raw != gt.lastRaw {
		gt.lastRaw = raw
		gt.lastFlip = now
		gt.primed = true
		return false, nil
	}
	if now.Sub(gt.lastFlip) < gt.debounce {
		return false, nil
	}
	pressed := raw == gpio.Low
	if pressed == gt.pressed {
		return false, nil
	}
	gt.pressed = pressed
	if !pressed {
		gt.homed = false
		return false, nil
	}
	if gt.homed {
		return false, nil
	}
	gt.homed = true
	return true, nil
}

// Pressed reports the debounced switch state.
func (gt *Gate) Pressed() bool {
	return gt.pressed
}
