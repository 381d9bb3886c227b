// Package relay drives the motor power relay. The stepper driver is
// powered only while the tracker is actively moving, which keeps the
// idle draw down.
package relay

import (
	"fmt"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

// DefaultSettle is how long to wait after energising before the first
// step pulse, so the driver electronics are awake when motion starts.
const DefaultSettle = 100 * time.Millisecond

// Relay switches the stepper driver's power rail. Active high: writing
// HIGH closes the relay. Not safe for concurrent use.
type Relay struct {
	gpio   gpio.Driver
	pin    int
	settle time.Duration
	on     bool
}

// New configures the relay pin as an output and leaves the relay open.
// A non-positive settle selects DefaultSettle.
func New(g gpio.Driver, pin int, settle time.Duration) (*Relay, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setting up relay pin (%d): %w", pin, err)
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, fmt.Errorf("opening relay: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Relay{gpio: g, pin: pin, settle: settle}, nil
}

// On closes the relay and waits for the settle time. Calling it while
// already closed is a no-op.
func (r *Relay) On() error {
	if r.on {
		return nil
	}
	debug.Verbose("Relay: motor power on (pin %d -> HIGH)", r.pin)
	if err := r.gpio.WritePin(r.pin, gpio.High); err != nil {
		return fmt.Errorf("closing relay: %w", err)
	}
	r.on = true
	time.Sleep(r.settle)
	return nil
}

// Off opens the relay. Calling it while already open is a no-op.
func (r *Relay) Off() error {
	if !r.on {
		return nil
	}
	debug.Verbose("Relay: motor power off (pin %d -> LOW)", r.pin)
	if err := r.gpio.WritePin(r.pin, gpio.Low); err != nil {
		return fmt.Errorf("opening relay: %w", err)
	}
	r.on = false
	return nil
}

// IsOn reports whether the relay is closed.
func (r *Relay) IsOn() bool {
	return r.on
}
