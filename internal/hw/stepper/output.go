package stepper

import (
	"fmt"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

// Output drives the physical step interface of a motor driver chip.
// Drivers emit exactly one pulse per call.
type Output interface {
	// Step emits one pulse: direction line, step high, a hold of at
	// least one microsecond, step low.
	Step(forward bool) error
}

// StepAndDir is the stock Output over two GPIO lines (STEP, DIR).
type StepAndDir struct {
	gpio       gpio.Driver
	stepPin    int
	dirPin     int
	pulseWidth time.Duration
}

// NewStepAndDir configures the two output pins and returns the Output.
// pulseWidth below 1µs is raised to 1µs, the minimum most driver chips
// accept.
func NewStepAndDir(g gpio.Driver, stepPin, dirPin int, pulseWidth time.Duration) (*StepAndDir, error) {
	if err := g.SetupPin(stepPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup step pin %d: %w", stepPin, err)
	}
	if err := g.SetupPin(dirPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup dir pin %d: %w", dirPin, err)
	}
	if pulseWidth < time.Microsecond {
		pulseWidth = time.Microsecond
	}
	return &StepAndDir{
		gpio:       g,
		stepPin:    stepPin,
		dirPin:     dirPin,
		pulseWidth: pulseWidth,
	}, nil
}

func (s *StepAndDir) Step(forward bool) error {
	dir := gpio.Low
	if forward {
		dir = gpio.High
	}
	if err := s.gpio.WritePin(s.dirPin, dir); err != nil {
		return err
	}
	if err := s.gpio.WritePin(s.stepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.pulseWidth)
	return s.gpio.WritePin(s.stepPin, gpio.Low)
}
