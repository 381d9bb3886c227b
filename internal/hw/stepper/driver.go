package stepper

import (
	"math"
	"time"
)

// Config holds the motion limits for a ramped driver.
type Config struct {
	MaxSpeed     float64 // steps per second, > 0
	Acceleration float64 // steps per second², > 0
}

type direction int8

const (
	dirCCW direction = -1
	dirCW  direction = 1
)

// Driver generates a bounded-acceleration pulse train on an Output.
// It holds no goroutines and performs no I/O of its own: callers drive it
// by calling Poll in a tight loop, passing the current time. Between
// pulses the driver only does arithmetic, so encoder reads interleave
// safely with it.
//
// The ramp is the classic constant-acceleration schedule: the interval
// between steps follows c(n+1) = c(n) - 2*c(n)/(4n+1), deceleration
// starts when the remaining distance equals v²/(2a), and direction only
// changes through zero speed.
type Driver struct {
	current int64
	target  int64

	dir          direction
	speed        float64 // signed, steps/s
	maxSpeed     float64
	acceleration float64

	stepInterval time.Duration
	lastStepTime time.Time

	rampStep int64   // n: position within the ramp, negative while decelerating
	c0       float64 // initial interval, µs
	cn       float64 // current interval, µs
	cmin     float64 // interval at max speed, µs
}

// New creates a ramp driver. Non-positive config values fall back to a
// conservative 1 step/s and 1 step/s².
func New(cfg Config) *Driver {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = 1
	}
	if cfg.Acceleration <= 0 {
		cfg.Acceleration = 1
	}
	d := &Driver{
		dir:      dirCW,
		maxSpeed: 1,
		cmin:     1e6,
	}
	d.SetMaxSpeed(cfg.MaxSpeed)
	d.SetAcceleration(cfg.Acceleration)
	return d
}

// SetMaxSpeed sets the asymptotic speed in steps/second. Non-positive
// values are ignored.
func (d *Driver) SetMaxSpeed(v float64) {
	if v <= 0 {
		return
	}
	if d.maxSpeed == v {
		return
	}
	d.maxSpeed = v
	d.cmin = 1e6 / v
	// Recompute the ramp position from the current speed.
	if d.rampStep > 0 {
		d.rampStep = int64((d.speed * d.speed) / (2.0 * d.acceleration))
		d.computeNewSpeed()
	}
}

// SetAcceleration sets the ramp rate in steps/second². Non-positive
// values are ignored.
func (d *Driver) SetAcceleration(a float64) {
	if a <= 0 {
		return
	}
	if d.acceleration == a {
		return
	}
	// Rescale the ramp position so the current speed is preserved.
	d.rampStep = int64(float64(d.rampStep) * (d.acceleration / a))
	d.c0 = 0.676 * math.Sqrt(2.0/a) * 1e6
	d.acceleration = a
	d.computeNewSpeed()
}

// MoveTo sets a new absolute target and re-plans the ramp.
func (d *Driver) MoveTo(target int64) {
	if d.target != target {
		d.target = target
		d.computeNewSpeed()
	}
}

// MoveBy sets a new target relative to the current position.
func (d *Driver) MoveBy(delta int64) {
	d.MoveTo(d.current + delta)
}

// Stop re-targets the driver so it decelerates to a halt as fast as the
// acceleration limit permits. Safe to call at any time, including when
// already stopped.
func (d *Driver) Stop() {
	if d.speed == 0 {
		return
	}
	stepsToStop := int64((d.speed*d.speed)/(2.0*d.acceleration)) + 1
	if d.speed > 0 {
		d.MoveBy(stepsToStop)
	} else {
		d.MoveBy(-stepsToStop)
	}
}

// Poll advances the schedule: if a step is due at now, it emits exactly
// one pulse on out and recomputes the ramp. Reports whether a pulse was
// emitted. A no-op when the target is reached and the speed is zero.
// Output errors propagate without retry.
func (d *Driver) Poll(out Output, now time.Time) (bool, error) {
	stepped, err := d.runSpeed(out, now)
	if err != nil {
		return false, err
	}
	if stepped {
		d.computeNewSpeed()
	}
	return stepped, nil
}

// IsRunning reports whether the driver still has speed or distance to
// cover.
func (d *Driver) IsRunning() bool {
	return d.speed != 0 || d.target != d.current
}

// DistanceToGo returns the remaining distance in steps (signed).
func (d *Driver) DistanceToGo() int64 {
	return d.target - d.current
}

// CurrentPosition returns the position in steps.
func (d *Driver) CurrentPosition() int64 {
	return d.current
}

// TargetPosition returns the target in steps.
func (d *Driver) TargetPosition() int64 {
	return d.target
}

// Speed returns the signed speed in steps/second.
func (d *Driver) Speed() float64 {
	return d.speed
}

// MaxSpeed returns the configured speed limit.
func (d *Driver) MaxSpeed() float64 {
	return d.maxSpeed
}

// SetCurrentPosition resets the step reference frame. Only meaningful
// when stopped; it also clears the target and the ramp.
func (d *Driver) SetCurrentPosition(position int64) {
	d.current = position
	d.target = position
	d.rampStep = 0
	d.stepInterval = 0
	d.speed = 0
}

// runSpeed emits a pulse if one is due and accounts for it.
func (d *Driver) runSpeed(out Output, now time.Time) (bool, error) {
	if d.stepInterval == 0 {
		return false, nil
	}
	if now.Sub(d.lastStepTime) < d.stepInterval {
		return false, nil
	}
	if err := out.Step(d.dir == dirCW); err != nil {
		return false, err
	}
	d.current += int64(d.dir)
	d.lastStepTime = now
	return true, nil
}

// computeNewSpeed re-plans the ramp after a step, a re-target or a limit
// change.
func (d *Driver) computeNewSpeed() {
	distanceTo := d.target - d.current
	stepsToStop := int64((d.speed * d.speed) / (2.0 * d.acceleration))

	if distanceTo == 0 && stepsToStop <= 1 {
		// At the target and essentially stopped.
		d.stepInterval = 0
		d.speed = 0
		d.rampStep = 0
		return
	}

	if distanceTo > 0 {
		// Target is ahead (clockwise).
		if d.rampStep > 0 {
			// Accelerating: start braking if we would overshoot, or if
			// we are moving the wrong way.
			if stepsToStop >= distanceTo || d.dir == dirCCW {
				d.rampStep = -stepsToStop
			}
		} else if d.rampStep < 0 {
			// Decelerating: resume acceleration if there is room and the
			// direction is right.
			if stepsToStop < distanceTo && d.dir == dirCW {
				d.rampStep = -d.rampStep
			}
		}
	} else if distanceTo < 0 {
		if d.rampStep > 0 {
			if stepsToStop >= -distanceTo || d.dir == dirCW {
				d.rampStep = -stepsToStop
			}
		} else if d.rampStep < 0 {
			if stepsToStop < -distanceTo && d.dir == dirCCW {
				d.rampStep = -d.rampStep
			}
		}
	}

	if d.rampStep == 0 {
		// First step after having been stopped: direction may change
		// here, and only here.
		d.cn = d.c0
		if distanceTo > 0 {
			d.dir = dirCW
		} else {
			d.dir = dirCCW
		}
	} else {
		d.cn = d.cn - (2.0*d.cn)/(4.0*float64(d.rampStep)+1.0)
		if d.cn < d.cmin {
			d.cn = d.cmin
		}
	}
	d.rampStep++

	// Round the interval up so the instantaneous speed never exceeds the
	// configured maximum.
	d.stepInterval = time.Duration(math.Ceil(d.cn * float64(time.Microsecond)))
	d.speed = 1e6 / d.cn
	if d.dir == dirCCW {
		d.speed = -d.speed
	}
}
