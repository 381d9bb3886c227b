package tracking

import (
	"fmt"

	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/logic/geometry"
)

// runHoming seeks the limit switch: a clockwise advance to get clear of
// it, then a counter-clockwise sweep in chunks, polling the gate inside
// the motion loop. The switch zeroes the encoder and pins the position
// to the home azimuth. Returns ErrHomeNotFound when the sweep exhausts
// without a press.
func (c *Controller) runHoming() error {
	debug.Section("Homing")

	if err := c.power.On(); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	defer func() {
		if err := c.power.Off(); err != nil {
			debug.Error(fmt.Errorf("relay off: %w", err))
		}
	}()

	if err := c.enc.Seed(); err != nil {
		return err
	}

	// The switch may already be held down from a previous park. Give
	// the gate a debounce window to say so before moving anywhere.
	start := c.now()
	for c.now().Sub(start) < 2*gateSettle {
		home, err := c.home.Poll(c.now())
		if err != nil {
			return err
		}
		if home {
			c.applyHome()
			return nil
		}
		c.sleep(gatePollPause)
	}

	// Advance clockwise, away from the switch.
	debug.Live("Homing: advancing %.1f degrees", c.p.HomingAdvanceDeg)
	found, err := c.driveChunk(geometry.DegreesToSteps(c.p.HomingAdvanceDeg), false)
	if err != nil {
		return err
	}
	_ = found // gate not watched on the advance

	// Sweep counter-clockwise until the switch fires or the span runs
	// out.
	chunk := geometry.DegreesToSteps(c.p.HomingChunkDeg)
	if chunk < 1 {
		chunk = 1
	}
	total := geometry.DegreesToSteps(c.p.HomingSweepDeg)
	debug.Live("Homing: sweeping up to %.1f degrees in %.2f-degree chunks", c.p.HomingSweepDeg, c.p.HomingChunkDeg)
	for swept := int64(0); swept < total; swept += chunk {
		found, err := c.driveChunk(-chunk, true)
		if err != nil {
			return err
		}
		if found {
			c.applyHome()
			return nil
		}
		c.sleep(c.p.ChunkPause)
	}

	return ErrHomeNotFound
}

// applyHome pins the reference frame to the switch: the encoder is at
// the calibrated home count, the tower at the home azimuth.
func (c *Controller) applyHome() {
	c.enc.SetTicks(c.p.HomeTicks)
	c.driver.SetCurrentPosition(0)
	c.position = geometry.HomeAzimuthDeg
	c.homed = true
	debug.Info("Homed: position %.1f, encoder %d ticks", c.position, c.enc.Ticks())
	c.persistPosition()
	c.metrics.SetPosition(c.position, c.enc.Ticks())
}

// driveChunk drives a relative move to completion, interleaving encoder
// samples with step pulses. With watchGate set, it polls the limit gate
// each pass and brakes on a home event, reporting it after the driver
// has come to rest. Pin errors stop the driver and propagate.
func (c *Controller) driveChunk(steps int64, watchGate bool) (home bool, err error) {
	c.driver.MoveBy(steps)
	for c.driver.IsRunning() {
		now := c.now()
		if _, err := c.driver.Poll(c.out, now); err != nil {
			c.driver.Stop()
			return false, fmt.Errorf("step output: %w", err)
		}
		if err := c.enc.SampleBurst(homingBurst); err != nil {
			c.driver.Stop()
			return false, err
		}
		if watchGate && !home {
			ev, err := c.home.Poll(now)
			if err != nil {
				c.driver.Stop()
				return false, err
			}
			if ev {
				home = true
				c.driver.Stop()
			}
		}
	}
	return home, nil
}
