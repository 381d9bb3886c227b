package tracking

import (
	"fmt"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/logic/geometry"
	"github.com/Janta-Power/Janta-Power/internal/telemetry"
)

// progress watches the encoder for movement while the driver is
// commanding steps. No movement for stallTimeout means the mechanics
// are jammed or the coupling is gone.
type progress struct {
	ticks    int64
	at       time.Time
	lastSnap time.Time
}

func newProgress(ticks int64, now time.Time) *progress {
	return &progress{ticks: ticks, at: now, lastSnap: now}
}

func (p *progress) observe(c *Controller, now time.Time) error {
	t := c.enc.Ticks()
	if t != p.ticks {
		p.ticks = t
		p.at = now
	} else if c.driver.IsRunning() && now.Sub(p.at) >= stallTimeout {
		c.driver.Stop()
		return ErrStall
	}
	if now.Sub(p.lastSnap) >= snapshotEvery {
		debug.Encoder(t, c.positionFromTicks())
		p.lastSnap = now
	}
	return nil
}

// openLoopSegment drives the commanded angular delta by step count
// alone. The encoder is still sampled for the telemetry record, but it
// does not steer.
func (c *Controller) openLoopSegment(target float64) error {
	delta := target - c.position
	steps := geometry.DegreesToSteps(delta)
	debug.Segment("L1", steps)

	if err := c.power.On(); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	if err := c.enc.Seed(); err != nil {
		c.driver.Stop()
		return err
	}
	startTicks := c.enc.Ticks()

	c.driver.MoveBy(steps)
	for c.driver.IsRunning() {
		now := c.now()
		if _, err := c.driver.Poll(c.out, now); err != nil {
			c.driver.Stop()
			return fmt.Errorf("step output: %w", err)
		}
		if err := c.enc.SampleBurst(homingBurst); err != nil {
			c.driver.Stop()
			return err
		}
	}

	c.position += delta
	if err := c.power.Off(); err != nil {
		debug.Error(fmt.Errorf("relay off: %w", err))
	}
	c.persistPosition()
	ticks := c.enc.Ticks()
	c.publish(c.topics.Data(),
		telemetry.MovementReport("L1", ticks-startTicks, target, ticks, c.position))
	return nil
}

// closedLoopSegment drives to the target azimuth using the encoder as
// the reference. Each correction iteration burst-samples the encoder,
// converts the remaining ticks into a clamped step chunk, and drives
// that chunk to completion with encoder sampling between pulses. The
// loop exits inside the tolerance band, on a stall, or at the
// iteration cap.
func (c *Controller) closedLoopSegment(target float64) error {
	delta := target - c.position

	if err := c.power.On(); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	if err := c.enc.Seed(); err != nil {
		return err
	}

	startTicks := c.enc.Ticks()
	targetTicks := startTicks + geometry.DegreesToTicks(delta)
	debug.Segment("L2", geometry.TicksToSteps(targetTicks-startTicks))

	prog := newProgress(startTicks, c.now())
	converged := false
	for iter := 0; iter < iterationCap && !converged; iter++ {
		if err := c.enc.SampleBurst(encoderBurst); err != nil {
			c.driver.Stop()
			return err
		}

		remaining := targetTicks - c.enc.Ticks()
		if abs64(remaining) <= toleranceTicks {
			converged = true
			c.driver.Stop()
		} else {
			chunk := clamp64(geometry.TicksToSteps(remaining), -chunkClampSteps, chunkClampSteps)
			if abs64(chunk) >= minChunkSteps || (chunk != 0 && abs64(remaining) <= 2*toleranceTicks) {
				c.driver.MoveBy(chunk)
			}
		}

		// Drive the chunk (or the braking tail) to rest.
		for c.driver.IsRunning() {
			now := c.now()
			if _, err := c.driver.Poll(c.out, now); err != nil {
				c.driver.Stop()
				return fmt.Errorf("step output: %w", err)
			}
			if err := c.enc.SampleBurst(encoderBurst); err != nil {
				c.driver.Stop()
				return err
			}
			if err := prog.observe(c, now); err != nil {
				return err
			}
		}

		// Opportunistic mid-move snapshot; the store rate-limits the
		// actual writes.
		if err := c.store.Persist(int32(c.enc.Ticks()), float32(c.positionFromTicks())); err != nil {
			debug.Error(fmt.Errorf("persist: %w", err))
		}
	}
	if !converged {
		c.driver.Stop()
		return fmt.Errorf("%w: %d ticks off after %d iterations",
			ErrNoConvergence, targetTicks-c.enc.Ticks(), iterationCap)
	}

	finalTicks := c.enc.Ticks()
	c.position = c.positionFromTicks()
	if err := c.power.Off(); err != nil {
		debug.Error(fmt.Errorf("relay off: %w", err))
	}
	c.persistPosition()
	c.publish(c.topics.Data(),
		telemetry.MovementReport("L2", finalTicks-startTicks, target, finalTicks, c.position))
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
