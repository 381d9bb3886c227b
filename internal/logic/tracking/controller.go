// Package tracking coordinates the drive train: it homes the tower
// against the limit switch, follows the sun during the day with the
// encoder closing the loop, parks and sleeps at night, and persists the
// position so a reboot does not lose it.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/debug"
	"github.com/Janta-Power/Janta-Power/internal/hw/stepper"
	"github.com/Janta-Power/Janta-Power/internal/logic/geometry"
	"github.com/Janta-Power/Janta-Power/internal/observability"
	"github.com/Janta-Power/Janta-Power/internal/telemetry"
)

// Tuning constants for the correction loop. The tolerance of 10 ticks
// is about 0.01 degrees of tower rotation.
const (
	hysteresisDeg   = 0.1
	toleranceTicks  = 10
	chunkClampSteps = 1000
	minChunkSteps   = 10
	iterationCap    = 10000
	stallTimeout    = 250 * time.Millisecond
	encoderBurst    = 20
	snapshotEvery   = 100 * time.Millisecond

	// Homing paces the encoder more lightly (no feedback, just
	// bookkeeping) and gives the gate a debounce window up front.
	homingBurst   = 4
	gateSettle    = 30 * time.Millisecond
	gatePollPause = time.Millisecond
)

var (
	// ErrStall means the stepper was commanding motion but the encoder
	// did not advance for at least stallTimeout.
	ErrStall = errors.New("tracking: encoder stalled while stepping")

	// ErrHomeNotFound means a full homing sweep never saw the limit
	// switch.
	ErrHomeNotFound = errors.New("tracking: limit switch not found within sweep")

	// ErrNoConvergence means the closed loop hit its iteration cap
	// without settling inside the tolerance band.
	ErrNoConvergence = errors.New("tracking: closed loop did not converge")

	// ErrRehomePending is returned by RequestRehome when a manual
	// re-home is already queued.
	ErrRehomePending = errors.New("tracking: re-home already requested")
)

// Encoder is the tick counter the controller closes the loop with.
type Encoder interface {
	Seed() error
	Sample() error
	SampleBurst(n int) error
	Ticks() int64
	SetTicks(t int64)
}

// HomeSensor is the debounced limit switch gate. Poll reports true
// exactly once per press.
type HomeSensor interface {
	Poll(now time.Time) (bool, error)
	Pressed() bool
}

// MotorPower switches the stepper driver's power rail.
type MotorPower interface {
	On() error
	Off() error
}

// Clock answers the schedule questions. Errors mean the clock is not
// set yet; the controller then behaves as if it were night.
type Clock interface {
	Now() (time.Time, error)
	AfterSunrise() (bool, error)
	AfterSunset() (bool, error)
}

// SunProvider computes the sun's azimuth at an instant.
type SunProvider interface {
	SunAzimuth(t time.Time) float64
}

// PositionStore persists the encoder position across reboots.
type PositionStore interface {
	Load() (ticks int32, heading float32, ok bool, err error)
	Persist(ticks int32, heading float32) error
	Flush(ticks int32, heading float32) error
}

// Updater is invited to look for new firmware while the tower sleeps.
type Updater interface {
	Check(ctx context.Context) error
}

// Params tunes the controller. Zero values select the production
// defaults; tests shrink the homing spans so a sweep stays fast.
type Params struct {
	ClosedLoop bool
	HomeTicks  int64 // calibrated encoder count at the switch

	MinTravelDeg float64 // mechanical stop, east
	MaxTravelDeg float64 // mechanical stop, west

	HomingAdvanceDeg float64       // clockwise advance before the sweep
	HomingSweepDeg   float64       // maximum reverse sweep
	HomingChunkDeg   float64       // sweep chunk size
	ChunkPause       time.Duration // micro-sleep between sweep chunks

	TickInterval        time.Duration // idle tick cadence
	SleepPollInterval   time.Duration // sunrise poll cadence while sleeping
	FaultBeaconInterval time.Duration
	OTAInterval         time.Duration
}

func (p *Params) setDefaults() {
	if p.MinTravelDeg == 0 && p.MaxTravelDeg == 0 {
		p.MinTravelDeg = 90
		p.MaxTravelDeg = 270
	}
	if p.HomingAdvanceDeg == 0 {
		p.HomingAdvanceDeg = 15
	}
	if p.HomingSweepDeg == 0 {
		p.HomingSweepDeg = 360
	}
	if p.HomingChunkDeg == 0 {
		p.HomingChunkDeg = 1
	}
	if p.ChunkPause == 0 {
		p.ChunkPause = 2 * time.Millisecond
	}
	if p.TickInterval == 0 {
		p.TickInterval = 5 * time.Minute
	}
	if p.SleepPollInterval == 0 {
		p.SleepPollInterval = 10 * time.Minute
	}
	if p.FaultBeaconInterval == 0 {
		p.FaultBeaconInterval = 15 * time.Minute
	}
	if p.OTAInterval == 0 {
		p.OTAInterval = 2 * time.Hour
	}
}

// Deps collects everything the controller is built from. Driver and
// Output are concrete; the rest are interfaces so tests can script
// them.
type Deps struct {
	Driver  *stepper.Driver
	Output  stepper.Output
	Encoder Encoder
	Home    HomeSensor
	Power   MotorPower
	Clock   Clock
	Sun     SunProvider
	Store   PositionStore
	Pub     telemetry.Publisher
	Topics  telemetry.Topics
	Updater Updater
	Metrics *observability.Metrics

	// Now and Sleep default to the real clock; tests inject synthetic
	// time so motion loops run without waiting.
	Now   func() time.Time
	Sleep func(d time.Duration)
}

// Status is a copy of the controller's externally visible state, safe
// to read from other goroutines.
type Status struct {
	State         string    `json:"state"`
	PositionDeg   float64   `json:"position_deg"`
	EncoderTicks  int64     `json:"encoder_ticks"`
	LastAzimuth   float64   `json:"last_azimuth"`
	Homed         bool      `json:"homed"`
	LastMove      time.Time `json:"last_move,omitempty"`
	RehomePending bool      `json:"rehome_pending"`
}

// Controller is the tracking state machine. It is not re-entrant:
// Tick must be called from a single goroutine. Status and
// RequestRehome are safe to call concurrently with Tick.
type Controller struct {
	driver  *stepper.Driver
	out     stepper.Output
	enc     Encoder
	home    HomeSensor
	power   MotorPower
	clock   Clock
	sun     SunProvider
	store   PositionStore
	pub     telemetry.Publisher
	topics  telemetry.Topics
	updater Updater
	metrics *observability.Metrics

	now   func() time.Time
	sleep func(d time.Duration)

	p Params

	state       State
	position    float64 // degrees
	homed       bool
	lastAzimuth float64
	lastMove    time.Time
	faultErr    error
	parkOnSleep bool
	lastOTA     time.Time

	mu     sync.Mutex
	status Status
	rehome bool
}

// New builds a controller in the Homing state. A persisted snapshot,
// when present and schema-compatible, seeds the encoder and position
// before the first homing pass.
func New(d Deps, p Params) *Controller {
	p.setDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = time.Sleep
	}
	c := &Controller{
		driver:  d.Driver,
		out:     d.Output,
		enc:     d.Encoder,
		home:    d.Home,
		power:   d.Power,
		clock:   d.Clock,
		sun:     d.Sun,
		store:   d.Store,
		pub:     d.Pub,
		topics:  d.Topics,
		updater: d.Updater,
		metrics: d.Metrics,
		now:     d.Now,
		sleep:   d.Sleep,
		p:       p,
		state:   StateHoming,
	}

	if ticks, heading, ok, err := c.store.Load(); err != nil {
		debug.Error(fmt.Errorf("loading snapshot: %w", err))
	} else if ok {
		c.enc.SetTicks(int64(ticks))
		c.position = float64(heading)
		debug.Info("Snapshot restored: %d ticks, heading %.2f", ticks, heading)
	}

	c.snapshotStatus()
	return c
}

// Tick runs one controller invocation. The outer loop calls it, sleeps
// Interval(), and calls it again.
func (c *Controller) Tick(ctx context.Context) {
	switch c.state {
	case StateHoming:
		c.tickHoming()
	case StateIdle:
		c.tickIdle()
	case StateSleeping:
		c.tickSleeping(ctx)
	case StateFault:
		c.tickFault()
	default:
		// OpenLoop and ClosedLoop are transient within a tick; landing
		// here means a segment was interrupted mid-flight. Fall back to
		// Idle and let the next tick re-evaluate.
		c.apply(evMoveAborted)
	}
	c.snapshotStatus()
}

// Interval returns how long the outer loop should sleep before the
// next tick, given the current state.
func (c *Controller) Interval() time.Duration {
	switch c.state {
	case StateHoming:
		return 5 * time.Second
	case StateSleeping:
		return c.p.SleepPollInterval
	case StateFault:
		return c.p.FaultBeaconInterval
	default:
		return c.p.TickInterval
	}
}

// State returns the current tracking state.
func (c *Controller) State() State {
	return c.state
}

// Position returns the tower azimuth in degrees.
func (c *Controller) Position() float64 {
	return c.position
}

// Status returns a copy of the externally visible state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.RehomePending = c.rehome
	return s
}

// RequestRehome queues a manual re-home, executed on the next idle
// tick.
func (c *Controller) RequestRehome() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rehome {
		return ErrRehomePending
	}
	c.rehome = true
	return nil
}

func (c *Controller) takeRehome() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.rehome
	c.rehome = false
	return was
}

func (c *Controller) snapshotStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Status{
		State:        c.state.String(),
		PositionDeg:  c.position,
		EncoderTicks: c.enc.Ticks(),
		LastAzimuth:  c.lastAzimuth,
		Homed:        c.homed,
		LastMove:     c.lastMove,
	}
}

// apply moves the state machine along the edge for e.
func (c *Controller) apply(e Event) {
	to := next(c.state, e)
	if to != c.state {
		debug.State(c.state.String(), to.String())
		c.metrics.StateTransition(c.state.String(), to.String())
	}
	c.state = to
}

func (c *Controller) tickHoming() {
	err := c.runHoming()
	switch {
	case err == nil:
		c.apply(evHomed)
	case errors.Is(err, ErrHomeNotFound):
		c.fault(err, evHomeNotFound)
	default:
		// Bus trouble; stay in Homing and retry on the next tick.
		debug.Error(fmt.Errorf("homing: %w", err))
	}
}

func (c *Controller) tickIdle() {
	if c.takeRehome() {
		c.apply(evRehome)
		c.tickHoming()
		return
	}

	risen, err := c.clock.AfterSunrise()
	if err != nil {
		debug.Error(fmt.Errorf("clock: %w", err))
		c.apply(evClockUnset)
		return
	}
	set, err := c.clock.AfterSunset()
	if err != nil {
		debug.Error(fmt.Errorf("clock: %w", err))
		c.apply(evClockUnset)
		return
	}
	if !risen || set {
		// Park at the home position overnight so the morning starts
		// from a known reference.
		c.parkOnSleep = c.homed && math.Abs(c.position-geometry.HomeAzimuthDeg) > hysteresisDeg
		c.apply(evNight)
		return
	}

	now, err := c.clock.Now()
	if err != nil {
		debug.Error(fmt.Errorf("clock: %w", err))
		c.apply(evClockUnset)
		return
	}

	azimuth := c.sun.SunAzimuth(now)
	target := geometry.ClampTravel(azimuth, c.p.MinTravelDeg, c.p.MaxTravelDeg)
	c.lastAzimuth = azimuth
	delta := target - c.position
	debug.Live("Sun %.2f, target %.2f, position %.2f, delta %.3f", azimuth, target, c.position, delta)

	if math.Abs(delta) <= hysteresisDeg {
		c.publish(c.topics.Data(), telemetry.WithinToleranceReport(target, c.position))
		c.apply(evOnTarget)
		return
	}

	start := c.now()
	var mode string
	if c.p.ClosedLoop {
		mode = "L2"
		c.apply(evMoveClosedLoop)
		err = c.closedLoopSegment(target)
	} else {
		mode = "L1"
		c.apply(evMoveOpenLoop)
		err = c.openLoopSegment(target)
	}
	switch {
	case err == nil:
		c.lastMove = start
		c.metrics.MotionSegment(mode, c.now().Sub(start))
		c.metrics.SetPosition(c.position, c.enc.Ticks())
		c.apply(evMoveDone)
	case errors.Is(err, ErrStall) || errors.Is(err, ErrNoConvergence):
		if perr := c.power.Off(); perr != nil {
			debug.Error(fmt.Errorf("relay off: %w", perr))
		}
		c.fault(err, evStall)
	default:
		// Pin I/O failed mid-segment. The driver was stopped by the
		// segment; trust the encoder for where we ended up.
		debug.Error(fmt.Errorf("segment: %w", err))
		if c.homed {
			c.position = c.positionFromTicks()
		}
		if perr := c.power.Off(); perr != nil {
			debug.Error(fmt.Errorf("relay off: %w", perr))
		}
		c.apply(evMoveAborted)
	}
}

func (c *Controller) tickSleeping(ctx context.Context) {
	if c.parkOnSleep {
		c.parkOnSleep = false
		err := c.runHoming()
		switch {
		case err == nil:
			debug.Info("Parked at %.1f for the night", c.position)
		case errors.Is(err, ErrHomeNotFound):
			c.fault(err, evHomeNotFound)
			return
		default:
			debug.Error(fmt.Errorf("parking: %w", err))
		}
	}

	if c.updater != nil {
		if now := c.now(); c.lastOTA.IsZero() || now.Sub(c.lastOTA) >= c.p.OTAInterval {
			c.lastOTA = now
			if err := c.updater.Check(ctx); err != nil {
				debug.Error(fmt.Errorf("ota: %w", err))
			}
		}
	}

	risen, err := c.clock.AfterSunrise()
	if err != nil {
		debug.Error(fmt.Errorf("clock: %w", err))
		return
	}
	set, err := c.clock.AfterSunset()
	if err != nil {
		debug.Error(fmt.Errorf("clock: %w", err))
		return
	}
	if risen && !set {
		c.apply(evDay)
	}
}

func (c *Controller) tickFault() {
	c.beacon()
}

// fault records the cause, transitions, and sends the first beacon
// immediately.
func (c *Controller) fault(err error, e Event) {
	debug.Error(err)
	c.faultErr = err
	c.apply(e)
	c.beacon()
}

func (c *Controller) beacon() {
	payload := telemetry.StallFault
	if errors.Is(c.faultErr, ErrHomeNotFound) {
		payload = telemetry.LimitSwitchFault
	}
	c.publish(c.topics.TowerStatus(), payload)
	c.metrics.FaultBeacon()
}

// publish sends one telemetry record. Failures are logged and counted,
// never retried inline, never fatal.
func (c *Controller) publish(topic, payload string) {
	if err := c.pub.Publish(topic, payload); err != nil {
		debug.Error(fmt.Errorf("telemetry %s: %w", topic, err))
		c.metrics.TelemetryError()
	}
}

// positionFromTicks maps the encoder count to an azimuth: home ticks at
// the switch correspond to 90 degrees.
func (c *Controller) positionFromTicks() float64 {
	return geometry.HomeAzimuthDeg + geometry.TicksToDegrees(c.enc.Ticks()-c.p.HomeTicks)
}

// persistPosition flushes the snapshot. Store errors are logged and
// swallowed; the next segment retries.
func (c *Controller) persistPosition() {
	if err := c.store.Flush(int32(c.enc.Ticks()), float32(c.position)); err != nil {
		debug.Error(fmt.Errorf("persist: %w", err))
		return
	}
	c.metrics.PersistWrite()
}
