package stepper

import (
	"errors"
	"testing"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

type pulse struct {
	forward bool
	at      time.Time
}

// recordingOutput records every pulse with the synthetic time at which
// it was emitted.
type recordingOutput struct {
	now    *time.Time
	pulses []pulse
	err    error // returned on every Step when set
}

func (o *recordingOutput) Step(forward bool) error {
	if o.err != nil {
		return o.err
	}
	p := pulse{forward: forward}
	if o.now != nil {
		p.at = *o.now
	}
	o.pulses = append(o.pulses, p)
	return nil
}

// drive polls d with a synthetic clock advancing quantum per call until
// the driver stops or maxPolls is exceeded.
func drive(t *testing.T, d *Driver, out *recordingOutput, now *time.Time, quantum time.Duration, maxPolls int) {
	t.Helper()
	for i := 0; i < maxPolls; i++ {
		if !d.IsRunning() {
			return
		}
		if _, err := d.Poll(out, *now); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		*now = (*now).Add(quantum)
	}
	t.Fatalf("driver still running after %d polls", maxPolls)
}

func intervals(pulses []pulse) []time.Duration {
	var out []time.Duration
	for i := 1; i < len(pulses); i++ {
		out = append(out, pulses[i].at.Sub(pulses[i-1].at))
	}
	return out
}

func TestDriver_RampMonotonicAndBounded(t *testing.T) {
	d := New(Config{MaxSpeed: 10000, Acceleration: 20000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now}

	d.MoveBy(20000)
	drive(t, d, out, &now, 5*time.Microsecond, 5_000_000)

	if len(out.pulses) != 20000 {
		t.Fatalf("emitted %d pulses, want 20000", len(out.pulses))
	}
	iv := intervals(out.pulses)

	// Find the cruise interval (fastest point of the profile).
	minIv := iv[0]
	peak := 0
	for i, v := range iv {
		if v < minIv {
			minIv = v
			peak = i
		}
	}

	// Peak speed must never exceed the configured maximum (100µs at
	// 10000 steps/s).
	if minIv < 100*time.Microsecond {
		t.Errorf("min interval %v implies speed above max (want >= 100µs)", minIv)
	}

	// Intervals are non-increasing while accelerating.
	for i := 0; i < peak; i++ {
		if iv[i+1] > iv[i] {
			t.Fatalf("interval grew during acceleration at step %d: %v -> %v", i, iv[i], iv[i+1])
		}
	}
	// And non-decreasing while decelerating. The cruise plateau ends at
	// the last occurrence of the minimum interval.
	tail := peak
	for i := peak; i < len(iv); i++ {
		if iv[i] == minIv {
			tail = i
		}
	}
	for i := tail; i < len(iv)-1; i++ {
		if iv[i+1] < iv[i] {
			t.Fatalf("interval shrank during deceleration at step %d: %v -> %v", i, iv[i], iv[i+1])
		}
	}

	if got := d.CurrentPosition(); got != 20000 {
		t.Errorf("final position = %d, want 20000", got)
	}
}

func TestDriver_StopIdempotent(t *testing.T) {
	d := New(Config{MaxSpeed: 10000, Acceleration: 20000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now}

	d.MoveBy(50000)

	// Run until cruising.
	for len(out.pulses) < 5000 {
		if _, err := d.Poll(out, now); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		now = now.Add(5 * time.Microsecond)
	}

	d.Stop()
	first := d.TargetPosition()
	d.Stop()
	if second := d.TargetPosition(); second != first {
		t.Fatalf("second Stop moved the target: %d -> %d", first, second)
	}

	drive(t, d, out, &now, 5*time.Microsecond, 5_000_000)

	if d.IsRunning() {
		t.Error("IsRunning() = true after stop completed")
	}
	if got := d.DistanceToGo(); got != 0 {
		t.Errorf("DistanceToGo() = %d after stop, want 0", got)
	}
	if got := d.CurrentPosition(); got != first {
		t.Errorf("stopped at %d, want %d", got, first)
	}

	// Stop after a halt must not re-target.
	d.Stop()
	if got := d.TargetPosition(); got != first {
		t.Errorf("Stop while halted re-targeted to %d", got)
	}

	// Poll at the target is a no-op.
	before := len(out.pulses)
	stepped, err := d.Poll(out, now)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if stepped || len(out.pulses) != before {
		t.Error("Poll emitted a pulse while halted at target")
	}
}

func TestDriver_DirectionChangesOnlyThroughZeroSpeed(t *testing.T) {
	d := New(Config{MaxSpeed: 1000, Acceleration: 2000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now}

	d.MoveBy(2000)
	for len(out.pulses) < 500 {
		if _, err := d.Poll(out, now); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		now = now.Add(20 * time.Microsecond)
	}

	// Reverse the target while cruising forward.
	d.MoveTo(0)
	drive(t, d, out, &now, 20*time.Microsecond, 10_000_000)

	// The pulse train must be forward pulses followed by backward
	// pulses, with no interleaving: the driver decelerates first.
	flip := -1
	for i, p := range out.pulses {
		if !p.forward {
			flip = i
			break
		}
	}
	if flip <= 500 {
		t.Fatalf("driver reversed at pulse %d without decelerating", flip)
	}
	for i := flip; i < len(out.pulses); i++ {
		if out.pulses[i].forward {
			t.Fatalf("forward pulse %d after the direction flip", i)
		}
	}

	// The interval across the flip must be the slow end of the ramp,
	// not the cruise interval: the flip happens at (near) zero speed.
	cruise := out.pulses[400].at.Sub(out.pulses[399].at)
	across := out.pulses[flip].at.Sub(out.pulses[flip-1].at)
	if across <= cruise*2 {
		t.Errorf("interval across flip %v, want well above cruise %v", across, cruise)
	}

	if got := d.CurrentPosition(); got != 0 {
		t.Errorf("final position = %d, want 0", got)
	}
}

func TestDriver_PollNoOpWithoutTarget(t *testing.T) {
	d := New(Config{MaxSpeed: 1000, Acceleration: 2000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now}

	stepped, err := d.Poll(out, now)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if stepped || len(out.pulses) != 0 {
		t.Error("Poll emitted a pulse with no move commanded")
	}
	if d.IsRunning() {
		t.Error("IsRunning() = true with no move commanded")
	}
}

func TestDriver_OutputErrorPropagates(t *testing.T) {
	d := New(Config{MaxSpeed: 1000, Acceleration: 2000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now, err: errors.New("pin write failed")}

	d.MoveBy(10)
	_, err := d.Poll(out, now.Add(time.Second))
	if err == nil {
		t.Fatal("Poll did not surface the output error")
	}
	if got := d.CurrentPosition(); got != 0 {
		t.Errorf("failed pulse counted: position = %d, want 0", got)
	}
}

func TestDriver_SetCurrentPositionResets(t *testing.T) {
	d := New(Config{MaxSpeed: 1000, Acceleration: 2000})
	now := time.Unix(0, 0)
	out := &recordingOutput{now: &now}

	d.MoveBy(100)
	drive(t, d, out, &now, 20*time.Microsecond, 1_000_000)

	d.SetCurrentPosition(0)
	if d.CurrentPosition() != 0 || d.TargetPosition() != 0 {
		t.Errorf("SetCurrentPosition left position=%d target=%d", d.CurrentPosition(), d.TargetPosition())
	}
	if d.IsRunning() {
		t.Error("IsRunning() = true after SetCurrentPosition")
	}
}

// recordingDriver records GPIO calls for verifying the StepAndDir output.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writesForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func TestStepAndDir_PulsePattern(t *testing.T) {
	drv := &recordingDriver{}
	out, err := NewStepAndDir(drv, 17, 27, time.Microsecond)
	if err != nil {
		t.Fatalf("NewStepAndDir: %v", err)
	}
	drv.calls = nil // reset after pin setup

	if err := out.Step(true); err != nil {
		t.Fatalf("Step: %v", err)
	}

	dirWrites := drv.writesForPin(27)
	if len(dirWrites) != 1 || dirWrites[0].level != gpio.High {
		t.Errorf("forward step should write dir HIGH once, got %v", dirWrites)
	}
	stepWrites := drv.writesForPin(17)
	if len(stepWrites) != 2 || stepWrites[0].level != gpio.High || stepWrites[1].level != gpio.Low {
		t.Errorf("step pin should pulse HIGH then LOW, got %v", stepWrites)
	}

	// The direction line must be written before the step edge.
	if drv.calls[0].pin != 27 {
		t.Errorf("first write should be the dir pin, got pin %d", drv.calls[0].pin)
	}

	drv.calls = nil
	if err := out.Step(false); err != nil {
		t.Fatalf("Step: %v", err)
	}
	dirWrites = drv.writesForPin(27)
	if len(dirWrites) != 1 || dirWrites[0].level != gpio.Low {
		t.Errorf("backward step should write dir LOW, got %v", dirWrites)
	}
}

func TestStepAndDir_MinimumPulseWidth(t *testing.T) {
	drv := &recordingDriver{}
	out, err := NewStepAndDir(drv, 17, 27, 0)
	if err != nil {
		t.Fatalf("NewStepAndDir: %v", err)
	}
	if out.pulseWidth < time.Microsecond {
		t.Errorf("pulse width = %v, want at least 1µs", out.pulseWidth)
	}
}
