package relay

import (
	"testing"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string
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

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func TestNew_RelayStartsOpen(t *testing.T) {
	drv := &recordingDriver{}
	r, err := New(drv, 22, time.Microsecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writes := drv.writeCalls()
	if len(writes) != 1 || writes[0].pin != 22 || writes[0].level != gpio.Low {
		t.Errorf("construction should write LOW once, got %v", writes)
	}
	if r.IsOn() {
		t.Error("IsOn() = true before On()")
	}
}

func TestRelay_OnOffSequence(t *testing.T) {
	drv := &recordingDriver{}
	r, err := New(drv, 22, time.Microsecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drv.calls = nil // reset after init

	if err := r.On(); err != nil {
		t.Fatalf("On: %v", err)
	}
	if !r.IsOn() {
		t.Error("IsOn() = false after On()")
	}
	// A second On is a no-op.
	if err := r.On(); err != nil {
		t.Fatalf("On: %v", err)
	}

	if err := r.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	if r.IsOn() {
		t.Error("IsOn() = true after Off()")
	}
	// A second Off is a no-op.
	if err := r.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}

	expected := []struct {
		level gpio.Level
		desc  string
	}{
		{gpio.High, "close"},
		{gpio.Low, "open"},
	}
	writes := drv.writeCalls()
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes, got %d: %v", len(expected), len(writes), writes)
	}
	for i, exp := range expected {
		if writes[i].pin != 22 || writes[i].level != exp.level {
			t.Errorf("step %d (%s): pin=%d level=%v, want pin=22 level=%v",
				i, exp.desc, writes[i].pin, writes[i].level, exp.level)
		}
	}
}
