// Package telemetry reports tracker movement and faults to the fleet
// broker. Payloads are the dashboard's plain-text line format.
package telemetry

import "fmt"

// Publisher delivers one payload to a topic.
type Publisher interface {
	Publish(topic, payload string) error
}

// Topics is the per-tower MQTT topic set. Tower IDs appear in hex, so
// tower 26 publishes under device1A/.
type Topics struct {
	prefix string
}

// TopicsFor returns the topic set for a tower.
func TopicsFor(towerID uint32) Topics {
	return Topics{prefix: fmt.Sprintf("device%X", towerID)}
}

// Data carries the per-movement reports.
func (t Topics) Data() string { return t.prefix + "/data" }

// TowerStatus carries fault beacons.
func (t Topics) TowerStatus() string { return t.prefix + "/tower/status" }

// Boot carries the first-boot check-in after a firmware update.
func (t Topics) Boot() string { return t.prefix + "/boot" }

// FirmwareVersion carries the currently running version.
func (t Topics) FirmwareVersion() string { return t.prefix + "/firmware/version" }

// FirmwareStatus carries update progress and validation results.
func (t Topics) FirmwareStatus() string { return t.prefix + "/firmware/status" }

// MovementReport formats the post-segment report. mode is "L1" or
// "L2"; delta is the encoder movement over the segment, angle the
// commanded azimuth, ticks the encoder count after the move and deg
// the position that count works out to.
func MovementReport(mode string, delta int64, angle float64, ticks int64, deg float64) string {
	return fmt.Sprintf("%s: Δticks: %d, angle: %.2f, enc: %d, deg: %.2f", mode, delta, angle, ticks, deg)
}

// WithinToleranceReport formats the no-movement report sent when the
// panel is already close enough to the commanded angle.
func WithinToleranceReport(angle, deg float64) string {
	return fmt.Sprintf("within tolerance: angle: %.2f, deg: %.2f", angle, deg)
}

// Fault beacon and boot payloads.
const (
	LimitSwitchFault = "Critical failure: Limit switch failure!"
	StallFault       = "Critical failure: Stall detected!"
	BootCheck        = "Boot check..."
)
