package geometry

import "math"

// Three units coexist in the tracker: azimuth degrees, motor steps and
// encoder ticks. The two conversion constants live here and nowhere else.
const (
	// EncoderTicksPerRev is the number of quadrature ticks the shaft
	// encoder produces per tower revolution (4 ticks per electrical cycle,
	// through the gearbox).
	EncoderTicksPerRev = 348323

	// MotorStepsPerRev is the number of microsteps per tower revolution:
	// 25600 driver microsteps per motor revolution, 1:5 belt stage,
	// 1:84 slew gear.
	MotorStepsPerRev = 25600 * 5 * 84

	// HomeAzimuthDeg is the absolute azimuth of the limit switch.
	HomeAzimuthDeg = 90.0
)

// StepsPerTick returns how many motor steps correspond to one encoder
// tick (≈ 30.87).
func StepsPerTick() float64 {
	return float64(MotorStepsPerRev) / float64(EncoderTicksPerRev)
}

// DegreesToSteps converts an angular distance to motor steps, rounded to
// the nearest step.
func DegreesToSteps(deg float64) int64 {
	return int64(math.Round(deg / 360.0 * float64(MotorStepsPerRev)))
}

// DegreesToTicks converts an angular distance to encoder ticks, rounded
// to the nearest tick.
func DegreesToTicks(deg float64) int64 {
	return int64(math.Round(deg / 360.0 * float64(EncoderTicksPerRev)))
}

// TicksToDegrees converts encoder ticks to degrees.
func TicksToDegrees(ticks int64) float64 {
	return float64(ticks) / float64(EncoderTicksPerRev) * 360.0
}

// StepsToDegrees converts motor steps to degrees.
func StepsToDegrees(steps int64) float64 {
	return float64(steps) / float64(MotorStepsPerRev) * 360.0
}

// TicksToSteps converts an encoder tick distance to the equivalent motor
// step distance.
func TicksToSteps(ticks int64) int64 {
	return int64(math.Round(float64(ticks) * StepsPerTick()))
}

// ClampTravel maps a sun azimuth into the tower's linear coordinate
// range. The tower has mechanical stops, so there is no wrap-around:
// azimuths beyond a stop saturate at the stop.
func ClampTravel(azimuthDeg, minDeg, maxDeg float64) float64 {
	if azimuthDeg < minDeg {
		return minDeg
	}
	if azimuthDeg > maxDeg {
		return maxDeg
	}
	return azimuthDeg
}
