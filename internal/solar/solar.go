// Package solar computes the sun's azimuth for steering the tracker.
//
// The formulas are the NOAA solar position approximations: fractional
// year, equation of time, declination, then hour angle and azimuth.
// Accuracy is a small fraction of a degree, far below the tracker's
// mechanical tolerance.
package solar

import (
	"math"
	"time"
)

// Azimuth returns the solar azimuth in degrees east of north (90 is
// east, 180 south, 270 west) at the given civil time and place. The
// time's zone supplies the UTC offset.
func Azimuth(t time.Time, latDeg, lonDeg float64) float64 {
	_, zoneOff := t.Zone()
	tz := float64(zoneOff) / 3600

	h, m, s := t.Clock()

	// Fractional year in radians.
	g := 2 * math.Pi / 365 * (float64(t.YearDay()-1) + (float64(h)-12)/24)

	// Equation of time in minutes.
	eqtime := 229.18 * (0.000075 + 0.001868*math.Cos(g) - 0.032077*math.Sin(g) -
		0.014615*math.Cos(2*g) - 0.040849*math.Sin(2*g))

	// Solar declination in radians.
	decl := 0.006918 - 0.399912*math.Cos(g) + 0.070257*math.Sin(g) -
		0.006758*math.Cos(2*g) + 0.000907*math.Sin(2*g) -
		0.002697*math.Cos(3*g) + 0.00148*math.Sin(3*g)

	// True solar time in minutes, then the hour angle.
	offset := eqtime + 4*lonDeg - 60*tz
	tst := float64(h)*60 + float64(m) + float64(s)/60 + offset
	haDeg := tst/4 - 180
	ha := haDeg * math.Pi / 180

	lat := latDeg * math.Pi / 180
	cosZen := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(ha)
	zen := math.Acos(clamp(cosZen))

	k := (math.Sin(lat)*math.Cos(zen) - math.Sin(decl)) / (math.Cos(lat) * math.Sin(zen))
	k = clamp(k)

	// Before solar noon the sun is east of due south, after it west.
	if haDeg > 0 {
		return 180 + math.Acos(k)*180/math.Pi
	}
	return 180 - math.Acos(k)*180/math.Pi
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Provider computes azimuths for a fixed site.
type Provider struct {
	Latitude  float64
	Longitude float64
}

// SunAzimuth implements the sun position lookup the motion controller
// depends on.
func (p Provider) SunAzimuth(t time.Time) float64 {
	return Azimuth(t, p.Latitude, p.Longitude)
}
