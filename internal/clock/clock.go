// Package clock answers the tracker's time-of-day questions: what time
// it is at the site, and whether the sun is up.
package clock

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// TimeSource yields the current instant in UTC. The DS3231 driver and
// SystemTime both satisfy it.
type TimeSource interface {
	Now() (time.Time, error)
}

// SystemTime is a TimeSource backed by the host clock, for bench rigs
// without the RTC fitted.
type SystemTime struct{}

func (SystemTime) Now() (time.Time, error) {
	return time.Now(), nil
}

// Schedule interprets a TimeSource at a fixed site. The zone is a fixed
// UTC offset; DST is not applied.
type Schedule struct {
	src TimeSource
	loc *time.Location
	lat float64
	lon float64
}

// New builds a Schedule for the site at latitude/longitude with the
// given UTC offset in hours.
func New(src TimeSource, latitude, longitude, tzOffsetHours float64) *Schedule {
	name := fmt.Sprintf("UTC%+g", tzOffsetHours)
	return &Schedule{
		src: src,
		loc: time.FixedZone(name, int(tzOffsetHours*3600)),
		lat: latitude,
		lon: longitude,
	}
}

// Now returns the site-local time.
func (s *Schedule) Now() (time.Time, error) {
	t, err := s.src.Now()
	if err != nil {
		return time.Time{}, err
	}
	return t.In(s.loc), nil
}

// AfterSunrise reports whether the current time is past today's
// sunrise. It is false on days the sun never rises.
func (s *Schedule) AfterSunrise() (bool, error) {
	now, err := s.Now()
	if err != nil {
		return false, err
	}
	rise, _ := s.sunTimesOn(now)
	if rise.IsZero() {
		return false, nil
	}
	return !now.Before(rise), nil
}

// AfterSunset reports whether the current time is past today's sunset.
// It is false on days the sun never sets.
func (s *Schedule) AfterSunset() (bool, error) {
	now, err := s.Now()
	if err != nil {
		return false, err
	}
	_, set := s.sunTimesOn(now)
	if set.IsZero() {
		return false, nil
	}
	return !now.Before(set), nil
}

// SunTimes returns today's sunrise and sunset in site-local time. Both
// are zero when the sun never crosses the horizon today.
func (s *Schedule) SunTimes() (rise, set time.Time, err error) {
	now, err := s.Now()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	rise, set = s.sunTimesOn(now)
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}, nil
	}
	return rise.In(s.loc), set.In(s.loc), nil
}

// sunTimesOn computes sunrise and sunset for the calendar date of the
// given site-local time.
func (s *Schedule) sunTimesOn(now time.Time) (rise, set time.Time) {
	y, m, d := now.Date()
	return sunrise.SunriseSunset(s.lat, s.lon, y, m, d)
}
