package domain

import (
	"fmt"
	"time"
)

// In-game calendar constants. There is no month structure.
const (
	DaysPerYear    = 365
	MinutesPerDay  = 1440
	SecondsPerDay  = 86400
	MinutesPerHour = 60
)

// CalibrationPoint anchors the in-game clock: at RealEpochSeconds the game read
// Year / DayOfYear / SecondOfDay.
type CalibrationPoint struct {
	RealEpochSeconds float64 `json:"real_time"`
	Year             int     `json:"year"`
	DayOfYear        int     `json:"day"`
	SecondOfDay      int     `json:"second_of_day"`
}

// RealTime returns the wall-clock instant of the calibration
func (c CalibrationPoint) RealTime() time.Time {
	sec := int64(c.RealEpochSeconds)
	nsec := int64((c.RealEpochSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Hour returns the calibrated hour of day
func (c CalibrationPoint) Hour() int {
	return c.SecondOfDay / 3600
}

// Minute returns the calibrated minute of hour
func (c CalibrationPoint) Minute() int {
	return (c.SecondOfDay % 3600) / 60
}

// Record flattens the point into its persisted shape
func (c CalibrationPoint) Record() CalibrationRecord {
	return CalibrationRecord{
		RealTime: c.RealEpochSeconds,
		Year:     c.Year,
		Day:      c.DayOfYear,
		Hour:     c.Hour(),
		Minute:   c.Minute(),
	}
}

// CalibrationRecord is the flat, durable form of a CalibrationPoint
// (state.json and the calibration table both use this shape).
type CalibrationRecord struct {
	RealTime float64 `json:"real_time"`
	Year     int     `json:"year"`
	Day      int     `json:"day"`
	Hour     int     `json:"hour"`
	Minute   int     `json:"minute"`
}

// Point converts the record back into a CalibrationPoint
func (r CalibrationRecord) Point() CalibrationPoint {
	return CalibrationPoint{
		RealEpochSeconds: r.RealTime,
		Year:             r.Year,
		DayOfYear:        r.Day,
		SecondOfDay:      r.Hour*3600 + r.Minute*60,
	}
}

// DayNightRate describes how fast in-game minutes pass. Day is
// [Sunrise, Sunset), night is the complement wrapping past midnight.
type DayNightRate struct {
	DaySecondsPerMinute   float64 `json:"day_seconds_per_minute"`
	NightSecondsPerMinute float64 `json:"night_seconds_per_minute"`
	Sunrise               int     `json:"sunrise_minute"`
	Sunset                int     `json:"sunset_minute"`
}

// IsDay reports whether the given minute of day falls in the day segment
func (r DayNightRate) IsDay(minuteOfDay int) bool {
	return r.Sunrise <= minuteOfDay && minuteOfDay < r.Sunset
}

// SecondsPerMinute returns the rate in force at the given minute of day
func (r DayNightRate) SecondsPerMinute(minuteOfDay int) float64 {
	if r.IsDay(minuteOfDay) {
		return r.DaySecondsPerMinute
	}
	return r.NightSecondsPerMinute
}

// DerivedTime is the result of a clock query. It is never persisted.
type DerivedTime struct {
	Year             int     `json:"year"`
	DayOfYear        int     `json:"day"`
	Hour             int     `json:"hour"`
	Minute           int     `json:"minute"`
	IsDaytime        bool    `json:"is_daytime"`
	SecondsPerMinute float64 `json:"seconds_per_minute"`
}

// AbsoluteDay is a day index that keeps increasing across years (Year 1 Day 1 = 1)
func (t DerivedTime) AbsoluteDay() int64 {
	return int64(t.Year-1)*DaysPerYear + int64(t.DayOfYear)
}

// AbsoluteMinute is the in-game minute index since Year 1 Day 1 00:00
func (t DerivedTime) AbsoluteMinute() int64 {
	return (t.AbsoluteDay()-1)*MinutesPerDay + int64(t.Hour*MinutesPerHour+t.Minute)
}

// Clock returns the HH:MM rendering of the time of day
func (t DerivedTime) Clock() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// YearDay converts an absolute day index back to (year, dayOfYear)
func YearDay(absoluteDay int64) (int, int) {
	return int((absoluteDay-1)/DaysPerYear) + 1, int((absoluteDay-1)%DaysPerYear) + 1
}
