package clock

import (
	"math"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

const (
	// maxSteps bounds the boundary-jump loop. After the whole-day skip at most
	// three segments remain, so this only trips on a broken rate table.
	maxSteps = 200000

	// minuteEpsilon absorbs float representation error when flooring to a
	// displayed minute (1e-6 in-game minutes is a few microseconds of real time).
	minuteEpsilon = 1e-6
)

// fullDaySeconds is the real time one complete in-game day takes
func fullDaySeconds(r domain.DayNightRate) float64 {
	dayMinutes := float64(r.Sunset - r.Sunrise)
	nightMinutes := float64(domain.MinutesPerDay) - dayMinutes
	return dayMinutes*r.DaySecondsPerMinute + nightMinutes*r.NightSecondsPerMinute
}

// advance integrates elapsed real seconds into in-game minutes starting from
// total, an absolute minute index (0 = day 1 00:00 of the calibrated year).
// Rates are piecewise constant, so the walk jumps from boundary to boundary and
// only the final partial segment is divided by a rate.
func advance(r domain.DayNightRate, total, elapsed float64) float64 {
	if elapsed <= 0 {
		return total
	}
	remaining := elapsed

	// Every whole day costs the same real time and lands on the same phase.
	if whole := math.Floor(remaining / fullDaySeconds(r)); whole > 0 {
		total += whole * domain.MinutesPerDay
		remaining -= whole * fullDaySeconds(r)
		if remaining < 0 {
			remaining = 0
		}
	}

	sunrise := float64(r.Sunrise)
	sunset := float64(r.Sunset)

	for i := 0; remaining > 0 && i < maxSteps; i++ {
		dayStart := math.Floor(total/domain.MinutesPerDay) * domain.MinutesPerDay
		minuteOfDay := int(math.Floor(total - dayStart))
		rate := r.SecondsPerMinute(minuteOfDay)

		var boundary float64
		switch {
		case r.IsDay(minuteOfDay):
			boundary = dayStart + sunset
		case minuteOfDay < r.Sunrise:
			boundary = dayStart + sunrise
		default:
			boundary = dayStart + domain.MinutesPerDay + sunrise
		}

		toBoundary := (boundary - total) * rate
		if remaining >= toBoundary {
			remaining -= toBoundary
			total = boundary
			continue
		}

		total += remaining / rate
		remaining = 0
	}

	return total
}

// wholeMinutes floors an absolute minute index for display
func wholeMinutes(total float64) int64 {
	return int64(math.Floor(total + minuteEpsilon))
}

// derive splits an absolute minute index into a DerivedTime, rolling the year
// every 365 days.
func derive(r domain.DayNightRate, startYear int, total float64) domain.DerivedTime {
	minutes := wholeMinutes(total)
	dayIndex := minutes / domain.MinutesPerDay
	minuteOfDay := int(minutes % domain.MinutesPerDay)

	return domain.DerivedTime{
		Year:             startYear + int(dayIndex/domain.DaysPerYear),
		DayOfYear:        int(dayIndex%domain.DaysPerYear) + 1,
		Hour:             minuteOfDay / domain.MinutesPerHour,
		Minute:           minuteOfDay % domain.MinutesPerHour,
		IsDaytime:        r.IsDay(minuteOfDay),
		SecondsPerMinute: r.SecondsPerMinute(minuteOfDay),
	}
}

// startMinutes places a calibration on the absolute minute axis
func startMinutes(p domain.CalibrationPoint) float64 {
	return float64(p.DayOfYear-1)*domain.MinutesPerDay + float64(p.SecondOfDay)/60
}
