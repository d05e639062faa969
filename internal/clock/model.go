// Package clock keeps the accelerated in-game clock: a calibration point plus
// a day/night rate table turned into the current in-game date and time.
package clock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

var (
	ErrInvalidArgument = errors.New("invalid calibration")
	ErrInvalidConfig   = errors.New("invalid day/night configuration")
)

// Source provides the current wall-clock time
type Source interface {
	Now() time.Time
}

// SystemSource reads the system clock
type SystemSource struct{}

// Now returns the current system time
func (SystemSource) Now() time.Time {
	return time.Now()
}

// Persister durably stores the active calibration
type Persister interface {
	SaveCalibration(ctx context.Context, point domain.CalibrationPoint) error
}

// Option configures a Model
type Option func(*Model)

// WithSource overrides the wall-clock source (tests use a fake)
func WithSource(s Source) Option {
	return func(m *Model) { m.source = s }
}

// WithPersister writes every new calibration through p before it becomes active
func WithPersister(p Persister) Option {
	return func(m *Model) { m.persister = p }
}

// Model is the in-game clock. It is safe for concurrent use.
type Model struct {
	rates     domain.DayNightRate
	source    Source
	persister Persister

	setMu sync.Mutex // serializes persist+swap in SetCalibration
	mu    sync.RWMutex
	point *domain.CalibrationPoint
}

// ValidateRates rejects rate tables that can't drive the clock
func ValidateRates(r domain.DayNightRate) error {
	if !(r.DaySecondsPerMinute > 0) || math.IsInf(r.DaySecondsPerMinute, 0) {
		return fmt.Errorf("%w: day seconds per minute must be positive, got %v", ErrInvalidConfig, r.DaySecondsPerMinute)
	}
	if !(r.NightSecondsPerMinute > 0) || math.IsInf(r.NightSecondsPerMinute, 0) {
		return fmt.Errorf("%w: night seconds per minute must be positive, got %v", ErrInvalidConfig, r.NightSecondsPerMinute)
	}
	if r.Sunrise < 0 || r.Sunset >= domain.MinutesPerDay || r.Sunrise >= r.Sunset {
		return fmt.Errorf("%w: need 0 <= sunrise < sunset < 1440, got sunrise=%d sunset=%d", ErrInvalidConfig, r.Sunrise, r.Sunset)
	}
	return nil
}

// NewModel creates an uncalibrated clock for the given rate table
func NewModel(rates domain.DayNightRate, opts ...Option) (*Model, error) {
	if err := ValidateRates(rates); err != nil {
		return nil, err
	}
	m := &Model{
		rates:  rates,
		source: SystemSource{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Rates returns the configured rate table
func (m *Model) Rates() domain.DayNightRate {
	return m.rates
}

// ValidateCalibration checks an administrative calibration input
func ValidateCalibration(year, day, hour, minute int) error {
	switch {
	case year < 1:
		return fmt.Errorf("%w: year must be >= 1, got %d", ErrInvalidArgument, year)
	case day < 1 || day > domain.DaysPerYear:
		return fmt.Errorf("%w: day must be in [1,%d], got %d", ErrInvalidArgument, domain.DaysPerYear, day)
	case hour < 0 || hour > 23:
		return fmt.Errorf("%w: hour must be in [0,23], got %d", ErrInvalidArgument, hour)
	case minute < 0 || minute > 59:
		return fmt.Errorf("%w: minute must be in [0,59], got %d", ErrInvalidArgument, minute)
	}
	return nil
}

// SetCalibration declares that the game currently reads year/day hour:minute.
// The new point is persisted before it replaces the old one; on any error the
// previous calibration stays active.
func (m *Model) SetCalibration(ctx context.Context, year, day, hour, minute int) (domain.CalibrationPoint, error) {
	if err := ValidateCalibration(year, day, hour, minute); err != nil {
		return domain.CalibrationPoint{}, err
	}

	m.setMu.Lock()
	defer m.setMu.Unlock()

	now := m.source.Now()
	point := domain.CalibrationPoint{
		RealEpochSeconds: float64(now.Unix()) + float64(now.Nanosecond())/1e9,
		Year:             year,
		DayOfYear:        day,
		SecondOfDay:      hour*3600 + minute*60,
	}

	if m.persister != nil {
		if err := m.persister.SaveCalibration(ctx, point); err != nil {
			return domain.CalibrationPoint{}, fmt.Errorf("persisting calibration: %w", err)
		}
	}

	m.mu.Lock()
	m.point = &point
	m.mu.Unlock()

	return point, nil
}

// Restore installs a previously persisted calibration without writing it back
func (m *Model) Restore(point domain.CalibrationPoint) error {
	if point.Year < 1 || point.DayOfYear < 1 || point.DayOfYear > domain.DaysPerYear ||
		point.SecondOfDay < 0 || point.SecondOfDay >= domain.SecondsPerDay {
		return fmt.Errorf("%w: stored calibration out of range: %+v", ErrInvalidArgument, point)
	}

	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	m.point = &point
	m.mu.Unlock()
	return nil
}

// Calibration returns the active calibration point, if any
func (m *Model) Calibration() (domain.CalibrationPoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.point == nil {
		return domain.CalibrationPoint{}, false
	}
	return *m.point, true
}

// Now returns the current in-game time. ok is false while uncalibrated.
func (m *Model) Now() (domain.DerivedTime, bool) {
	return m.At(m.source.Now())
}

// At returns the in-game time at instant t
func (m *Model) At(t time.Time) (domain.DerivedTime, bool) {
	point, ok := m.Calibration()
	if !ok {
		return domain.DerivedTime{}, false
	}
	total := advance(m.rates, startMinutes(point), elapsedSeconds(point, t))
	return derive(m.rates, point.Year, total), true
}

// UntilNextMinute returns how long until the displayed in-game minute changes.
// Uncalibrated clocks report one day-rate minute.
func (m *Model) UntilNextMinute() time.Duration {
	point, ok := m.Calibration()
	if !ok {
		return secondsToDuration(m.rates.DaySecondsPerMinute)
	}

	total := advance(m.rates, startMinutes(point), elapsedSeconds(point, m.source.Now()))
	current := wholeMinutes(total)
	rate := m.rates.SecondsPerMinute(int(current % domain.MinutesPerDay))

	// Sunrise and sunset sit on whole minutes, so the rate can't change before the next one.
	wait := (float64(current+1) - total) * rate
	if wait <= 0 {
		wait = rate
	}
	return secondsToDuration(wait)
}

// elapsedSeconds measures real time since the calibration, split into whole and
// fractional seconds so the float keeps sub-microsecond precision.
func elapsedSeconds(p domain.CalibrationPoint, t time.Time) float64 {
	whole := math.Floor(p.RealEpochSeconds)
	frac := p.RealEpochSeconds - whole
	return float64(t.Unix()-int64(whole)) + (float64(t.Nanosecond())/1e9 - frac)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
