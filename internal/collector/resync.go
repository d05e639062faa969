package collector

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

var errNoReading = errors.New("no game time in response")

// Reading is the game time as reported by the server
type Reading struct {
	Year   int // 0 when the server doesn't report one
	Day    int // may exceed 365 when the server counts days since world creation
	Hour   int
	Minute int
}

// ReadingParser pulls a Reading out of command output using a regexp with
// named groups day, hour, minute and optionally year
type ReadingParser struct {
	re                      *regexp.Regexp
	year, day, hour, minute int
}

// NewReadingParser compiles pattern and checks it has the required groups
func NewReadingParser(pattern string) (*ReadingParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling resync pattern: %w", err)
	}
	p := &ReadingParser{
		re:     re,
		year:   re.SubexpIndex("year"),
		day:    re.SubexpIndex("day"),
		hour:   re.SubexpIndex("hour"),
		minute: re.SubexpIndex("minute"),
	}
	if p.day < 0 || p.hour < 0 || p.minute < 0 {
		return nil, fmt.Errorf("resync pattern %q needs named groups day, hour and minute", pattern)
	}
	return p, nil
}

// Parse finds the first match in text
func (p *ReadingParser) Parse(text string) (Reading, error) {
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return Reading{}, errNoReading
	}

	var r Reading
	var err error
	if r.Day, err = strconv.Atoi(m[p.day]); err != nil {
		return Reading{}, fmt.Errorf("parsing day: %w", err)
	}
	if r.Hour, err = strconv.Atoi(m[p.hour]); err != nil {
		return Reading{}, fmt.Errorf("parsing hour: %w", err)
	}
	if r.Minute, err = strconv.Atoi(m[p.minute]); err != nil {
		return Reading{}, fmt.Errorf("parsing minute: %w", err)
	}
	if p.year >= 0 && m[p.year] != "" {
		if r.Year, err = strconv.Atoi(m[p.year]); err != nil {
			return Reading{}, fmt.Errorf("parsing year: %w", err)
		}
	}
	if r.Day < 1 || r.Hour > 23 || r.Minute > 59 {
		return Reading{}, fmt.Errorf("game time out of range: day %d %02d:%02d", r.Day, r.Hour, r.Minute)
	}
	return r, nil
}

// Resolve places the reading on the calendar. Without a reported year, a day
// count past 365 is split into years; otherwise the year nearest current is used.
func (r Reading) Resolve(current domain.DerivedTime, calibrated bool) domain.DerivedTime {
	t := domain.DerivedTime{Hour: r.Hour, Minute: r.Minute}
	switch {
	case r.Year > 0:
		t.Year, t.DayOfYear = r.Year, r.Day
		if t.DayOfYear > domain.DaysPerYear {
			extra, day := domain.YearDay(int64(r.Day))
			t.Year, t.DayOfYear = r.Year+extra-1, day
		}
	case r.Day > domain.DaysPerYear:
		t.Year, t.DayOfYear = domain.YearDay(int64(r.Day))
	case !calibrated:
		t.Year, t.DayOfYear = 1, r.Day
	default:
		t.DayOfYear = r.Day
		best := int64(-1)
		for _, y := range []int{current.Year - 1, current.Year, current.Year + 1} {
			if y < 1 {
				continue
			}
			cand := t
			cand.Year = y
			if d := abs64(cand.AbsoluteMinute() - current.AbsoluteMinute()); best < 0 || d < best {
				best, t.Year = d, y
			}
		}
	}
	return t
}

// driftMinutes is how far the model is ahead of (positive) or behind the server
func driftMinutes(model, server domain.DerivedTime) int64 {
	return model.AbsoluteMinute() - server.AbsoluteMinute()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
