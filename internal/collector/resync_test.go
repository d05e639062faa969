package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

func TestReadingParserDefaultPattern(t *testing.T) {
	p, err := NewReadingParser(config.Default().Poller.ResyncPattern)
	require.NoError(t, err)

	r, err := p.Parse("Server time: Day 468, 05:30:12")
	require.NoError(t, err)
	assert.Equal(t, Reading{Day: 468, Hour: 5, Minute: 30}, r)

	_, err = p.Parse("Day 3, 25:00")
	assert.Error(t, err)

	_, err = p.Parse("nothing here")
	assert.ErrorIs(t, err, errNoReading)
}

func TestReadingParserWithYear(t *testing.T) {
	p, err := NewReadingParser(`Year (?P<year>\d+) Day (?P<day>\d+) (?P<hour>\d+):(?P<minute>\d+)`)
	require.NoError(t, err)

	r, err := p.Parse("Year 4 Day 12 7:05")
	require.NoError(t, err)
	assert.Equal(t, Reading{Year: 4, Day: 12, Hour: 7, Minute: 5}, r)
}

func TestReadingParserRequiresGroups(t *testing.T) {
	_, err := NewReadingParser(`Day (\d+)`)
	assert.Error(t, err)

	_, err = NewReadingParser(`(`)
	assert.Error(t, err)
}

func TestReadingResolve(t *testing.T) {
	current := domain.DerivedTime{Year: 3, DayOfYear: 365, Hour: 23, Minute: 58}

	cases := []struct {
		name       string
		reading    Reading
		calibrated bool
		want       domain.DerivedTime
	}{
		{"explicit year", Reading{Year: 5, Day: 10, Hour: 1, Minute: 2}, true, domain.DerivedTime{Year: 5, DayOfYear: 10, Hour: 1, Minute: 2}},
		{"explicit year with overflowing day", Reading{Year: 1, Day: 366, Hour: 0, Minute: 0}, true, domain.DerivedTime{Year: 2, DayOfYear: 1}},
		{"cumulative day count", Reading{Day: 731, Hour: 6}, true, domain.DerivedTime{Year: 3, DayOfYear: 1, Hour: 6}},
		{"wraps into next year", Reading{Day: 1, Hour: 0, Minute: 1}, true, domain.DerivedTime{Year: 4, DayOfYear: 1, Minute: 1}},
		{"same year", Reading{Day: 365, Hour: 23, Minute: 50}, true, domain.DerivedTime{Year: 3, DayOfYear: 365, Hour: 23, Minute: 50}},
		{"uncalibrated", Reading{Day: 40, Hour: 12}, false, domain.DerivedTime{Year: 1, DayOfYear: 40, Hour: 12}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.reading.Resolve(current, tc.calibrated))
		})
	}
}
