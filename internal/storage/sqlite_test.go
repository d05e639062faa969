package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCalibrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LoadCalibration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	point := domain.CalibrationPoint{RealEpochSeconds: 1767225600.25, Year: 2, DayOfYear: 103, SecondOfDay: 14*3600 + 7*60}
	require.NoError(t, s.SaveCalibration(ctx, point))

	got, err := s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, point, got)

	later := domain.CalibrationPoint{RealEpochSeconds: 1767229200, Year: 2, DayOfYear: 110, SecondOfDay: 6 * 3600}
	require.NoError(t, s.SaveCalibration(WithCalibrationSource(ctx, domain.CalibrationSourceResync), later))

	got, err = s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, later, got)

	history, err := s.CalibrationHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 110, history[0].Day)
	assert.Equal(t, domain.CalibrationSourceResync, history[0].Source)
	assert.Equal(t, SourceManual, history[1].Source)
}

func TestCalibrationRejectedByConstraints(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveCalibration(context.Background(), domain.CalibrationPoint{Year: 1, DayOfYear: 366})
	assert.Error(t, err)

	_, err = s.LoadCalibration(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastAnnouncedDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LastAnnouncedDay(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetLastAnnouncedDay(ctx, 468))
	require.NoError(t, s.SetLastAnnouncedDay(ctx, 469))

	day, err := s.LastAnnouncedDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(469), day)

	require.NoError(t, s.SetState(ctx, keyLastAnnouncedDay, "garbage"))
	_, err = s.LastAnnouncedDay(ctx)
	assert.Error(t, err)
}

func TestStatusHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []domain.ServerStatus{
		{Online: false, LastUpdated: base},
		{Online: true, PlayerCount: 2, LastUpdated: base.Add(time.Minute), Players: []domain.PlayerStatus{
			{Index: 0, Name: "Rex Tamer"}, {Index: 1, Name: "Dodo"},
		}},
		{Online: true, PlayerCount: 0, LastUpdated: base.Add(2 * time.Minute)},
	}
	for i := range statuses {
		id, err := s.RecordStatus(ctx, &statuses[i])
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	snaps, err := s.RecentStatuses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Online)
	assert.Empty(t, snaps[0].Players)
	assert.Equal(t, []string{"Rex Tamer", "Dodo"}, snaps[1].Players)
	assert.Equal(t, base.Add(time.Minute), snaps[1].ObservedAt.UTC())

	pruned, err := s.PruneStatusHistory(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	snaps, err = s.RecentStatuses(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestStateFileLoadsLegacyKeyAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`// written by the old bot
{"real_epoch": 1767225600.5, "year": 3, "day": 12, "hour": 5, "minute": 30}
`), 0o600))

	rec, err := StateFile{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.CalibrationRecord{RealTime: 1767225600.5, Year: 3, Day: 12, Hour: 5, Minute: 30}, rec)
}

func TestStateFileSaveThenLoad(t *testing.T) {
	f := StateFile{Path: filepath.Join(t.TempDir(), "state.json")}

	_, err := f.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	point := domain.CalibrationPoint{RealEpochSeconds: 1767225600, Year: 1, DayOfYear: 365, SecondOfDay: 23*3600 + 59*60}
	require.NoError(t, f.SaveCalibration(context.Background(), point))

	rec, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, point, rec.Point())
}

func TestStateFileRequiresInstant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"year": 1, "day": 1, "hour": 0, "minute": 0}`), 0o600))

	_, err := StateFile{Path: path}.Load()
	assert.Error(t, err)
}

type failingPersister struct{ err error }

func (f failingPersister) SaveCalibration(context.Context, domain.CalibrationPoint) error {
	return f.err
}

func TestFailedCalibrationLeavesStoresUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	state := StateFile{Path: filepath.Join(t.TempDir(), "missing", "state.json")}

	rates := domain.DayNightRate{DaySecondsPerMinute: 4.7666667, NightSecondsPerMinute: 4.045, Sunrise: 330, Sunset: 1050}
	model, err := clock.NewModel(rates, clock.WithPersister(Persisters{s, state}))
	require.NoError(t, err)

	_, err = model.SetCalibration(ctx, 2, 103, 5, 30)
	require.Error(t, err)

	_, ok := model.Calibration()
	assert.False(t, ok)
	_, err = s.LoadCalibration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistersKeepPreviousOnStateFileFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	previous := domain.CalibrationPoint{RealEpochSeconds: 1767225600, Year: 1, DayOfYear: 10, SecondOfDay: 3600}
	require.NoError(t, s.SaveCalibration(ctx, previous))

	state := StateFile{Path: filepath.Join(t.TempDir(), "missing", "state.json")}
	next := domain.CalibrationPoint{RealEpochSeconds: 1767229200, Year: 2, DayOfYear: 103, SecondOfDay: 19800}
	require.Error(t, Persisters{s, state}.SaveCalibration(ctx, next))

	got, err := s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, previous, got)

	history, err := s.CalibrationHistory(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPersistersKeepStateFileOnDatabaseFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	state := StateFile{Path: filepath.Join(dir, "state.json")}
	previous := domain.CalibrationPoint{RealEpochSeconds: 1767225600, Year: 1, DayOfYear: 10, SecondOfDay: 3600}
	require.NoError(t, state.SaveCalibration(ctx, previous))

	next := domain.CalibrationPoint{RealEpochSeconds: 1767229200, Year: 2, DayOfYear: 103, SecondOfDay: 19800}
	err := Persisters{failingPersister{assert.AnError}, state}.SaveCalibration(ctx, next)
	assert.ErrorIs(t, err, assert.AnError)

	rec, err := state.Load()
	require.NoError(t, err)
	assert.Equal(t, previous, rec.Point())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staged file should be removed")
}

func TestPersistersCommitAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	state := StateFile{Path: filepath.Join(t.TempDir(), "state.json")}
	point := domain.CalibrationPoint{RealEpochSeconds: 1767229200, Year: 2, DayOfYear: 103, SecondOfDay: 19800}

	require.NoError(t, Persisters{s, state}.SaveCalibration(ctx, point))

	got, err := s.LoadCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, point, got)
	rec, err := state.Load()
	require.NoError(t, err)
	assert.Equal(t, point, rec.Point())
}
