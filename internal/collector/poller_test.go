package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/metrics"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/rcon"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/storage"
)

var t0 = time.Unix(1767225600, 0)

type fakeSource struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeSource) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSource) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeExecutor struct {
	mu       sync.Mutex
	replies  map[string]string
	err      error
	commands []string
}

func (f *fakeExecutor) Execute(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.err != nil {
		return "", f.err
	}
	return f.replies[command], nil
}

func (f *fakeExecutor) set(command, reply string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies == nil {
		f.replies = map[string]string{}
	}
	f.replies[command] = reply
	f.err = err
}

type memoryStore struct {
	mu        sync.Mutex
	announced *int64
	statuses  []domain.ServerStatus
}

func (s *memoryStore) LastAnnouncedDay(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announced == nil {
		return 0, storage.ErrNotFound
	}
	return *s.announced, nil
}

func (s *memoryStore) SetLastAnnouncedDay(_ context.Context, day int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced = &day
	return nil
}

func (s *memoryStore) RecordStatus(_ context.Context, status *domain.ServerStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, *status)
	return int64(len(s.statuses)), nil
}

func (s *memoryStore) PruneStatusHistory(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) ofType(eventType string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	poller  *Poller
	model   *clock.Model
	source  *fakeSource
	exec    *fakeExecutor
	store   *memoryStore
	events  *recorder
	metrics *metrics.Metrics
	now     time.Time
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Rcon.Address = "127.0.0.1:27020"
	cfg.Poller.PublishInterval = time.Millisecond
	cfg.Poller.PublishBurst = 100
	if tweak != nil {
		tweak(cfg)
	}

	rates, err := cfg.Rates()
	require.NoError(t, err)

	h := &harness{
		source: &fakeSource{now: t0},
		exec:   &fakeExecutor{},
		store:  &memoryStore{},
		events: &recorder{},
		now:    t0,
	}
	h.model, err = clock.NewModel(rates, clock.WithSource(h.source))
	require.NoError(t, err)
	h.metrics = metrics.New(prometheus.NewRegistry())

	h.poller, err = NewPoller(cfg, h.model, h.exec, h.store, h.metrics, h.events)
	require.NoError(t, err)
	h.poller.now = func() time.Time { return h.now }
	return h
}

func (h *harness) fullDay() time.Duration {
	r := h.model.Rates()
	day := float64(r.Sunset-r.Sunrise) * r.DaySecondsPerMinute
	night := float64(domain.MinutesPerDay-(r.Sunset-r.Sunrise)) * r.NightSecondsPerMinute
	return time.Duration((day + night) * float64(time.Second))
}

func TestTickClockPublishesOnlyChanges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.poller.tickClock(ctx)
	assert.Empty(t, h.events.ofType(domain.EventClockUpdate), "uncalibrated clock publishes nothing")

	require.NoError(t, h.model.Restore(domain.CalibrationPoint{
		RealEpochSeconds: float64(t0.Unix()), Year: 2, DayOfYear: 103, SecondOfDay: 14*3600 + 7*60,
	}))

	h.poller.tickClock(ctx)
	h.poller.tickClock(ctx)
	updates := h.events.ofType(domain.EventClockUpdate)
	require.Len(t, updates, 1)
	data := updates[0].Data.(domain.ClockUpdateEvent)
	assert.Equal(t, "☀️ | Solunaris Time | 14:07 | Day 103 | Year 2", data.Title)

	h.source.Advance(5 * time.Second)
	h.poller.tickClock(ctx)
	updates = h.events.ofType(domain.EventClockUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, "☀️ | Solunaris Time | 14:08 | Day 103 | Year 2", updates[1].Data.(domain.ClockUpdateEvent).Title)
}

func TestNightTitle(t *testing.T) {
	title := ClockTitle("Solunaris", domain.DerivedTime{Year: 1, DayOfYear: 5, Hour: 2, Minute: 3})
	assert.Equal(t, "🌙 | Solunaris Time | 02:03 | Day 5 | Year 1", title)
}

func TestNewDayAnnouncements(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Poller.AnnounceBacklog = 3 })
	ctx := context.Background()

	require.NoError(t, h.model.Restore(domain.CalibrationPoint{
		RealEpochSeconds: float64(t0.Unix()), Year: 1, DayOfYear: 364, SecondOfDay: 12 * 3600,
	}))

	h.poller.tickClock(ctx)
	assert.Empty(t, h.events.ofType(domain.EventNewDay), "first observation only sets the marker")
	require.NotNil(t, h.store.announced)
	assert.Equal(t, int64(364), *h.store.announced)

	// Day 364 -> Year 2 Day 1
	h.source.Advance(2 * h.fullDay())
	h.poller.tickClock(ctx)
	days := h.events.ofType(domain.EventNewDay)
	require.Len(t, days, 2)
	assert.Equal(t, domain.NewDayEvent{Year: 1, Day: 365, Message: "📅 A new day has begun on Solunaris! Day 365, Year 1."}, days[0].Data)
	assert.Equal(t, 2, days[1].Data.(domain.NewDayEvent).Year)
	assert.Equal(t, 1, days[1].Data.(domain.NewDayEvent).Day)

	// ten days pass, only the backlog is announced
	h.source.Advance(10 * h.fullDay())
	h.poller.tickClock(ctx)
	days = h.events.ofType(domain.EventNewDay)
	require.Len(t, days, 5)
	assert.Equal(t, 11, days[4].Data.(domain.NewDayEvent).Day)
	assert.Equal(t, 9, days[2].Data.(domain.NewDayEvent).Day)
}

func TestSettingClockBackKeepsHighWaterMark(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.poller.Calibrate(ctx, 3, 200, 10, 0, domain.CalibrationSourceAPI)
	require.NoError(t, err)
	h.poller.tickClock(ctx)

	_, err = h.poller.Calibrate(ctx, 3, 150, 10, 0, domain.CalibrationSourceAPI)
	require.NoError(t, err)
	h.poller.tickClock(ctx)

	assert.Empty(t, h.events.ofType(domain.EventNewDay))
	assert.Equal(t, int64(2*365+200), *h.store.announced)

	// days already announced are not announced again
	h.source.Advance(h.fullDay())
	h.poller.tickClock(ctx)
	assert.Empty(t, h.events.ofType(domain.EventNewDay))
	assert.Equal(t, int64(2*365+200), *h.store.announced)

	_, err = h.poller.Calibrate(ctx, 3, 202, 10, 0, domain.CalibrationSourceAPI)
	require.NoError(t, err)
	h.poller.tickClock(ctx)

	days := h.events.ofType(domain.EventNewDay)
	require.Len(t, days, 2)
	assert.Equal(t, 201, days[0].Data.(domain.NewDayEvent).Day)
	assert.Equal(t, 202, days[1].Data.(domain.NewDayEvent).Day)
	assert.Equal(t, int64(2*365+202), *h.store.announced)
}

func TestMarkerSurvivesRestart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	marker := int64(100)
	h.store.announced = &marker

	require.NoError(t, h.model.Restore(domain.CalibrationPoint{
		RealEpochSeconds: float64(t0.Unix()), Year: 1, DayOfYear: 102, SecondOfDay: 0,
	}))
	h.poller.loadAnnounced(ctx)
	h.poller.tickClock(ctx)

	days := h.events.ofType(domain.EventNewDay)
	require.Len(t, days, 2)
	assert.Equal(t, 101, days[0].Data.(domain.NewDayEvent).Day)
	assert.Equal(t, 102, days[1].Data.(domain.NewDayEvent).Day)
}

func TestCalibrateEmitsAndRefreshes(t *testing.T) {
	h := newHarness(t, nil)

	point, err := h.poller.Calibrate(context.Background(), 2, 103, 14, 7, domain.CalibrationSourceBus)
	require.NoError(t, err)
	assert.Equal(t, 103, point.DayOfYear)

	sets := h.events.ofType(domain.EventCalibrationSet)
	require.Len(t, sets, 1)
	data := sets[0].Data.(domain.CalibrationSetEvent)
	assert.Equal(t, domain.CalibrationSourceBus, data.Source)
	assert.Equal(t, 14, data.Calibration.Hour)

	select {
	case <-h.poller.kick:
	default:
		t.Fatal("clock loop was not woken")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Calibrations.WithLabelValues(domain.CalibrationSourceBus)))
}

func TestCalibrateRejectsInvalid(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.poller.Calibrate(context.Background(), 1, 366, 0, 0, domain.CalibrationSourceAPI)
	assert.ErrorIs(t, err, clock.ErrInvalidArgument)
	assert.Empty(t, h.events.ofType(domain.EventCalibrationSet))
}

func TestPollStatusOnline(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.set("ListPlayers", "0. Rex Tamer, 0002a5b3c4d5e6f7\n1. Dodo, 1234\n", nil)

	h.poller.pollStatus(context.Background())

	status := h.poller.Status()
	require.NotNil(t, status)
	assert.True(t, status.Online)
	assert.Equal(t, 2, status.PlayerCount)
	assert.Equal(t, 42, status.MaxPlayers)
	assert.Equal(t, []string{"Rex Tamer", "Dodo"}, status.PlayerNames())

	updates := h.events.ofType(domain.EventServerUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "🟢 Solunaris | 2/42", updates[0].Data.(domain.ServerUpdateEvent).Title)
	assert.Len(t, h.store.statuses, 1)
}

func TestPollStatusOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.set("ListPlayers", "", fmt.Errorf("%w: dialing: refused", rcon.ErrConnectFailed))

	h.poller.pollStatus(context.Background())

	status := h.poller.Status()
	require.NotNil(t, status)
	assert.False(t, status.Online)
	assert.Contains(t, status.Error, "refused")

	updates := h.events.ofType(domain.EventServerUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "🔴 Solunaris | 0/42", updates[0].Data.(domain.ServerUpdateEvent).Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RconTotal.WithLabelValues("status", "connect_failed")))
}

func TestPollStatusChangeDetectionAndForcedRefresh(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.exec.set("ListPlayers", "No Players Connected", nil)

	h.poller.pollStatus(ctx)
	h.now = h.now.Add(15 * time.Second)
	h.poller.pollStatus(ctx)
	require.Len(t, h.events.ofType(domain.EventServerUpdate), 1, "unchanged status is not republished")

	h.now = h.now.Add(10 * time.Minute)
	h.poller.pollStatus(ctx)
	updates := h.events.ofType(domain.EventServerUpdate)
	require.Len(t, updates, 2)
	assert.True(t, updates[1].Data.(domain.ServerUpdateEvent).Forced)

	h.exec.set("ListPlayers", "0. Someone, 77", nil)
	h.now = h.now.Add(15 * time.Second)
	h.poller.pollStatus(ctx)
	updates = h.events.ofType(domain.EventServerUpdate)
	require.Len(t, updates, 3)
	assert.False(t, updates[2].Data.(domain.ServerUpdateEvent).Forced)
}

func TestPollStatusThrottledChangeStaysPending(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Poller.PublishInterval = time.Hour
		c.Poller.PublishBurst = 1
	})
	ctx := context.Background()

	h.exec.set("ListPlayers", "No Players Connected", nil)
	h.poller.pollStatus(ctx)
	require.Len(t, h.events.ofType(domain.EventServerUpdate), 1)

	h.exec.set("ListPlayers", "0. Someone, 77", nil)
	h.now = h.now.Add(15 * time.Second)
	h.poller.pollStatus(ctx)
	assert.Len(t, h.events.ofType(domain.EventServerUpdate), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ThrottledTotal))

	h.now = h.now.Add(time.Hour)
	h.poller.pollStatus(ctx)
	updates := h.events.ofType(domain.EventServerUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, "🟢 Solunaris | 1/42", updates[1].Data.(domain.ServerUpdateEvent).Title)
}

func TestResyncWithinTolerance(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Poller.ResyncInterval = time.Minute })
	ctx := context.Background()

	_, err := h.poller.Calibrate(ctx, 2, 103, 14, 7, domain.CalibrationSourceAPI)
	require.NoError(t, err)
	h.exec.set("GetGameTime", "Day 103, 14:08:31", nil)

	require.NoError(t, h.poller.resyncOnce(ctx))
	assert.Len(t, h.events.ofType(domain.EventCalibrationSet), 1)
	assert.Equal(t, -1.0, testutil.ToFloat64(h.metrics.ResyncDrift))
}

func TestResyncRecalibratesOnDrift(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Poller.ResyncInterval = time.Minute })
	ctx := context.Background()

	_, err := h.poller.Calibrate(ctx, 2, 103, 14, 7, domain.CalibrationSourceAPI)
	require.NoError(t, err)
	h.exec.set("GetGameTime", "Day 104, 06:00", nil)

	require.NoError(t, h.poller.resyncOnce(ctx))
	sets := h.events.ofType(domain.EventCalibrationSet)
	require.Len(t, sets, 2)
	data := sets[1].Data.(domain.CalibrationSetEvent)
	assert.Equal(t, domain.CalibrationSourceResync, data.Source)
	assert.Equal(t, domain.CalibrationRecord{RealTime: float64(t0.Unix()), Year: 2, Day: 104, Hour: 6, Minute: 0}, data.Calibration)
}

func TestResyncCalibratesUncalibratedClock(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Poller.ResyncInterval = time.Minute })
	h.exec.set("GetGameTime", "Day 468, 05:30", nil)

	require.NoError(t, h.poller.resyncOnce(context.Background()))

	now, ok := h.model.Now()
	require.True(t, ok)
	assert.Equal(t, 2, now.Year)
	assert.Equal(t, 103, now.DayOfYear)
}

func TestResyncParseFailure(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Poller.ResyncInterval = time.Minute })
	h.exec.set("GetGameTime", "Unknown command", nil)
	assert.Error(t, h.poller.resyncOnce(context.Background()))
}

func TestExecuteWithoutRcon(t *testing.T) {
	cfg := config.Default()
	rates, err := cfg.Rates()
	require.NoError(t, err)
	model, err := clock.NewModel(rates)
	require.NoError(t, err)

	p, err := NewPoller(cfg, model, nil, nil, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "ListPlayers")
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Poller.StatusInterval = 10 * time.Millisecond
		c.Poller.MinClockTick = 10 * time.Millisecond
	})
	h.exec.set("ListPlayers", "No Players Connected", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(h.events.ofType(domain.EventServerUpdate)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSinkErrorsDoNotStopOthers(t *testing.T) {
	h := newHarness(t, nil)
	second := &recorder{}
	h.poller.sinks = []Sink{
		SinkFunc(func(domain.Event) error { return errors.New("down") }),
		second,
	}
	h.exec.set("ListPlayers", "No Players Connected", nil)
	h.poller.pollStatus(context.Background())
	assert.Len(t, second.ofType(domain.EventServerUpdate), 1)
}
