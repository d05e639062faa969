package collector

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/metrics"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/rcon"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/storage"
)

const pruneInterval = time.Hour

// Clock is the in-game clock the poller displays and recalibrates
type Clock interface {
	Now() (domain.DerivedTime, bool)
	UntilNextMinute() time.Duration
	SetCalibration(ctx context.Context, year, day, hour, minute int) (domain.CalibrationPoint, error)
}

// Store persists poller state across restarts
type Store interface {
	LastAnnouncedDay(ctx context.Context) (int64, error)
	SetLastAnnouncedDay(ctx context.Context, day int64) error
	RecordStatus(ctx context.Context, status *domain.ServerStatus) (int64, error)
	PruneStatusHistory(ctx context.Context, before time.Time) (int64, error)
}

// Sink receives published events. Publish is called from several goroutines
// and must not block for long.
type Sink interface {
	Publish(event domain.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(event domain.Event) error

// Publish calls f
func (f SinkFunc) Publish(event domain.Event) error {
	return f(event)
}

// Poller drives the clock display, the server status poll and the optional
// clock resync, and hands the results to its sinks
type Poller struct {
	cfg     *config.Config
	clock   Clock
	rcon    rcon.Executor
	store   Store
	metrics *metrics.Metrics
	sinks   []Sink
	limiter *rate.Limiter
	resync  *ReadingParser
	now     func() time.Time

	kick chan struct{}

	mu     sync.RWMutex
	status *domain.ServerStatus

	// owned by the clock loop
	lastClockTitle string
	lastAnnounced  int64
	haveAnnounced  bool

	// owned by the status loop
	lastStatusTitle string
	lastForced      time.Time
}

// NewPoller creates a poller. exec and store may be nil, which disables the
// status/resync loops and persistence respectively.
func NewPoller(cfg *config.Config, clk Clock, exec rcon.Executor, store Store, m *metrics.Metrics, sinks ...Sink) (*Poller, error) {
	p := &Poller{
		cfg:     cfg,
		clock:   clk,
		rcon:    exec,
		store:   store,
		metrics: m,
		sinks:   sinks,
		limiter: rate.NewLimiter(rate.Every(cfg.Poller.PublishInterval), cfg.Poller.PublishBurst),
		now:     time.Now,
		kick:    make(chan struct{}, 1),
	}

	if cfg.Poller.ResyncInterval > 0 {
		parser, err := NewReadingParser(cfg.Poller.ResyncPattern)
		if err != nil {
			return nil, err
		}
		p.resync = parser
	}
	return p, nil
}

// Run starts the loops and blocks until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	p.loadAnnounced(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.clockLoop(ctx) })
	if p.rcon != nil {
		g.Go(func() error { return p.statusLoop(ctx) })
		if p.resync != nil {
			g.Go(func() error { return p.resyncLoop(ctx) })
		}
	}
	if p.store != nil && p.cfg.Database.HistoryRetention > 0 {
		g.Go(func() error { return p.pruneLoop(ctx) })
	}

	log.Info().
		Str("world", p.cfg.WorldName).
		Dur("status_interval", p.cfg.Poller.StatusInterval).
		Bool("resync", p.resync != nil).
		Msg("poller started")

	err := g.Wait()
	log.Info().Msg("poller stopped")
	return err
}

// Status returns a copy of the last polled server status, or nil before the first poll
func (p *Poller) Status() *domain.ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.status == nil {
		return nil
	}
	s := *p.status
	s.Players = slices.Clone(p.status.Players)
	return &s
}

// Execute runs an administrative RCON command
func (p *Poller) Execute(ctx context.Context, command string) (string, error) {
	if p.rcon == nil {
		return "", errors.New("RCON not configured")
	}
	return p.execute(ctx, command, "admin")
}

// Calibrate sets the clock, announces the change and refreshes the display
func (p *Poller) Calibrate(ctx context.Context, year, day, hour, minute int, source string) (domain.CalibrationPoint, error) {
	point, err := p.clock.SetCalibration(storage.WithCalibrationSource(ctx, source), year, day, hour, minute)
	if err != nil {
		return domain.CalibrationPoint{}, err
	}

	p.metrics.Calibrations.WithLabelValues(source).Inc()
	log.Info().
		Str("source", source).
		Int("year", year).Int("day", day).Int("hour", hour).Int("minute", minute).
		Msg("clock calibrated")

	p.emit(domain.NewEvent(domain.EventCalibrationSet, p.now(), domain.CalibrationSetEvent{
		Calibration: point.Record(),
		Source:      source,
	}))
	p.Refresh()
	return point, nil
}

// Refresh wakes the clock loop early
func (p *Poller) Refresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// --- clock ---

func (p *Poller) clockLoop(ctx context.Context) error {
	for {
		p.tickClock(ctx)

		wait := p.clock.UntilNextMinute()
		if wait < p.cfg.Poller.MinClockTick {
			wait = p.cfg.Poller.MinClockTick
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-p.kick:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *Poller) tickClock(ctx context.Context) {
	t, ok := p.clock.Now()
	if !ok {
		return
	}
	p.metrics.InGameDay.Set(float64(t.AbsoluteDay()))

	if title := ClockTitle(p.cfg.WorldName, t); title != p.lastClockTitle {
		p.lastClockTitle = title
		p.emit(domain.NewEvent(domain.EventClockUpdate, p.now(), domain.ClockUpdateEvent{Title: title, Time: t}))
	}
	p.announceDays(ctx, t)
}

// announceDays emits new_day for every day begun since the last announcement
func (p *Poller) announceDays(ctx context.Context, t domain.DerivedTime) {
	today := t.AbsoluteDay()

	if !p.haveAnnounced {
		p.setAnnounced(ctx, today)
		return
	}
	// The marker only moves forward; after the clock is set back nothing is
	// announced until it passes the day already announced.
	if today <= p.lastAnnounced {
		return
	}

	from := p.lastAnnounced + 1
	if backlog := int64(p.cfg.Poller.AnnounceBacklog); backlog > 0 && today-from+1 > backlog {
		log.Warn().Int64("skipped", today-from+1-backlog).Msg("too many missed days, announcing the most recent only")
		from = today - backlog + 1
	}
	for d := from; d <= today; d++ {
		year, day := domain.YearDay(d)
		p.emit(domain.NewEvent(domain.EventNewDay, p.now(), domain.NewDayEvent{
			Year:    year,
			Day:     day,
			Message: NewDayMessage(p.cfg.WorldName, year, day),
		}))
	}
	p.setAnnounced(ctx, today)
}

func (p *Poller) setAnnounced(ctx context.Context, day int64) {
	p.lastAnnounced = day
	p.haveAnnounced = true
	if p.store == nil {
		return
	}
	if err := p.store.SetLastAnnouncedDay(ctx, day); err != nil {
		log.Error().Err(err).Int64("day", day).Msg("saving last announced day")
	}
}

func (p *Poller) loadAnnounced(ctx context.Context) {
	if p.store == nil {
		return
	}
	day, err := p.store.LastAnnouncedDay(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("loading last announced day")
	default:
		p.lastAnnounced = day
		p.haveAnnounced = true
	}
}

// --- status ---

func (p *Poller) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Poller.StatusInterval)
	defer ticker.Stop()

	// Initial poll
	p.pollStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollStatus(ctx)
		}
	}
}

func (p *Poller) pollStatus(ctx context.Context) {
	resp, err := p.execute(ctx, p.cfg.Poller.StatusCommand, "status")
	if ctx.Err() != nil {
		return
	}

	now := p.now().UTC()
	status := &domain.ServerStatus{
		Name:        p.cfg.WorldName,
		Address:     p.cfg.Rcon.Address,
		MaxPlayers:  p.cfg.Poller.PlayerCap,
		Players:     []domain.PlayerStatus{},
		LastUpdated: now,
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", rcon.Kind(err)).Msg("status poll failed")
		status.Error = err.Error()
	} else {
		status.Online = true
		status.Players = ParseRoster(resp)
		status.PlayerCount = len(status.Players)
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	p.metrics.PlayersOnline.Set(float64(status.PlayerCount))
	if status.Online {
		p.metrics.ServerOnline.Set(1)
	} else {
		p.metrics.ServerOnline.Set(0)
	}

	if p.store != nil {
		if _, err := p.store.RecordStatus(ctx, status); err != nil {
			log.Error().Err(err).Msg("recording status")
		}
	}

	title := StatusTitle(p.cfg.WorldName, status)
	changed := title != p.lastStatusTitle
	forced := now.Sub(p.lastForced) >= p.cfg.Poller.ForceRefresh
	if !changed && !forced {
		return
	}
	if !p.limiter.AllowN(now, 1) {
		// lastStatusTitle is left alone so the change is retried next poll
		p.metrics.ThrottledTotal.Inc()
		log.Debug().Str("title", title).Msg("status publish throttled")
		return
	}

	p.lastStatusTitle = title
	if forced {
		p.lastForced = now
	}
	p.emit(domain.NewEvent(domain.EventServerUpdate, now, domain.ServerUpdateEvent{
		Title:  title,
		Status: *status,
		Forced: forced && !changed,
	}))
}

// --- resync ---

func (p *Poller) resyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Poller.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.resyncOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("clock resync failed")
			}
		}
	}
}

// resyncOnce reads the game time from the server and recalibrates when the
// model has drifted past the tolerance
func (p *Poller) resyncOnce(ctx context.Context) error {
	resp, err := p.execute(ctx, p.cfg.Poller.ResyncCommand, "resync")
	if err != nil {
		return err
	}
	reading, err := p.resync.Parse(resp)
	if err != nil {
		return err
	}

	current, calibrated := p.clock.Now()
	server := reading.Resolve(current, calibrated)
	if calibrated {
		drift := driftMinutes(current, server)
		p.metrics.ResyncDrift.Set(float64(drift))
		if abs64(drift) <= int64(p.cfg.Poller.ResyncTolerance) {
			log.Debug().Int64("drift_minutes", drift).Msg("clock in sync")
			return nil
		}
		log.Info().Int64("drift_minutes", drift).Msg("clock drifted, recalibrating from server")
	}

	_, err = p.Calibrate(ctx, server.Year, server.DayOfYear, server.Hour, server.Minute, domain.CalibrationSourceResync)
	return err
}

// --- housekeeping ---

func (p *Poller) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := p.now().Add(-p.cfg.Database.HistoryRetention)
			if count, err := p.store.PruneStatusHistory(ctx, cutoff); err != nil {
				log.Error().Err(err).Msg("pruning status history")
			} else if count > 0 {
				log.Info().Int64("rows", count).Msg("pruned status history")
			}
		}
	}
}

// execute runs command, labelling metrics by purpose rather than command text
func (p *Poller) execute(ctx context.Context, command, purpose string) (string, error) {
	start := time.Now()
	resp, err := p.rcon.Execute(ctx, command)
	p.metrics.RconLatencyMS.WithLabelValues(purpose).Observe(float64(time.Since(start).Milliseconds()))
	p.metrics.RconTotal.WithLabelValues(purpose, rcon.Kind(err)).Inc()
	return resp, err
}

// emit hands an event to every sink
func (p *Poller) emit(event domain.Event) {
	p.metrics.EventsTotal.WithLabelValues(event.Type).Inc()
	for _, s := range p.sinks {
		if err := s.Publish(event); err != nil {
			log.Warn().Err(err).Str("event", event.Type).Msg("publishing event")
		}
	}
}
