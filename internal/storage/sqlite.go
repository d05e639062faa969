package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// kv_state keys
const (
	keyLastAnnouncedDay = "last_announced_day"
)

// SourceManual is recorded for calibrations saved without a source tag
const SourceManual = "manual"

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

type sourceKey struct{}

// WithCalibrationSource tags a context so SaveCalibration records where the
// calibration came from
func WithCalibrationSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func calibrationSource(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceManual
}

// Store provides database access
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Calibration methods ---

// SaveCalibration replaces the stored calibration and appends it to the history.
// It satisfies clock.Persister.
func (s *Store) SaveCalibration(ctx context.Context, point domain.CalibrationPoint) error {
	rec := point.Record()
	source := calibrationSource(ctx)
	now := formatTimestamp(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration (id, real_time, year, day, hour, minute, source, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			real_time = excluded.real_time,
			year = excluded.year,
			day = excluded.day,
			hour = excluded.hour,
			minute = excluded.minute,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, rec.RealTime, rec.Year, rec.Day, rec.Hour, rec.Minute, source, now); err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration_history (real_time, year, day, hour, minute, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RealTime, rec.Year, rec.Day, rec.Hour, rec.Minute, source, now); err != nil {
		return fmt.Errorf("recording calibration history: %w", err)
	}

	return tx.Commit()
}

// LoadCalibration returns the stored calibration, or ErrNotFound
func (s *Store) LoadCalibration(ctx context.Context) (domain.CalibrationPoint, error) {
	rec, err := scanCalibration(s.db.QueryRowContext(ctx, `
		SELECT real_time, year, day, hour, minute FROM calibration WHERE id = 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CalibrationPoint{}, ErrNotFound
	}
	if err != nil {
		return domain.CalibrationPoint{}, err
	}
	return rec.Point(), nil
}

// CalibrationHistoryEntry is one past calibration
type CalibrationHistoryEntry struct {
	domain.CalibrationRecord
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CalibrationHistory returns the most recent calibrations, newest first
func (s *Store) CalibrationHistory(ctx context.Context, limit int) ([]CalibrationHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT real_time, year, day, hour, minute, source, recorded_at
		FROM calibration_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CalibrationHistoryEntry
	for rows.Next() {
		var e CalibrationHistoryEntry
		if err := rows.Scan(&e.RealTime, &e.Year, &e.Day, &e.Hour, &e.Minute, &e.Source, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Key/value state ---

// GetState returns a stored value, or ErrNotFound
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetState stores a value
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTimestamp(s.now()))
	return err
}

// LastAnnouncedDay returns the absolute in-game day last announced, or ErrNotFound
func (s *Store) LastAnnouncedDay(ctx context.Context) (int64, error) {
	v, err := s.GetState(ctx, keyLastAnnouncedDay)
	if err != nil {
		return 0, err
	}
	day, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s value %q: %w", keyLastAnnouncedDay, v, err)
	}
	return day, nil
}

// SetLastAnnouncedDay records the absolute in-game day last announced
func (s *Store) SetLastAnnouncedDay(ctx context.Context, day int64) error {
	return s.SetState(ctx, keyLastAnnouncedDay, strconv.FormatInt(day, 10))
}

// --- Status history ---

// RecordStatus appends a status poll result and returns its ID
func (s *Store) RecordStatus(ctx context.Context, status *domain.ServerStatus) (int64, error) {
	observed := status.LastUpdated
	if observed.IsZero() {
		observed = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO status_history (observed_at, online, player_count, players)
		VALUES (?, ?, ?, ?)
	`, formatTimestamp(observed), boolToInt(status.Online), status.PlayerCount, joinPlayers(status.PlayerNames()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentStatuses returns up to limit status snapshots, newest first
func (s *Store) RecentStatuses(ctx context.Context, limit int) ([]domain.StatusSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, observed_at, online, player_count, players
		FROM status_history ORDER BY observed_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []domain.StatusSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// PruneStatusHistory deletes snapshots observed before the cutoff
func (s *Store) PruneStatusHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM status_history WHERE observed_at < ?", formatTimestamp(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
