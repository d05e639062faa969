package storage

import (
	"database/sql"
	"strings"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// playerSeparator joins roster names in status_history.players. Game names
// can't contain a newline.
const playerSeparator = "\n"

func joinPlayers(names []string) string {
	return strings.Join(names, playerSeparator)
}

func splitPlayers(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return strings.Split(ns.String, playerSeparator)
}

// scanCalibration scans real_time, year, day, hour, minute
func scanCalibration(row scanner) (domain.CalibrationRecord, error) {
	var rec domain.CalibrationRecord
	err := row.Scan(&rec.RealTime, &rec.Year, &rec.Day, &rec.Hour, &rec.Minute)
	return rec, err
}

// scanSnapshot scans id, observed_at, online, player_count, players
func scanSnapshot(row scanner) (domain.StatusSnapshot, error) {
	var snap domain.StatusSnapshot
	var online int
	var players sql.NullString
	if err := row.Scan(&snap.ID, &snap.ObservedAt, &online, &snap.PlayerCount, &players); err != nil {
		return snap, err
	}
	snap.Online = online != 0
	snap.Players = splitPlayers(players)
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
