package collector

import (
	"fmt"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// ClockTitle renders the in-game time line, e.g.
// "☀️ | Solunaris Time | 14:07 | Day 103 | Year 2"
func ClockTitle(world string, t domain.DerivedTime) string {
	emoji := "🌙"
	if t.IsDaytime {
		emoji = "☀️"
	}
	return fmt.Sprintf("%s | %s Time | %s | Day %d | Year %d", emoji, world, t.Clock(), t.DayOfYear, t.Year)
}

// StatusTitle renders the server status line, e.g. "🟢 Solunaris | 3/42"
func StatusTitle(world string, status *domain.ServerStatus) string {
	emoji := "🔴"
	if status.Online {
		emoji = "🟢"
	}
	return fmt.Sprintf("%s %s | %d/%d", emoji, world, status.PlayerCount, status.MaxPlayers)
}

// NewDayMessage is the announcement text for the start of an in-game day
func NewDayMessage(world string, year, day int) string {
	return fmt.Sprintf("📅 A new day has begun on %s! Day %d, Year %d.", world, day, year)
}
