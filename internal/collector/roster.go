package collector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// rosterLine matches one ListPlayers entry: "0. Name, 0002a5b3c4d5e6f7"
var rosterLine = regexp.MustCompile(`^\s*(\d+)\.\s*(.*?)\s*$`)

// ParseRoster extracts players from a ListPlayers reply. Unrecognized lines
// (banners, "No Players Connected") are ignored.
func ParseRoster(text string) []domain.PlayerStatus {
	players := []domain.PlayerStatus{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		m := rosterLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		// Names may contain commas; the id is whatever follows the last one.
		name, id := m[2], ""
		if i := strings.LastIndex(name, ","); i >= 0 {
			name, id = strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
		}
		if name == "" {
			continue
		}
		players = append(players, domain.PlayerStatus{Index: index, Name: name, ID: id})
	}
	return players
}
