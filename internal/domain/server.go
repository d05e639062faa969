package domain

import "time"

// ServerStatus represents the current state of the game server as seen over RCON
type ServerStatus struct {
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	Online      bool           `json:"online"`
	PlayerCount int            `json:"player_count"`
	MaxPlayers  int            `json:"max_players"`
	Players     []PlayerStatus `json:"players"`
	LastUpdated time.Time      `json:"last_updated"`
	Error       string         `json:"error,omitempty"` // last poll failure, empty when online
}

// PlayerStatus represents a player listed by the server
type PlayerStatus struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	ID    string `json:"id,omitempty"` // platform id (e.g. Steam / EOS), if reported
}

// PlayerNames returns the names of all listed players in roster order
func (s *ServerStatus) PlayerNames() []string {
	names := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		names = append(names, p.Name)
	}
	return names
}

// StatusSnapshot is a stored status poll result
type StatusSnapshot struct {
	ID          int64     `json:"id"`
	ObservedAt  time.Time `json:"observed_at"`
	Online      bool      `json:"online"`
	PlayerCount int       `json:"player_count"`
	Players     []string  `json:"players,omitempty"`
}
