package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to WebSocket clients and the event bus
const (
	EventClockUpdate    = "clock_update"
	EventNewDay         = "new_day"
	EventServerUpdate   = "server_update"
	EventCalibrationSet = "calibration_set"
)

// Event represents a real-time notification for downstream sinks
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent stamps a new event with a fresh id
func NewEvent(eventType string, ts time.Time, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: ts.UTC(),
		Data:      data,
	}
}

// Calibration sources
const (
	CalibrationSourceAPI    = "api"
	CalibrationSourceBus    = "bus"
	CalibrationSourceResync = "resync"
	CalibrationSourceImport = "import"
)

// ClockUpdateEvent is sent when the displayed in-game time changes
type ClockUpdateEvent struct {
	Title string      `json:"title"`
	Time  DerivedTime `json:"time"`
}

// NewDayEvent is sent once for each in-game day that begins
type NewDayEvent struct {
	Year    int    `json:"year"`
	Day     int    `json:"day"`
	Message string `json:"message"`
}

// ServerUpdateEvent is sent when the server status line changes (or is force-refreshed)
type ServerUpdateEvent struct {
	Title  string       `json:"title"`
	Status ServerStatus `json:"status"`
	Forced bool         `json:"forced,omitempty"`
}

// CalibrationSetEvent is sent after an administrator recalibrates the clock
type CalibrationSetEvent struct {
	Calibration CalibrationRecord `json:"calibration"`
	Source      string            `json:"source"`
}
