package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/collector"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// TimeResponse is the current in-game time
type TimeResponse struct {
	Calibrated bool                `json:"calibrated"`
	Title      string              `json:"title,omitempty"`
	Time       *domain.DerivedTime `json:"time,omitempty"`
}

// handleGetTime returns the current in-game time
func (r *Router) handleGetTime(w http.ResponseWriter, req *http.Request) {
	t, ok := r.clock.Now()
	if !ok {
		writeJSON(w, http.StatusOK, TimeResponse{Calibrated: false})
		return
	}
	writeJSON(w, http.StatusOK, TimeResponse{
		Calibrated: true,
		Title:      collector.ClockTitle(r.world, t),
		Time:       &t,
	})
}

// CalibrationResponse is the active calibration and the rate table
type CalibrationResponse struct {
	Calibration domain.CalibrationRecord `json:"calibration"`
	Rates       domain.DayNightRate      `json:"rates"`
}

// handleGetCalibration returns the active calibration
func (r *Router) handleGetCalibration(w http.ResponseWriter, req *http.Request) {
	point, ok := r.clock.Calibration()
	if !ok {
		writeError(w, http.StatusNotFound, "clock not calibrated")
		return
	}
	writeJSON(w, http.StatusOK, CalibrationResponse{Calibration: point.Record(), Rates: r.clock.Rates()})
}

// CalibrationRequest is the request body for setting the clock
type CalibrationRequest struct {
	Year   *int `json:"year"`
	Day    *int `json:"day"`
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

// handleSetCalibration declares the current in-game time (admin only)
func (r *Router) handleSetCalibration(w http.ResponseWriter, req *http.Request) {
	var body CalibrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Year == nil || body.Day == nil || body.Hour == nil || body.Minute == nil {
		writeError(w, http.StatusBadRequest, "year, day, hour and minute are required")
		return
	}

	point, err := r.poller.Calibrate(req.Context(), *body.Year, *body.Day, *body.Hour, *body.Minute, domain.CalibrationSourceAPI)
	if errors.Is(err, clock.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("setting calibration")
		writeError(w, http.StatusInternalServerError, "failed to save calibration")
		return
	}

	writeJSON(w, http.StatusOK, CalibrationResponse{Calibration: point.Record(), Rates: r.clock.Rates()})
}

// StatusResponse is the last polled server status
type StatusResponse struct {
	Title  string               `json:"title"`
	Status *domain.ServerStatus `json:"status"`
}

// handleGetStatus returns the last polled server status
func (r *Router) handleGetStatus(w http.ResponseWriter, req *http.Request) {
	status := r.poller.Status()
	if status == nil {
		writeError(w, http.StatusServiceUnavailable, "server status not polled yet")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Title: collector.StatusTitle(r.world, status), Status: status})
}

// handleGetStatusHistory returns recent status snapshots
func (r *Router) handleGetStatusHistory(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 100, 1000)
	snapshots, err := r.history.RecentStatuses(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// handleHealth returns health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	_, calibrated := r.clock.Calibration()
	resp := map[string]interface{}{
		"status":     "ok",
		"calibrated": calibrated,
		"ws_clients": r.wsHub.ClientCount(),
	}
	if err := r.history.Ping(req.Context()); err != nil {
		resp["status"] = "degraded"
		resp["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
