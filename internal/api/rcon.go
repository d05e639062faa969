package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/rcon"
)

// RconRequest is the request body for RCON commands
type RconRequest struct {
	Command string `json:"command"`
}

// RconResponse is the response body for RCON commands
type RconResponse struct {
	Output string `json:"output"`
}

// handleRconCommand executes an RCON command on the game server (admin only)
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	var rconReq RconRequest
	if err := json.NewDecoder(req.Body).Decode(&rconReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if msg := validateCommand(rconReq.Command); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	claims := r.getAuthClaims(req)
	log.Info().Str("user", claims.Username).Str("command", rconReq.Command).Msg("admin rcon command")

	output, err := r.poller.Execute(req.Context(), rconReq.Command)
	if err != nil {
		writeJSON(w, rconStatus(err), map[string]string{
			"error": err.Error(),
			"kind":  rcon.Kind(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, RconResponse{Output: output})
}

// rconStatus maps an RCON failure to an HTTP status
func rconStatus(err error) int {
	switch {
	case errors.Is(err, rcon.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, rcon.ErrConnectFailed), errors.Is(err, rcon.ErrAuthFailed), errors.Is(err, rcon.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
