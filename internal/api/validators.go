package api

import (
	"net/http"
	"strconv"
	"strings"
)

// maxCommandLength bounds admin RCON commands; the server ignores anything longer
const maxCommandLength = 4096

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// validateCommand checks an RCON command is a single printable line
func validateCommand(command string) string {
	switch {
	case strings.TrimSpace(command) == "":
		return "command is required"
	case len(command) > maxCommandLength:
		return "command is too long"
	case strings.ContainsAny(command, "\x00\r\n"):
		return "command must be a single line"
	}
	return ""
}
