package rcon

import (
	"errors"
	"net"
)

// Failure taxonomy. Every error returned by Execute wraps exactly one of these.
var (
	ErrConnectFailed = errors.New("rcon: connect failed")
	ErrAuthFailed    = errors.New("rcon: authentication failed")
	ErrProtocol      = errors.New("rcon: protocol error")
	ErrTimeout       = errors.New("rcon: timed out waiting for response")
)

// Kind names the taxonomy bucket of err, for logs and metrics labels
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
