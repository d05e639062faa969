// Package rcon implements the Source-style remote console protocol over TCP.
// Each Execute call dials, authenticates, runs one command and closes.
package rcon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultIdleTimeout = 500 * time.Millisecond
)

// Executor runs one administrative command and returns its text response.
// Client opens a fresh connection per call; a pooled implementation can
// satisfy the same interface.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Dialer opens the TCP stream (net.Dialer satisfies it)
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client executes commands against one RCON endpoint
type Client struct {
	Address  string
	Password string

	// Timeout bounds the whole exchange, dial included
	Timeout time.Duration
	// IdleTimeout is the quiet period after response data that marks it complete
	IdleTimeout time.Duration
	// Sentinel sends an empty EXEC_COMMAND after the real one so servers that
	// answer it with an empty body give an explicit end-of-response marker
	Sentinel bool

	Dialer        Dialer
	OnStateChange func(State)
}

var requestIDs atomic.Int32

// nextRequestID hands out positive ids; -1 is reserved for auth failure and 0
// is what many servers use for unsolicited packets.
func nextRequestID() int32 {
	for {
		id := requestIDs.Add(1)
		if id > 0 {
			return id
		}
		requestIDs.CompareAndSwap(id, 0)
	}
}

// Execute is a one-shot helper for host/port style callers
func Execute(ctx context.Context, host string, port int, password, command string, timeout time.Duration) (string, error) {
	c := &Client{
		Address:  net.JoinHostPort(host, strconv.Itoa(port)),
		Password: password,
		Timeout:  timeout,
	}
	return c.Execute(ctx, command)
}

// Execute sends command and returns the full response text
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	idle := c.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := &session{onChange: c.OnStateChange}
	s.set(StateConnecting)

	var dialer Dialer = &net.Dialer{}
	if c.Dialer != nil {
		dialer = c.Dialer
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		s.set(StateClosed)
		return "", fmt.Errorf("%w: dialing %s: %w", ErrConnectFailed, c.Address, err)
	}
	defer func() {
		conn.Close()
		s.set(StateClosed)
	}()

	// Cancellation unblocks whatever read or write is in flight.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	s.set(StateAuthenticating)
	if err := c.authenticate(ctx, conn); err != nil {
		return "", err
	}
	s.set(StateAuthenticated)

	s.set(StateExecuting)
	body, err := c.exec(ctx, conn, command, idle, deadline)
	if err != nil {
		return "", err
	}
	return decodeBody(body), nil
}

func (c *Client) authenticate(ctx context.Context, conn net.Conn) error {
	id := nextRequestID()
	if err := WritePacket(conn, Packet{ID: id, Type: TypeAuth, Body: []byte(c.Password)}); err != nil {
		// nothing has been exchanged yet
		return fmt.Errorf("%w: sending auth to %s: %w", ErrConnectFailed, c.Address, err)
	}

	for {
		p, err := ReadPacket(conn)
		if err != nil {
			return readError(ctx, "authentication", err)
		}

		switch {
		case p.Type == TypeAuthResponse && p.ID == AuthFailedID:
			return fmt.Errorf("%w: server %s rejected password", ErrAuthFailed, c.Address)
		case p.Type == TypeAuthResponse && p.ID == id:
			return nil
		case p.Type == TypeAuthResponse:
			return fmt.Errorf("%w: auth response for id %d, expected %d", ErrProtocol, p.ID, id)
		case p.Type == TypeResponseValue:
			// Some servers send an empty RESPONSE_VALUE ahead of the auth result.
			log.Debug().Str("address", c.Address).Int32("id", p.ID).Msg("rcon: skipping packet before auth response")
		default:
			return fmt.Errorf("%w: unexpected packet type %d during authentication", ErrProtocol, p.Type)
		}
	}
}

func (c *Client) exec(ctx context.Context, conn net.Conn, command string, idle time.Duration, deadline time.Time) ([]byte, error) {
	id := nextRequestID()
	if err := WritePacket(conn, Packet{ID: id, Type: TypeExecCommand, Body: []byte(command)}); err != nil {
		return nil, writeError(ctx, err)
	}
	if c.Sentinel {
		if err := WritePacket(conn, Packet{ID: id, Type: TypeExecCommand}); err != nil {
			return nil, writeError(ctx, err)
		}
	}

	var body bytes.Buffer
	received := false

	for {
		if err := ctx.Err(); err != nil {
			if received {
				return body.Bytes(), nil
			}
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		// No end marker exists, so after the first data a short quiet period ends the response.
		readDeadline := deadline
		if received {
			if d := time.Now().Add(idle); d.Before(deadline) {
				readDeadline = d
			}
		}
		conn.SetReadDeadline(readDeadline)
		if ctx.Err() != nil {
			// cancelled while the deadline was being set
			conn.SetReadDeadline(time.Now())
		}

		p, err := ReadPacket(conn)
		if err != nil {
			// quiet period, deadline, or the server hanging up after sending data
			if received && (isTimeout(err) || ctx.Err() != nil || err == io.EOF) {
				return body.Bytes(), nil
			}
			return nil, readError(ctx, "command response", err)
		}

		if p.ID != id {
			continue
		}
		if len(p.Body) == 0 {
			return body.Bytes(), nil
		}
		body.Write(p.Body)
		received = true
	}
}

func readError(ctx context.Context, stage string, err error) error {
	switch {
	case errors.Is(err, ErrProtocol):
		return err
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, stage, context.Canceled)
	case isTimeout(err) || ctx.Err() != nil:
		return fmt.Errorf("%w: %s", ErrTimeout, stage)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: connection closed during %s", ErrProtocol, stage)
	default:
		return fmt.Errorf("%w: %s: %w", ErrProtocol, stage, err)
	}
}

func writeError(ctx context.Context, err error) error {
	if isTimeout(err) || ctx.Err() != nil {
		return fmt.Errorf("%w: sending command: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: sending command: %w", ErrProtocol, err)
}
