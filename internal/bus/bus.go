// Package bus publishes poller events to NATS and answers clock requests on it.
//
// Subjects, with the configured prefix:
//
//	<prefix>.clock_update, .new_day, .server_update, .calibration_set   events
//	<prefix>.time                                                         request: current time
//	<prefix>.settime                                                      request: recalibrate (admin token)
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// Connect dials NATS with reconnects enabled and connection events logged
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("solunaris"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// StartEmbedded runs an in-process NATS server. Port -1 picks a free port.
func StartEmbedded(host string, port int) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded nats server did not become ready")
	}
	log.Info().Str("url", ns.ClientURL()).Msg("embedded nats server started")
	return ns, nil
}

// Publisher forwards events to <prefix>.<event type>
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a publisher on an open connection
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix}
}

// Publish encodes the event as JSON. It satisfies collector.Sink.
func (p *Publisher) Publish(event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.prefix+"."+event.Type, data)
}

// Clock is the subset of the clock the responder reads
type Clock interface {
	Now() (domain.DerivedTime, bool)
}

// Calibrator applies a new calibration
type Calibrator interface {
	Calibrate(ctx context.Context, year, day, hour, minute int, source string) (domain.CalibrationPoint, error)
}

// TokenValidator reports whether a bearer token belongs to an administrator
type TokenValidator func(token string) bool

// SetTimeRequest is the body of a <prefix>.settime request
type SetTimeRequest struct {
	Token  string `json:"token"`
	Year   int    `json:"year"`
	Day    int    `json:"day"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
}

// Reply is the body of every responder reply
type Reply struct {
	OK          bool                      `json:"ok"`
	Error       string                    `json:"error,omitempty"`
	Time        *domain.DerivedTime       `json:"time,omitempty"`
	Calibration *domain.CalibrationRecord `json:"calibration,omitempty"`
}

// Responder answers time and settime requests
type Responder struct {
	nc      *nats.Conn
	prefix  string
	clock   Clock
	cal     Calibrator
	isAdmin TokenValidator
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewResponder creates a responder; call Start to subscribe
func NewResponder(nc *nats.Conn, prefix string, clock Clock, cal Calibrator, isAdmin TokenValidator) *Responder {
	return &Responder{
		nc:      nc,
		prefix:  prefix,
		clock:   clock,
		cal:     cal,
		isAdmin: isAdmin,
		timeout: 10 * time.Second,
	}
}

// Start subscribes to the request subjects
func (r *Responder) Start() error {
	handlers := map[string]nats.MsgHandler{
		r.prefix + ".time":    r.handleTime,
		r.prefix + ".settime": r.handleSetTime,
	}
	for subject, h := range handlers {
		sub, err := r.nc.Subscribe(subject, h)
		if err != nil {
			r.Stop()
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return r.nc.Flush()
}

// Stop unsubscribes
func (r *Responder) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Responder) handleTime(m *nats.Msg) {
	t, ok := r.clock.Now()
	if !ok {
		r.respond(m, Reply{Error: "clock not calibrated"})
		return
	}
	r.respond(m, Reply{OK: true, Time: &t})
}

func (r *Responder) handleSetTime(m *nats.Msg) {
	var req SetTimeRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		r.respond(m, Reply{Error: "invalid request body"})
		return
	}
	if r.isAdmin == nil || !r.isAdmin(req.Token) {
		r.respond(m, Reply{Error: "admin access required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	point, err := r.cal.Calibrate(ctx, req.Year, req.Day, req.Hour, req.Minute, domain.CalibrationSourceBus)
	if err != nil {
		r.respond(m, Reply{Error: err.Error()})
		return
	}
	rec := point.Record()
	r.respond(m, Reply{OK: true, Calibration: &rec})
}

func (r *Responder) respond(m *nats.Msg, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("marshaling bus reply")
		return
	}
	if err := m.Respond(data); err != nil && !errors.Is(err, nats.ErrMsgNoReply) {
		log.Warn().Err(err).Str("subject", m.Subject).Msg("bus reply")
	}
}
