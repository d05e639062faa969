// Package metrics holds the Prometheus collectors shared by the poller, the
// RCON client wrapper and the HTTP API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	RconTotal     *prometheus.CounterVec   // purpose=status|resync|admin, result=ok|connect_failed|auth_failed|protocol_error|timeout
	RconLatencyMS *prometheus.HistogramVec // purpose

	EventsTotal    *prometheus.CounterVec // event=clock_update|new_day|server_update|calibration_set
	ThrottledTotal prometheus.Counter

	ServerOnline  prometheus.Gauge
	PlayersOnline prometheus.Gauge
	InGameDay     prometheus.Gauge // absolute in-game day
	ResyncDrift   prometheus.Gauge // in-game minutes, last resync
	Calibrations  *prometheus.CounterVec // source=api|bus|cli|resync
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RconTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solunaris_rcon_commands_total",
				Help: "Total RCON commands by result",
			},
			[]string{"purpose", "result"},
		),
		RconLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solunaris_rcon_latency_ms",
				Help:    "Latency of RCON exchanges (ms)",
				Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms .. ~10s
			},
			[]string{"purpose"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solunaris_events_published_total",
				Help: "Total events handed to sinks by type",
			},
			[]string{"event"},
		),
		ThrottledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solunaris_status_throttled_total",
			Help: "Status publishes deferred by the rate limiter",
		}),
		ServerOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solunaris_server_online",
			Help: "1 when the last status poll reached the server",
		}),
		PlayersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solunaris_players_online",
			Help: "Players listed by the last status poll",
		}),
		InGameDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solunaris_ingame_absolute_day",
			Help: "Current in-game day counted from Year 1 Day 1",
		}),
		ResyncDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solunaris_resync_drift_minutes",
			Help: "Difference between the server clock and the model at the last resync",
		}),
		Calibrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solunaris_calibrations_total",
				Help: "Total calibrations applied by source",
			},
			[]string{"source"},
		),
	}

	reg.MustRegister(
		m.RconTotal,
		m.RconLatencyMS,
		m.EventsTotal,
		m.ThrottledTotal,
		m.ServerOnline,
		m.PlayersOnline,
		m.InGameDay,
		m.ResyncDrift,
		m.Calibrations,
	)

	return m
}
