package api

import (
	"context"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/auth"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// Clock is the read side of the in-game clock
type Clock interface {
	Now() (domain.DerivedTime, bool)
	Calibration() (domain.CalibrationPoint, bool)
	Rates() domain.DayNightRate
}

// Poller exposes the live server state and admin operations
type Poller interface {
	Status() *domain.ServerStatus
	Execute(ctx context.Context, command string) (string, error)
	Calibrate(ctx context.Context, year, day, hour, minute int, source string) (domain.CalibrationPoint, error)
}

// History reads stored status snapshots
type History interface {
	RecentStatuses(ctx context.Context, limit int) ([]domain.StatusSnapshot, error)
	Ping(ctx context.Context) error
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux      *http.ServeMux
	compress http.Handler
	world    string
	clock    Clock
	poller   Poller
	history  History
	wsHub    *WebSocketHub
	auth     *auth.Service
	gatherer prometheus.Gatherer
}

// NewRouter creates a new HTTP router
func NewRouter(world string, clock Clock, poller Poller, history History, hub *WebSocketHub, authService *auth.Service, gatherer prometheus.Gatherer) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		world:    world,
		clock:    clock,
		poller:   poller,
		history:  history,
		wsHub:    hub,
		auth:     authService,
		gatherer: gatherer,
	}

	// Clock routes
	r.mux.HandleFunc("GET /api/time", r.handleGetTime)
	r.mux.HandleFunc("GET /api/calibration", r.handleGetCalibration)
	r.mux.HandleFunc("PUT /api/calibration", r.requireAdmin(r.handleSetCalibration))

	// Server routes
	r.mux.HandleFunc("GET /api/status", r.handleGetStatus)
	r.mux.HandleFunc("GET /api/status/history", r.handleGetStatusHistory)

	// RCON routes (admin only)
	r.mux.HandleFunc("POST /api/rcon", r.requireAdmin(r.handleRconCommand))

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// WebSocket endpoint
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check and metrics
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.compress = gzhttp.GzipHandler(r.mux)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// The WebSocket upgrade needs the raw connection.
	if req.URL.Path == "/ws" {
		r.mux.ServeHTTP(w, req)
		return
	}
	r.compress.ServeHTTP(w, req)
}
