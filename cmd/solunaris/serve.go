package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/api"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/auth"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/bus"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/clock"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/collector"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/metrics"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/rcon"
	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/storage"
)

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatal().Msgf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Shutdown complete")
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", version).Str("world", cfg.WorldName).Msg("Solunaris starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	rates, err := cfg.Rates()
	if err != nil {
		return err
	}
	persisters := storage.Persisters{store}
	if cfg.Database.StateFile != "" {
		persisters = append(persisters, storage.StateFile{Path: cfg.Database.StateFile})
	}
	model, err := clock.NewModel(rates, clock.WithPersister(persisters))
	if err != nil {
		return err
	}
	if err := restoreCalibration(ctx, store, cfg.Database.StateFile, model); err != nil {
		return fmt.Errorf("restoring calibration: %w", err)
	}
	if t, ok := model.Now(); ok {
		log.Info().Int("year", t.Year).Int("day", t.DayOfYear).Msgf("Clock restored at %02d:%02d", t.Hour, t.Minute)
	} else {
		log.Warn().Msg("Clock is not calibrated yet")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var exec rcon.Executor
	if cfg.Rcon.Address != "" {
		exec = &rcon.Client{
			Address:     cfg.Rcon.Address,
			Password:    cfg.Rcon.Password,
			Timeout:     cfg.Rcon.Timeout,
			IdleTimeout: cfg.Rcon.IdleTimeout,
			Sentinel:    cfg.Rcon.Sentinel,
			OnStateChange: func(s rcon.State) {
				log.Trace().Str("state", s.String()).Msg("rcon")
			},
		}
	} else {
		log.Warn().Msg("No RCON address configured, server status is disabled")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.Users)
	if !authService.Enabled() {
		log.Warn().Msg("No JWT secret or users configured, admin endpoints are disabled")
	}
	isAdmin := func(token string) bool {
		claims, err := authService.ValidateToken(token)
		return err == nil && claims.IsAdmin
	}

	hub := api.NewWebSocketHub()
	sinks := []collector.Sink{hub}

	nc, shutdownBus, err := startBus(cfg.NATS)
	if err != nil {
		return err
	}
	defer shutdownBus()
	if nc != nil {
		sinks = append(sinks, bus.NewPublisher(nc, cfg.NATS.SubjectPrefix))
	}

	poller, err := collector.NewPoller(cfg, model, exec, store, m, sinks...)
	if err != nil {
		return err
	}

	if nc != nil {
		responder := bus.NewResponder(nc, cfg.NATS.SubjectPrefix, model, poller, isAdmin)
		if err := responder.Start(); err != nil {
			return err
		}
		defer responder.Stop()
	}

	router := api.NewRouter(cfg.WorldName, model, poller, store, hub, authService, reg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return poller.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restoreCalibration loads the stored calibration, importing the state file
// into the database the first time it runs against an empty one.
func restoreCalibration(ctx context.Context, store *storage.Store, stateFile string, model *clock.Model) error {
	point, err := store.LoadCalibration(ctx)
	switch {
	case err == nil:
		return model.Restore(point)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	case stateFile == "":
		return nil
	}

	rec, err := storage.StateFile{Path: stateFile}.Load()
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	point = rec.Point()
	if err := model.Restore(point); err != nil {
		return err
	}
	log.Info().Str("path", stateFile).Msg("Imported calibration from state file")
	return store.SaveCalibration(storage.WithCalibrationSource(ctx, domain.CalibrationSourceImport), point)
}

// startBus brings up the optional NATS connection. A nil conn means the bus is off.
func startBus(cfg config.NATSConfig) (*nats.Conn, func(), error) {
	url := cfg.URL
	var cleanup []func()
	shutdown := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.Embedded {
		ns, err := bus.StartEmbedded(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return nil, shutdown, err
		}
		cleanup = append(cleanup, ns.Shutdown)
		log.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
		if url == "" {
			url = ns.ClientURL()
		}
	}
	if url == "" {
		return nil, shutdown, nil
	}

	nc, err := bus.Connect(url)
	if err != nil {
		shutdown()
		return nil, func() {}, err
	}
	cleanup = append(cleanup, func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("Draining NATS connection")
		}
	})
	return nc, shutdown, nil
}
