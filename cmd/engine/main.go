// Package main is the entry point for the transitpulse engine.
//
// It loads configuration, wires the external clients and core components
// (tracker, feed, walking estimator, transfer evaluator, planner, supervisor)
// into the engine facade, and serves the diagnostic HTTP surface.
//
// Without a real device location service, position fixes come from the
// simulated source, which walks a configurable waypoint path. Graceful
// shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/core"
	"transitpulse/internal/engine"
	"transitpulse/internal/external"
	"transitpulse/internal/feed"
	"transitpulse/internal/metrics"
	"transitpulse/internal/planner"
	"transitpulse/internal/tracker"
	"transitpulse/internal/transfer"
	"transitpulse/internal/types"
	"transitpulse/internal/walking"
)

// shutdownTimeout bounds how long in-flight requests may linger once a
// termination signal arrives.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("transitpulse engine starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	// External clients. Each gets its own breaker so a degraded directions
	// provider cannot open the transit provider's circuit.
	userAgent := cfg.Service + "/1.0"
	transitClient := external.NewTransitClient(
		external.NewBaseClient(
			&http.Client{Timeout: cfg.Transit.RequestTimeout},
			"transit-api",
			external.DefaultRetryPolicy(),
			userAgent,
		),
		cfg.Transit.BaseURL,
		cfg.Transit.APIKey,
	)
	directionsClient := external.NewDirectionsClient(
		external.NewBaseClient(
			&http.Client{Timeout: cfg.Walking.RequestTimeout},
			"directions-api",
			external.DefaultRetryPolicy(),
			userAgent,
		),
		cfg.Walking.DirectionsBaseURL,
	)

	// Core components.
	trk := tracker.New(tracker.Config{
		Source:  demoLocationSource(),
		Tracker: cfg.Tracker,
		Logger:  logger,
	})
	fd := feed.New(feed.Config{
		API:     transitClient,
		Transit: cfg.Transit,
		Logger:  logger,
	})
	walker := walking.NewEstimator(walking.EstimatorConfig{
		Directions: directionsClient,
		Walking:    cfg.Walking,
		Logger:     logger,
	})
	evaluator := transfer.New(transfer.Config{
		Feed:     fd,
		Walker:   walker,
		Transfer: cfg.Transfer,
		Logger:   logger,
	})
	catalog := planner.NewCatalog(transitClient, cfg.Transit.RouteTypes, logger)
	plnr := planner.New(planner.Config{
		Catalog: catalog,
		Planner: cfg.Planner,
		Logger:  logger,
	})

	eng := engine.New(engine.Config{
		Engine:     cfg.Engine,
		Supervisor: cfg.Supervisor,
		Tracker:    cfg.Tracker,

		TrackerComponent: trk,
		Feed:             fd,
		Walker:           walker,
		Evaluator:        evaluator,
		Planner:          plnr,
		Catalog:          catalog,

		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Close()

	// HTTP surface.
	collector := metrics.NewCollector(eng)
	srv, err := core.NewServer(cfg, eng, logger, collector)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("diagnostic server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forcing server close after failed graceful shutdown", "error", err)
		_ = httpServer.Close()
	}
	return nil
}

// demoLocationSource walks a loop through downtown Boston. It stands in for
// the device location service; a real deployment replaces it with a bridge to
// the platform's location API.
func demoLocationSource() tracker.LocationSource {
	return &tracker.SimulatedSource{
		Waypoints: []types.LatLng{
			{Latitude: 42.3601, Longitude: -71.0589}, // Government Center
			{Latitude: 42.3566, Longitude: -71.0622}, // Park Street
			{Latitude: 42.3525, Longitude: -71.0646}, // Boylston
			{Latitude: 42.3601, Longitude: -71.0589},
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
