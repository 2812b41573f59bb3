// Package main is the entry point for the HVAC plant simulator.
// It seeds the per-unit register banks, runs the control and mirror
// loops and serves the registers over Modbus TCP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/hvac-control/internal/adapter/config"
	"github.com/nexus-edge/hvac-control/internal/endpoint"
	"github.com/nexus-edge/hvac-control/internal/health"
	"github.com/nexus-edge/hvac-control/internal/metrics"
	"github.com/nexus-edge/hvac-control/internal/sim"
	"github.com/nexus-edge/hvac-control/internal/store"
	"github.com/nexus-edge/hvac-control/pkg/logging"
)

const serviceName = "hvac-plantsim"

// version is stamped at build time via -ldflags.
var version = "1.0.0"

func main() {
	// Bootstrap logger so configuration failures are reported in the
	// same format as everything else.
	logger := logging.New(serviceName, version)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger = logging.NewWithConfig(serviceName, version, logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	logger.Info().Msg("Starting HVAC plant simulator")

	layout, units, err := config.LoadFleet(cfg.Fleet.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Fleet.Path).Msg("Failed to load fleet descriptor")
	}
	unitIDs := make([]uint8, 0, len(units))
	for _, u := range units {
		unitIDs = append(unitIDs, u.ID)
	}
	logger.Info().
		Int("units", len(units)).
		Int("ac_count", layout.ACCount).
		Bool("reserved_register", layout.ReservedRegister).
		Msg("Fleet loaded")

	plantMetrics := metrics.NewPlantMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bank := store.New(layout, unitIDs)

	controlLoop := sim.NewControlLoop(bank, unitIDs, cfg.Plant.ControlInterval, logger, plantMetrics)
	controlLoop.Start(ctx)

	mirrorLoop := sim.NewMirrorLoop(bank, unitIDs, cfg.Plant.MirrorInterval, logger, plantMetrics)
	mirrorLoop.Start(ctx)

	server, err := endpoint.NewServer(endpoint.Config{
		ListenAddress: cfg.Plant.Listen,
		MaxClients:    cfg.Plant.MaxClients,
	}, bank, logger, plantMetrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Modbus endpoint")
	}
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Str("listen", cfg.Plant.Listen).Msg("Failed to start Modbus endpoint")
	}

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	healthChecker.AddCheck("control_loop", controlLoop)
	healthChecker.AddCheck("mirror_loop", mirrorLoop)
	healthChecker.AddCheck("modbus_endpoint", server)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthChecker.HealthHandler)
	mux.HandleFunc("/livez", healthChecker.LivenessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Plant.HTTPListen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("listen", cfg.Plant.HTTPListen).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().
		Str("modbus_listen", cfg.Plant.Listen).
		Dur("control_interval", cfg.Plant.ControlInterval).
		Dur("mirror_interval", cfg.Plant.MirrorInterval).
		Msg("Plant simulator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop serving Modbus first so clients see a clean close instead of
	// reads against a plant whose loops have already stopped.
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Modbus endpoint")
	}
	controlLoop.Stop()
	mirrorLoop.Stop()
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("Plant simulator shutdown complete")
}
