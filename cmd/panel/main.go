// Package main is the entry point for the HVAC control panel.
// It polls the plant over Modbus TCP, serves the JSON HTTP API and,
// when enabled, publishes telemetry and accepts commands over MQTT.
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
	"github.com/nexus-edge/hvac-control/internal/adapter/modbus"
	"github.com/nexus-edge/hvac-control/internal/adapter/mqtt"
	"github.com/nexus-edge/hvac-control/internal/api"
	"github.com/nexus-edge/hvac-control/internal/health"
	"github.com/nexus-edge/hvac-control/internal/metrics"
	"github.com/nexus-edge/hvac-control/internal/service"
	"github.com/nexus-edge/hvac-control/pkg/logging"
)

const serviceName = "hvac-panel"

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
	logger.Info().Msg("Starting HVAC control panel")

	layout, units, err := config.LoadFleet(cfg.Fleet.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Fleet.Path).Msg("Failed to load fleet descriptor")
	}
	logger.Info().
		Int("units", len(units)).
		Int("ac_count", layout.ACCount).
		Msg("Fleet loaded")

	panelMetrics := metrics.NewPanelMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link, err := modbus.NewClient(modbus.Config{
		Address:    cfg.Panel.Endpoint,
		Timeout:    cfg.Panel.Timeout,
		MaxRetries: cfg.Panel.RetryCount,
		RetryDelay: cfg.Panel.RetryDelay,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create plant link")
	}
	// The plant may come up after the panel. A failed dial here is not
	// fatal: reads serve flagged defaults until the link recovers.
	if err := link.Connect(ctx); err != nil {
		logger.Warn().Err(err).Str("endpoint", cfg.Panel.Endpoint).Msg("Plant link not connected yet")
	}

	orchestrator := service.NewOrchestrator(link, layout, units, cfg.Panel.Timeout, logger, panelMetrics)

	var telemetry service.Publisher
	var publisher *mqtt.Publisher
	var commands *mqtt.CommandListener
	if cfg.Panel.MQTT.Enabled {
		publisher, err = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:   cfg.Panel.MQTT.Broker,
			ClientID:    cfg.Panel.MQTT.ClientID,
			TopicPrefix: cfg.Panel.MQTT.TopicPrefix,
			QoS:         cfg.Panel.MQTT.QoS,
		}, logger, panelMetrics)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create MQTT publisher")
		}
		if err := publisher.Connect(ctx); err != nil {
			logger.Fatal().Err(err).Str("broker", cfg.Panel.MQTT.Broker).Msg("Failed to connect to MQTT broker")
		}
		telemetry = publisher

		commands = mqtt.NewCommandListener(publisher.Client(), orchestrator, mqtt.CommandConfig{
			TopicPrefix: cfg.Panel.MQTT.TopicPrefix,
			QoS:         cfg.Panel.MQTT.QoS,
		}, logger, panelMetrics)
		if err := commands.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start command listener, MQTT write commands disabled")
			commands = nil
		}
	}

	poller := service.NewPoller(orchestrator, telemetry, cfg.Panel.PollInterval, logger, panelMetrics)
	poller.Start(ctx)

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	healthChecker.AddCheck("plant_link", link)
	healthChecker.AddCheck("poller", poller)
	if publisher != nil {
		healthChecker.AddCheck("mqtt", publisher)
	}

	mux := http.NewServeMux()
	apiHandler := api.NewAPIHandler(poller, orchestrator, logger)
	apiHandler.Register(mux)
	mux.HandleFunc("/healthz", healthChecker.HealthHandler)
	mux.HandleFunc("/livez", healthChecker.LivenessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Panel.HTTPListen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("listen", cfg.Panel.HTTPListen).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().
		Str("plant_endpoint", cfg.Panel.Endpoint).
		Int("units", len(units)).
		Dur("poll_interval", cfg.Panel.PollInterval).
		Bool("mqtt", cfg.Panel.MQTT.Enabled).
		Msg("Control panel started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking commands first, then polling, so nothing touches the
	// link while it is being torn down.
	if commands != nil {
		commands.Stop()
	}
	poller.Stop()
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if publisher != nil {
		publisher.Disconnect()
	}
	if err := link.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing plant link")
	}

	logger.Info().Msg("Control panel shutdown complete")
}
