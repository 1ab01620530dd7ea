package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enduro-tracker/internal/archive"
	"enduro-tracker/internal/config"
	"enduro-tracker/internal/database"
	"enduro-tracker/internal/decoder"
	"enduro-tracker/internal/handlers"
	"enduro-tracker/internal/livetrack"
	"enduro-tracker/internal/metrics"
	"enduro-tracker/internal/middleware"
)

func main() {
	runServer()
}

func runServer() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting enduro-tracker server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Init(); err != nil {
		logger.Error("Failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	logger.Info("Database opened successfully")

	// Create archive writer and handlers
	archiveWriter := archive.NewWriter(db, cfg.GPXCreator)
	ingestHandler := handlers.NewIngestHandler(db, archiveWriter)
	tracksHandler := handlers.NewTracksHandler(db, archiveWriter)
	registryHandler := handlers.NewRegistryHandler(db)

	// Set up HTTP routes
	mux := http.NewServeMux()

	// Ingest endpoints
	mux.Handle("POST /api/v1/upload", middleware.WrapHandler(metrics.EndpointUpload, ingestHandler.HandleUpload))
	mux.Handle("POST /api/v1/upload-text", middleware.WrapHandler(metrics.EndpointUploadText, ingestHandler.HandleUploadText))
	mux.Handle("POST /api/v1/timing-mark", middleware.WrapHandler(metrics.EndpointTimingMark, ingestHandler.HandleTimingMark))

	// Track endpoints
	mux.Handle("GET /api/v1/entries/{id}/live", middleware.WrapHandler(metrics.EndpointLiveTrack, tracksHandler.HandleLive))
	mux.Handle("GET /api/v1/entries/{id}/archive", middleware.WrapHandler(metrics.EndpointArchiveTrack, tracksHandler.HandleArchive))
	mux.Handle("POST /api/v1/entries/{id}/manual-times", middleware.WrapHandler(metrics.EndpointManualTimes, tracksHandler.HandleManualTimes))
	mux.Handle("GET /api/v1/devices/{id}/geojson", middleware.WrapHandler(metrics.EndpointDevicePreview, tracksHandler.HandleDevicePreview))

	// Registry endpoints
	mux.Handle("POST /api/v1/devices", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleCreateDevice))
	mux.Handle("GET /api/v1/devices", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleListDevices))
	mux.Handle("POST /api/v1/riders", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleCreateRider))
	mux.Handle("GET /api/v1/riders", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleListRiders))
	mux.Handle("POST /api/v1/races", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleCreateRace))
	mux.Handle("GET /api/v1/races", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleListRaces))
	mux.Handle("POST /api/v1/entries", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleCreateEntry))
	mux.Handle("POST /api/v1/races/{id}/route", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleUploadRoute))
	mux.Handle("GET /api/v1/races/{id}/route", middleware.WrapHandler(metrics.EndpointRegistry, registryHandler.HandleGetRoute))

	// Health check endpoint
	mux.Handle("GET /health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	fixDecoder := decoder.NewDecoder(db, cfg.DecoderBatchSize, cfg.DecoderPollInterval)
	go func() {
		logger.Info("Starting fix decoder")
		if err := fixDecoder.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Fix decoder failed", "error", err)
		}
	}()

	cacheWorker := livetrack.NewWorker(db, cfg.CachePollInterval)
	go func() {
		logger.Info("Starting live cache worker")
		if err := cacheWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Live cache worker failed", "error", err)
		}
	}()

	// Start backlog collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting backlog collector")
			metrics.StartBacklogCollector(workerCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop workers
	workerCancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
