// Package main provides the entry point for CloudFlyer.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Charles-Hello/cloudflyer/internal/config"
	"github.com/Charles-Hello/cloudflyer/internal/metrics"
	"github.com/Charles-Hello/cloudflyer/internal/pool"
	"github.com/Charles-Hello/cloudflyer/internal/selectors"
	"github.com/Charles-Hello/cloudflyer/internal/server"
	"github.com/Charles-Hello/cloudflyer/pkg/version"
)

func main() {
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	printBanner()

	selectorMgr, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load selectors")
	}

	log.Info().Int("size", cfg.MaxTasks).Msg("Initializing instance pool...")
	instancePool := pool.New(log.Logger, cfg, selectorMgr)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := instancePool.Start(startCtx); err != nil {
		cancelStart()
		log.Fatal().Err(err).Msg("Failed to initialize instance pool")
	}
	cancelStart()

	apiServer := server.New(log.Logger, cfg, instancePool)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("pool_size", cfg.MaxTasks).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Msg("CloudFlyer is ready to accept tasks")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	apiServer.Close()
	instancePool.Close()

	if err := selectorMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Selector manager close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
   ____ _                 _ _____ _
  / ___| | ___  _   _  __| |  ___| |_   _  ___ _ __
 | |   | |/ _ \| | | |/ _' | |_  | | | | |/ _ \ '__|
 | |___| | (_) | |_| | (_| |  _| | | |_| |  __/ |
  \____|_|\___/ \__,_|\__,_|_|   |_|\__, |\___|_|
                                    |___/
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting CloudFlyer")
}
