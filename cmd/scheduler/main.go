/**
 * @description
 * Entry point for the reminder scheduler.
 * This is a non-HTTP, long-running process that triggers the daily reminder
 * sweep on the API service at the configured time.
 */
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/subtrack/subscription-service/internal/config"
	"github.com/subtrack/subscription-service/internal/scheduler"
	"github.com/subtrack/subscription-service/pkg/dispatchclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment")
	}

	cfg, err := config.LoadSchedulerConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	client := dispatchclient.NewClient(cfg.APIServiceURL, cfg.InternalAPIKey, cfg.DispatchTimeout())
	jobs := scheduler.NewJobs(client, logger, *cfg)
	s := scheduler.NewScheduler(jobs, logger, *cfg)

	if err := s.Start(); err != nil {
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := s.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}
