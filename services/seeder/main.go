package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opws/opws-telemetry/services/api/db"
	"github.com/opws/opws-telemetry/services/api/logging"
	"github.com/opws/opws-telemetry/services/seeder/internal/config"
	"github.com/opws/opws-telemetry/services/seeder/runner"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("seeder failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}
	logger := logging.New(appEnv, 0, "opws-seeder")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := runner.Run(ctx, store, logger, runner.Options{
		Days:        cfg.Days,
		StationID:   cfg.StationID,
		AllStations: cfg.AllStations,
		Clean:       cfg.Clean,
		Step:        cfg.Step,
		BatchSize:   cfg.BatchSize,
		Seed:        cfg.Seed,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted; flushed batches were preserved",
				"staged", stats.Staged, "inserted", stats.Inserted)
			return nil
		}
		return err
	}

	logger.Info("generation complete",
		"stations", stats.Stations,
		"rain_events", stats.RainEvents,
		"staged", stats.Staged,
		"inserted", stats.Inserted,
		"seed", cfg.Seed,
	)
	return nil
}
