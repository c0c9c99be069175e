package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/opws/opws-telemetry/services/api/config"
	"github.com/opws/opws-telemetry/services/api/db"
	httpserver "github.com/opws/opws-telemetry/services/api/http"
	"github.com/opws/opws-telemetry/services/api/ingest"
	"github.com/opws/opws-telemetry/services/api/logging"
	"github.com/opws/opws-telemetry/services/api/mqtt"
	"github.com/opws/opws-telemetry/services/api/series"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.New(cfg.AppEnv, cfg.LogLevel, "opws-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	gateway := ingest.New(store)
	engine := series.New(store)

	if cfg.MQTTBrokerURL != "" {
		sub := mqtt.NewSubscriber(cfg, gateway, logger)
		if err := sub.Connect(ctx); err != nil {
			log.Fatalf("mqtt error: %v", err)
		}
		defer sub.Close()
	}

	srv := httpserver.New(cfg, store, gateway, engine, logger)
	logger.Info("telemetry API listening", "addr", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
