package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the telemetry API.
type Config struct {
	DatabaseURL string
	Port        int
	BearerToken string
	AppEnv      string
	LogLevel    slog.Level

	// MQTT uplink channel; disabled when MQTTBrokerURL is empty.
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:         8080,
		AppEnv:       "dev",
		LogLevel:     slog.LevelInfo,
		MQTTTopic:    "opws/uplink/#",
		MQTTClientID: "opws-api",
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" {
		cfg.AppEnv = env
	}

	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(lvl)); err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %s", lvl)
		}
		cfg.LogLevel = level
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	cfg.MQTTBrokerURL = strings.TrimSpace(os.Getenv("MQTT_BROKER_URL"))
	if topic := strings.TrimSpace(os.Getenv("MQTT_TOPIC")); topic != "" {
		cfg.MQTTTopic = topic
	}
	if clientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")); clientID != "" {
		cfg.MQTTClientID = clientID
	}

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
