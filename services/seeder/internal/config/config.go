package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds one generation run's settings: flags for the run shape, the
// environment (optionally .env) for the database.
type Config struct {
	DatabaseURL string
	Days        int
	StationID   int
	AllStations bool
	Clean       bool
	Step        time.Duration
	BatchSize   int
	Seed        int64
	DryRun      bool
}

// Load parses flags and environment variables.
func Load(args []string) (Config, error) {
	_ = godotenv.Load(".env")

	fs := flag.NewFlagSet("seeder", flag.ContinueOnError)

	cfg := Config{}
	intervalMinutes := 0
	fs.IntVar(&cfg.Days, "days", 30, "number of days to generate")
	fs.IntVar(&cfg.StationID, "station", 1, "target station id")
	fs.BoolVar(&cfg.AllStations, "all-stations", false, "generate for every active station")
	fs.BoolVar(&cfg.Clean, "clean", false, "delete the station's measurements before inserting")
	fs.IntVar(&intervalMinutes, "interval", 15, "timestep in minutes")
	fs.IntVar(&cfg.BatchSize, "batch", 500, "rows per insert batch")
	fs.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 = derive from clock)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "compute readings without writing")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Days <= 0 {
		return cfg, errors.New("-days must be positive")
	}
	if intervalMinutes <= 0 {
		return cfg, errors.New("-interval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return cfg, errors.New("-batch must be positive")
	}
	if !cfg.AllStations && cfg.StationID <= 0 {
		return cfg, errors.New("-station must be positive, or use -all-stations")
	}
	cfg.Step = time.Duration(intervalMinutes) * time.Minute

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}
