// Package runner drives a generation run: precondition checks, the
// sequential timestep loop and batched, idempotent flushing to storage.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opws/opws-telemetry/services/api/catalog"
	"github.com/opws/opws-telemetry/services/api/db"
	"github.com/opws/opws-telemetry/services/seeder/internal/model"
)

// ErrPrecondition marks runs aborted before any write: the target station or
// a required catalog kind does not exist. The seeder never creates either.
var ErrPrecondition = errors.New("seeder precondition failed")

// requiredKinds must all exist in the catalog before a run starts.
var requiredKinds = []string{
	catalog.KindAirTemp,
	catalog.KindAirHumidity,
	catalog.KindSoilMoisture,
	catalog.KindLuminosity,
	catalog.KindRainfall,
}

// Store is the persistence surface the runner needs. The insert contract is
// the same idempotent batch used by live ingestion, so overlapping reruns
// never duplicate rows.
type Store interface {
	GetStation(ctx context.Context, id int) (*db.Station, error)
	ListActiveStations(ctx context.Context) ([]db.Station, error)
	KindsByKey(ctx context.Context, keys []string) (map[string]db.Kind, error)
	DeleteStationMeasurements(ctx context.Context, stationID int) (int64, error)
	InsertMeasurements(ctx context.Context, rows []db.MeasurementRow) (int64, error)
}

// Options configures one generation run.
type Options struct {
	Days        int
	StationID   int
	AllStations bool
	Clean       bool
	Step        time.Duration
	BatchSize   int
	Seed        int64
	End         time.Time // zero means now
	DryRun      bool
}

// Stats summarizes what a run did.
type Stats struct {
	Stations   int
	RainEvents int
	Staged     int
	Inserted   int64
}

// Run generates a multi-day history for the selected station(s). It fails
// fast when the station or any required catalog kind is missing, and honors
// cancellation at batch boundaries, preserving the batches already flushed.
func Run(ctx context.Context, store Store, log *slog.Logger, opts Options) (Stats, error) {
	if opts.Days <= 0 {
		return Stats{}, fmt.Errorf("%w: days must be positive", ErrPrecondition)
	}
	if opts.Step <= 0 {
		opts.Step = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	kinds, err := store.KindsByKey(ctx, catalog.SeededKinds())
	if err != nil {
		return Stats{}, fmt.Errorf("load catalog: %w", err)
	}
	missing := make([]string, 0)
	for _, key := range requiredKinds {
		if _, ok := kinds[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Stats{}, fmt.Errorf("%w: missing catalog kinds %v", ErrPrecondition, missing)
	}

	stations, err := resolveStations(ctx, store, opts)
	if err != nil {
		return Stats{}, err
	}

	end := opts.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	end = end.UTC().Truncate(opts.Step)
	start := end.Add(-time.Duration(opts.Days) * 24 * time.Hour)

	stats := Stats{Stations: len(stations)}
	for i, station := range stations {
		// Per-station seed keeps stations decorrelated but replayable.
		rng := rand.New(rand.NewSource(opts.Seed + int64(station.ID)))

		log.Info("seeding station",
			"station", station.Name,
			"id", station.ID,
			"progress", fmt.Sprintf("%d/%d", i+1, len(stations)),
			"from", start.Format(time.RFC3339),
			"to", end.Format(time.RFC3339),
		)

		st, err := seedStation(ctx, store, log, station, kinds, rng, start, end, opts)
		if err != nil {
			return stats, err
		}
		stats.RainEvents += st.RainEvents
		stats.Staged += st.Staged
		stats.Inserted += st.Inserted
	}
	return stats, nil
}

func resolveStations(ctx context.Context, store Store, opts Options) ([]db.Station, error) {
	if opts.AllStations {
		stations, err := store.ListActiveStations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stations: %w", err)
		}
		if len(stations) == 0 {
			return nil, fmt.Errorf("%w: no active stations", ErrPrecondition)
		}
		return stations, nil
	}

	if opts.StationID <= 0 {
		return nil, fmt.Errorf("%w: station id must be positive", ErrPrecondition)
	}
	station, err := store.GetStation(ctx, opts.StationID)
	if err != nil {
		return nil, fmt.Errorf("load station %d: %w", opts.StationID, err)
	}
	if station == nil {
		return nil, fmt.Errorf("%w: station %d does not exist", ErrPrecondition, opts.StationID)
	}
	return []db.Station{*station}, nil
}

func seedStation(
	ctx context.Context,
	store Store,
	log *slog.Logger,
	station db.Station,
	kinds map[string]db.Kind,
	rng *rand.Rand,
	start, end time.Time,
	opts Options,
) (Stats, error) {
	if opts.Clean && !opts.DryRun {
		deleted, err := store.DeleteStationMeasurements(ctx, station.ID)
		if err != nil {
			return Stats{}, fmt.Errorf("clean station %d: %w", station.ID, err)
		}
		log.Info("cleared previous measurements", "station_id", station.ID, "deleted", deleted)
	}

	events := model.GenerateRainEvents(rng, start, opts.Days)
	stats := Stats{RainEvents: len(events)}

	var inserted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []db.MeasurementRow, 2)

	// Flusher: storage writes are pipelined so the next timestep's
	// computation is not blocked on the previous batch's round trip.
	g.Go(func() error {
		for batch := range batches {
			if opts.DryRun {
				continue
			}
			n, err := store.InsertMeasurements(gctx, batch)
			if err != nil {
				return fmt.Errorf("flush batch: %w", err)
			}
			inserted.Add(n)
		}
		return nil
	})

	_, hasSoilTemp := kinds[catalog.KindSoilTemp]

	batch := make([]db.MeasurementRow, 0, opts.BatchSize)
	soilMoisture := model.SoilMoistureInitial

loop:
	for t := start; t.Before(end); t = t.Add(opts.Step) {
		raining, intensity := model.RainAt(t, events)

		airTemp := model.AirTemperature(rng, t, raining)
		humidity := model.AirHumidity(rng, t, airTemp, raining)
		rainfall := model.Rainfall(rng, intensity, opts.Step)
		soilMoisture = model.NextSoilMoisture(rng, t, rainfall, soilMoisture, opts.Step)
		luminosity := model.Luminosity(rng, t, raining)

		batch = append(batch,
			row(station.ID, kinds[catalog.KindAirTemp].ID, t, round2(airTemp)),
			row(station.ID, kinds[catalog.KindAirHumidity].ID, t, round2(humidity)),
			row(station.ID, kinds[catalog.KindSoilMoisture].ID, t, round2(soilMoisture)),
			row(station.ID, kinds[catalog.KindLuminosity].ID, t, luminosity),
			row(station.ID, kinds[catalog.KindRainfall].ID, t, round2(rainfall)),
		)
		if hasSoilTemp {
			batch = append(batch, row(station.ID, kinds[catalog.KindSoilTemp].ID, t, round2(model.SoilTemperature(rng, airTemp))))
		}

		if len(batch) >= opts.BatchSize {
			stats.Staged += len(batch)
			select {
			case batches <- batch:
				batch = make([]db.MeasurementRow, 0, opts.BatchSize)
			case <-gctx.Done():
				break loop
			}
		}
	}

	if len(batch) > 0 && gctx.Err() == nil {
		stats.Staged += len(batch)
		select {
		case batches <- batch:
		case <-gctx.Done():
		}
	}
	close(batches)

	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		stats.Inserted = inserted.Load()
		return stats, err
	}

	stats.Inserted = inserted.Load()
	return stats, nil
}

func row(stationID, kindID int, ts time.Time, value float64) db.MeasurementRow {
	return db.MeasurementRow{StationID: stationID, KindID: kindID, TS: ts, Value: value}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
