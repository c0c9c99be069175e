package db

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ApplySchema creates the opws schema, tables and the seeded catalog rows.
// All statements are idempotent.
func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Kind is one measurement catalog entry.
type Kind struct {
	ID          int     `json:"id"`
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	Unit        string  `json:"unit"`
	Aggregation string  `json:"aggregation"`
	Description *string `json:"description,omitempty"`
}

const listKindsSQL = `
    SELECT id, key, display_name, unit, aggregation, description
    FROM opws.measurement_kinds
    ORDER BY id
`

// ListKinds returns the full measurement catalog.
func (s *Store) ListKinds(ctx context.Context) ([]Kind, error) {
	rows, err := s.pool.Query(ctx, listKindsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kinds := make([]Kind, 0)
	for rows.Next() {
		var k Kind
		if err := rows.Scan(&k.ID, &k.Key, &k.DisplayName, &k.Unit, &k.Aggregation, &k.Description); err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, rows.Err()
}

const kindsByKeySQL = `
    SELECT id, key, display_name, unit, aggregation, description
    FROM opws.measurement_kinds
    WHERE key = ANY($1)
`

// KindsByKey returns the catalog entries for the given keys, keyed by key.
// Keys without a catalog entry are simply absent from the result.
func (s *Store) KindsByKey(ctx context.Context, keys []string) (map[string]Kind, error) {
	out := make(map[string]Kind, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, kindsByKeySQL, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k Kind
		if err := rows.Scan(&k.ID, &k.Key, &k.DisplayName, &k.Unit, &k.Aggregation, &k.Description); err != nil {
			return nil, err
		}
		out[k.Key] = k
	}
	return out, rows.Err()
}

// Station represents a station metadata record.
type Station struct {
	ID         int       `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Timezone   string    `json:"timezone"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	ElevationM *float64  `json:"elevation_m,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const stationColumns = `id, code, name, timezone, latitude, longitude, elevation_m, notes, active, created_at, updated_at`

const listStationsSQL = `
    SELECT ` + stationColumns + `
    FROM opws.stations
    WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
    ORDER BY name
`

// ListStations returns station metadata, optionally filtered by a
// case-insensitive name fragment.
func (s *Store) ListStations(ctx context.Context, nameFilter string) ([]Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL, nameFilter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStations(rows)
}

const listActiveStationsSQL = `
    SELECT ` + stationColumns + `
    FROM opws.stations
    WHERE active
    ORDER BY id
`

// ListActiveStations returns every active station ordered by id.
func (s *Store) ListActiveStations(ctx context.Context) ([]Station, error) {
	rows, err := s.pool.Query(ctx, listActiveStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStations(rows)
}

func scanStations(rows pgx.Rows) ([]Station, error) {
	stations := make([]Station, 0)
	for rows.Next() {
		var st Station
		if err := rows.Scan(
			&st.ID,
			&st.Code,
			&st.Name,
			&st.Timezone,
			&st.Latitude,
			&st.Longitude,
			&st.ElevationM,
			&st.Notes,
			&st.Active,
			&st.CreatedAt,
			&st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const getStationSQL = `
    SELECT ` + stationColumns + `
    FROM opws.stations
    WHERE id = $1
`

// GetStation returns one station by id, or nil when it does not exist.
func (s *Store) GetStation(ctx context.Context, id int) (*Station, error) {
	row := s.pool.QueryRow(ctx, getStationSQL, id)

	var st Station
	if err := row.Scan(
		&st.ID,
		&st.Code,
		&st.Name,
		&st.Timezone,
		&st.Latitude,
		&st.Longitude,
		&st.ElevationM,
		&st.Notes,
		&st.Active,
		&st.CreatedAt,
		&st.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// Device represents a hardware device owned by a station.
type Device struct {
	ID          int       `json:"id"`
	DevEUI      string    `json:"dev_eui"`
	StationID   int       `json:"station_id"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const listDevicesSQL = `
    SELECT id, dev_eui, station_id, description, active, created_at, updated_at
    FROM opws.devices
    ORDER BY id
`

// ListDevices returns all registered devices.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.pool.Query(ctx, listDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.DevEUI, &d.StationID, &d.Description, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
