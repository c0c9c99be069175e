package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// MeasurementRow is one fact-table row staged for insertion.
type MeasurementRow struct {
	StationID int
	KindID    int
	TS        time.Time
	Value     float64
	Raw       map[string]float64
}

const getDeviceWithStationSQL = `
    SELECT d.id, d.dev_eui, d.station_id, d.description, d.active, d.created_at, d.updated_at,
           ` + stationPrefixedColumns + `
    FROM opws.devices d
    JOIN opws.stations s ON s.id = d.station_id
    WHERE d.dev_eui = $1
`

const stationPrefixedColumns = `s.id, s.code, s.name, s.timezone, s.latitude, s.longitude, s.elevation_m, s.notes, s.active, s.created_at, s.updated_at`

const insertStationForDeviceSQL = `
    INSERT INTO opws.stations (code, name, timezone, active)
    VALUES ($1, $2, 'UTC', TRUE)
    ON CONFLICT (code) DO NOTHING
`

const insertDeviceSQL = `
    INSERT INTO opws.devices (dev_eui, station_id, description, active)
    SELECT $1, id, $2, TRUE FROM opws.stations WHERE code = $3
    ON CONFLICT (dev_eui) DO NOTHING
`

// EnsureStationDevice resolves a device by its hardware identifier,
// auto-provisioning a station and the device on first contact. Provisioning
// is insert-on-conflict-do-nothing plus re-read inside one transaction, so
// concurrent first uplinks for the same device converge on a single
// station/device pair. The returned flag reports whether this call created
// the device.
func (s *Store) EnsureStationDevice(ctx context.Context, devEUI string) (*Station, *Device, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	defer tx.Rollback(ctx)

	st, dev, err := getDeviceWithStation(ctx, tx, devEUI)
	if err != nil {
		return nil, nil, false, err
	}
	if dev != nil {
		return st, dev, false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, insertStationForDeviceSQL, devEUI, "Station "+devEUI); err != nil {
		return nil, nil, false, err
	}

	tag, err := tx.Exec(ctx, insertDeviceSQL, devEUI, "Auto-provisioned uplink device "+devEUI, devEUI)
	if err != nil {
		return nil, nil, false, err
	}
	created := tag.RowsAffected() > 0

	st, dev, err = getDeviceWithStation(ctx, tx, devEUI)
	if err != nil {
		return nil, nil, false, err
	}
	return st, dev, created, tx.Commit(ctx)
}

func getDeviceWithStation(ctx context.Context, tx pgx.Tx, devEUI string) (*Station, *Device, error) {
	row := tx.QueryRow(ctx, getDeviceWithStationSQL, devEUI)

	var d Device
	var st Station
	err := row.Scan(
		&d.ID, &d.DevEUI, &d.StationID, &d.Description, &d.Active, &d.CreatedAt, &d.UpdatedAt,
		&st.ID, &st.Code, &st.Name, &st.Timezone, &st.Latitude, &st.Longitude,
		&st.ElevationM, &st.Notes, &st.Active, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &st, &d, nil
}

// Mapping ties one raw payload field of a device to a catalog kind with a
// linear correction.
type Mapping struct {
	DeviceID   int
	KindID     int
	KindKey    string
	PayloadKey string
	Scale      float64
	Offset     float64
}

const deviceMappingsSQL = `
    SELECT dm.device_id, dm.kind_id, k.key, dm.payload_key, dm.scale, dm."offset"
    FROM opws.device_mappings dm
    JOIN opws.measurement_kinds k ON k.id = dm.kind_id
    WHERE dm.device_id = $1
`

// DeviceMappings returns the explicit field mappings of a device. An empty
// slice means the device is unmapped and ingestion falls back to the default
// field table.
func (s *Store) DeviceMappings(ctx context.Context, deviceID int) ([]Mapping, error) {
	rows, err := s.pool.Query(ctx, deviceMappingsSQL, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make([]Mapping, 0)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.DeviceID, &m.KindID, &m.KindKey, &m.PayloadKey, &m.Scale, &m.Offset); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

const insertMeasurementSQL = `
    INSERT INTO opws.measurements (station_id, kind_id, ts, value, raw, ingested_at)
    VALUES ($1, $2, $3, $4, $5, NOW())
    ON CONFLICT (station_id, kind_id, ts) DO NOTHING
`

// InsertMeasurements writes the staged rows in one transaction. Rows whose
// (station, kind, ts) triple already exists are skipped silently; the return
// value counts rows actually inserted. On error nothing is committed.
func (s *Store) InsertMeasurements(ctx context.Context, measurements []MeasurementRow) (int64, error) {
	if len(measurements) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range measurements {
		batch.Queue(insertMeasurementSQL, m.StationID, m.KindID, m.TS, m.Value, m.Raw)
	}

	res := tx.SendBatch(ctx, batch)

	var inserted int64
	for range measurements {
		tag, err := res.Exec()
		if err != nil {
			res.Close()
			return 0, err
		}
		inserted += tag.RowsAffected()
	}
	if err := res.Close(); err != nil {
		return 0, err
	}

	return inserted, tx.Commit(ctx)
}

const deleteStationMeasurementsSQL = `
    DELETE FROM opws.measurements WHERE station_id = $1
`

// DeleteStationMeasurements removes every measurement of a station. This is
// the administrative bulk reset used before reseeding.
func (s *Store) DeleteStationMeasurements(ctx context.Context, stationID int) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteStationMeasurementsSQL, stationID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
