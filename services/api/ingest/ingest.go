// Package ingest turns uplinked device payloads into normalized,
// deduplicated measurement rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opws/opws-telemetry/services/api/catalog"
	"github.com/opws/opws-telemetry/services/api/db"
)

// ErrValidation marks uplinks rejected before any write was attempted:
// missing device identifier, missing or unparsable timestamp, empty payload.
var ErrValidation = errors.New("invalid uplink")

// SchemaError reports a payload field that resolves to no catalog kind,
// neither through the device's mappings nor through the default field table.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("payload field %q maps to no catalog kind", e.Field)
}

// Store is the persistence surface the gateway needs.
type Store interface {
	EnsureStationDevice(ctx context.Context, devEUI string) (*db.Station, *db.Device, bool, error)
	DeviceMappings(ctx context.Context, deviceID int) ([]db.Mapping, error)
	KindsByKey(ctx context.Context, keys []string) (map[string]db.Kind, error)
	InsertMeasurements(ctx context.Context, rows []db.MeasurementRow) (int64, error)
}

// Uplink is one inbound telemetry record: one device, one instant, a map of
// named numeric fields.
type Uplink struct {
	DevEUI    string             `json:"dev_eui"`
	Timestamp string             `json:"timestamp"`
	Payload   map[string]float64 `json:"payload"`
}

// Result reports what one accepted uplink did.
type Result struct {
	Inserted    int64     `json:"inserted"`
	Station     string    `json:"station"`
	Timestamp   time.Time `json:"timestamp"`
	Provisioned bool      `json:"provisioned"`
}

// Gateway validates uplinks, resolves topology and stages measurement rows.
// It is stateless; any number of Ingest calls may run concurrently.
type Gateway struct {
	store Store
}

// New creates a Gateway on top of the given store.
func New(store Store) *Gateway {
	return &Gateway{store: store}
}

// Ingest processes one uplink. It may auto-provision a station and device
// for a never-seen identifier; the rows of one uplink commit atomically and
// rows whose (station, kind, instant) triple already exists are skipped, so
// replaying the same uplink is safe.
func (g *Gateway) Ingest(ctx context.Context, u Uplink) (Result, error) {
	if u.DevEUI == "" {
		return Result{}, fmt.Errorf("%w: dev_eui is required", ErrValidation)
	}
	if u.Timestamp == "" {
		return Result{}, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if len(u.Payload) == 0 {
		return Result{}, fmt.Errorf("%w: payload must contain at least one field", ErrValidation)
	}

	instant, err := time.Parse(time.RFC3339, u.Timestamp)
	if err != nil {
		return Result{}, fmt.Errorf("%w: timestamp %q is not a valid RFC 3339 instant", ErrValidation, u.Timestamp)
	}
	instant = instant.UTC()

	station, device, provisioned, err := g.store.EnsureStationDevice(ctx, u.DevEUI)
	if err != nil {
		return Result{}, fmt.Errorf("resolve device %s: %w", u.DevEUI, err)
	}

	mappings, err := g.store.DeviceMappings(ctx, device.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load mappings for device %s: %w", u.DevEUI, err)
	}
	byPayloadKey := make(map[string]db.Mapping, len(mappings))
	for _, m := range mappings {
		byPayloadKey[m.PayloadKey] = m
	}

	// Fields without an explicit mapping fall back to the default field
	// table; their kind ids still have to be resolved against the catalog.
	fallbackKeys := make([]string, 0, len(u.Payload))
	for field := range u.Payload {
		if _, ok := byPayloadKey[field]; ok {
			continue
		}
		kindKey, ok := catalog.DefaultFieldKind(field)
		if !ok {
			return Result{}, &SchemaError{Field: field}
		}
		fallbackKeys = append(fallbackKeys, kindKey)
	}

	kinds := map[string]db.Kind{}
	if len(fallbackKeys) > 0 {
		kinds, err = g.store.KindsByKey(ctx, fallbackKeys)
		if err != nil {
			return Result{}, fmt.Errorf("resolve catalog kinds: %w", err)
		}
	}

	rows := make([]db.MeasurementRow, 0, len(u.Payload))
	for field, raw := range u.Payload {
		var kindID int
		scale, offset := 1.0, 0.0

		if m, ok := byPayloadKey[field]; ok {
			kindID = m.KindID
			scale, offset = m.Scale, m.Offset
		} else {
			kindKey, _ := catalog.DefaultFieldKind(field)
			kind, ok := kinds[kindKey]
			if !ok {
				return Result{}, &SchemaError{Field: field}
			}
			kindID = kind.ID
		}

		rows = append(rows, db.MeasurementRow{
			StationID: station.ID,
			KindID:    kindID,
			TS:        instant,
			Value:     raw*scale + offset,
			Raw:       u.Payload,
		})
	}

	inserted, err := g.store.InsertMeasurements(ctx, rows)
	if err != nil {
		return Result{}, fmt.Errorf("insert measurements: %w", err)
	}

	return Result{
		Inserted:    inserted,
		Station:     station.Name,
		Timestamp:   instant,
		Provisioned: provisioned,
	}, nil
}
