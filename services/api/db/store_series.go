package db

import (
	"context"
	"time"
)

// SeriesQuery bounds one series read: a station, a resolved set of catalog
// keys and a half-open [From, To) interval. Bucket is a date_trunc unit
// (hour/day/week/month) for aggregated reads and empty for raw reads.
// SumKeys lists the keys aggregated by SUM; everything else averages.
type SeriesQuery struct {
	StationID int
	KindKeys  []string
	From      time.Time
	To        time.Time
	Bucket    string
	SumKeys   []string
}

// SeriesRow is one raw measurement returned by FetchRawSeries.
type SeriesRow struct {
	KindKey string
	TS      time.Time
	Value   float64
}

const rawSeriesSQL = `
    SELECT k.key, m.ts, m.value
    FROM opws.measurements m
    JOIN opws.measurement_kinds k ON k.id = m.kind_id
    WHERE m.station_id = $1
      AND k.key = ANY($2)
      AND m.ts >= $3
      AND m.ts < $4
    ORDER BY m.ts ASC
`

// FetchRawSeries returns every measurement matching the query, every kind in
// one round trip, ordered ascending by timestamp.
func (s *Store) FetchRawSeries(ctx context.Context, q SeriesQuery) ([]SeriesRow, error) {
	rows, err := s.pool.Query(ctx, rawSeriesSQL, q.StationID, q.KindKeys, q.From, q.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SeriesRow, 0)
	for rows.Next() {
		var r SeriesRow
		if err := rows.Scan(&r.KindKey, &r.TS, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BucketRow is one aggregated bucket returned by FetchBucketedSeries.
type BucketRow struct {
	KindKey string
	Bucket  time.Time
	Value   float64
	Min     float64
	Max     float64
	Count   int
}

// Bucket boundaries follow Postgres date_trunc semantics: hour and day
// truncation, ISO weeks starting Monday, calendar months.
const bucketedSeriesSQL = `
    WITH base AS (
        SELECT k.key AS kind_key,
               date_trunc($5::text, m.ts) AS bucket,
               m.value
        FROM opws.measurements m
        JOIN opws.measurement_kinds k ON k.id = m.kind_id
        WHERE m.station_id = $1
          AND k.key = ANY($2)
          AND m.ts >= $3
          AND m.ts < $4
    )
    SELECT kind_key,
           bucket,
           CASE WHEN kind_key = ANY($6) THEN SUM(value) ELSE AVG(value) END AS value,
           MIN(value),
           MAX(value),
           COUNT(*)
    FROM base
    GROUP BY kind_key, bucket
    ORDER BY bucket ASC
`

// FetchBucketedSeries aggregates measurements per (kind, bucket) in a single
// bounded query: SUM for keys in q.SumKeys, AVG otherwise, with the min/max
// envelope and the contributing row count regardless of policy.
func (s *Store) FetchBucketedSeries(ctx context.Context, q SeriesQuery) ([]BucketRow, error) {
	sumKeys := q.SumKeys
	if sumKeys == nil {
		sumKeys = []string{}
	}

	rows, err := s.pool.Query(ctx, bucketedSeriesSQL, q.StationID, q.KindKeys, q.From, q.To, q.Bucket, sumKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BucketRow, 0)
	for rows.Next() {
		var r BucketRow
		if err := rows.Scan(&r.KindKey, &r.Bucket, &r.Value, &r.Min, &r.Max, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
