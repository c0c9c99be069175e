// Package series answers time-aligned series queries at several temporal
// resolutions.
package series

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opws/opws-telemetry/services/api/catalog"
	"github.com/opws/opws-telemetry/services/api/db"
)

// ErrInvalidQuery marks requests rejected before touching the fact table:
// bad station id, empty or inverted time range, no resolvable keys.
var ErrInvalidQuery = errors.New("invalid series query")

// Granularity selects the temporal resolution of a series query. The
// bucketed values map directly to Postgres date_trunc units, so bucket
// alignment follows date_trunc semantics: hour and day boundaries, ISO
// weeks starting Monday, calendar month starts.
type Granularity string

const (
	Raw   Granularity = "raw"
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity is case-insensitive and falls back to Hour for anything
// it does not recognize.
func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case Raw:
		return Raw
	case Hour:
		return Hour
	case Day:
		return Day
	case Week:
		return Week
	case Month:
		return Month
	default:
		return Hour
	}
}

// Store is the persistence surface the engine needs.
type Store interface {
	KindsByKey(ctx context.Context, keys []string) (map[string]db.Kind, error)
	FetchRawSeries(ctx context.Context, q db.SeriesQuery) ([]db.SeriesRow, error)
	FetchBucketedSeries(ctx context.Context, q db.SeriesQuery) ([]db.BucketRow, error)
}

// Request is one series query.
type Request struct {
	StationID   int
	Keys        []string
	From        time.Time
	To          time.Time
	Granularity Granularity
}

// Point is one series sample. Min, Max and N are set only for bucketed
// granularities, where V is the bucket aggregate (average or sum per the
// kind's policy) and N counts the contributing raw rows.
type Point struct {
	T   time.Time `json:"t"`
	V   float64   `json:"v"`
	Min *float64  `json:"min,omitempty"`
	Max *float64  `json:"max,omitempty"`
	N   *int      `json:"n,omitempty"`
}

// Engine resolves requested variable keys against the catalog and executes
// one bounded storage read per query. Catalog rows are read-mostly and
// cached; a cache miss always falls back to a store read before a key is
// declared unknown.
type Engine struct {
	store  Store
	keymap map[string]string

	mu    sync.RWMutex
	kinds map[string]db.Kind
}

// New creates an Engine with the catalog's external key table.
func New(store Store) *Engine {
	return &Engine{
		store:  store,
		keymap: catalog.ExternalKeyMap(),
		kinds:  make(map[string]db.Kind),
	}
}

// Query returns one ordered point series per requested key. Keys that do not
// resolve to a catalog kind are dropped silently; if none resolve the whole
// query fails. Valid queries with no matching rows return empty series, not
// an error.
func (e *Engine) Query(ctx context.Context, req Request) (map[string][]Point, error) {
	if req.StationID <= 0 {
		return nil, fmt.Errorf("%w: station id must be positive", ErrInvalidQuery)
	}
	if !req.From.Before(req.To) {
		return nil, fmt.Errorf("%w: from must precede to", ErrInvalidQuery)
	}
	if len(req.Keys) == 0 {
		return nil, fmt.Errorf("%w: at least one variable key is required", ErrInvalidQuery)
	}

	// Callers constructing Request directly may carry an arbitrary string;
	// only known granularities may reach date_trunc.
	switch req.Granularity {
	case Raw, Hour, Day, Week, Month:
	default:
		req.Granularity = Hour
	}

	// Resolve external keys to catalog keys, then catalog keys to kinds.
	catalogByRequested := make(map[string]string, len(req.Keys))
	for _, key := range req.Keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if catalogKey, ok := e.keymap[key]; ok {
			catalogByRequested[key] = catalogKey
		}
	}

	catalogKeys := make([]string, 0, len(catalogByRequested))
	for _, ck := range catalogByRequested {
		catalogKeys = append(catalogKeys, ck)
	}

	kinds, err := e.resolveKinds(ctx, catalogKeys)
	if err != nil {
		return nil, fmt.Errorf("resolve kinds: %w", err)
	}

	requestedByCatalog := make(map[string]string, len(catalogByRequested))
	resolved := make([]string, 0, len(catalogByRequested))
	sumKeys := make([]string, 0, 1)
	for requested, catalogKey := range catalogByRequested {
		kind, ok := kinds[catalogKey]
		if !ok {
			continue
		}
		requestedByCatalog[catalogKey] = requested
		resolved = append(resolved, catalogKey)
		if kind.Aggregation == catalog.PolicySum {
			sumKeys = append(sumKeys, catalogKey)
		}
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: no requested key resolves to a catalog kind", ErrInvalidQuery)
	}

	out := make(map[string][]Point, len(resolved))
	for _, catalogKey := range resolved {
		out[requestedByCatalog[catalogKey]] = []Point{}
	}

	q := db.SeriesQuery{
		StationID: req.StationID,
		KindKeys:  resolved,
		From:      req.From,
		To:        req.To,
		SumKeys:   sumKeys,
	}

	if req.Granularity == Raw {
		rows, err := e.store.FetchRawSeries(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetch raw series: %w", err)
		}
		for _, r := range rows {
			key := requestedByCatalog[r.KindKey]
			out[key] = append(out[key], Point{T: r.TS, V: r.Value})
		}
		return out, nil
	}

	q.Bucket = string(req.Granularity)
	rows, err := e.store.FetchBucketedSeries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch bucketed series: %w", err)
	}
	for _, r := range rows {
		key := requestedByCatalog[r.KindKey]
		minV, maxV, n := r.Min, r.Max, r.Count
		out[key] = append(out[key], Point{T: r.Bucket, V: r.Value, Min: &minV, Max: &maxV, N: &n})
	}
	return out, nil
}

// resolveKinds serves catalog rows from the in-process cache and reads
// through to the store for anything missing. Only a store-confirmed miss
// means "kind does not exist".
func (e *Engine) resolveKinds(ctx context.Context, keys []string) (map[string]db.Kind, error) {
	out := make(map[string]db.Kind, len(keys))
	missing := make([]string, 0)

	e.mu.RLock()
	for _, key := range keys {
		if kind, ok := e.kinds[key]; ok {
			out[key] = kind
		} else {
			missing = append(missing, key)
		}
	}
	e.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := e.store.KindsByKey(ctx, missing)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for key, kind := range fetched {
		e.kinds[key] = kind
		out[key] = kind
	}
	e.mu.Unlock()

	return out, nil
}
