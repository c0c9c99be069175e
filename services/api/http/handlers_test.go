package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opws/opws-telemetry/services/api/catalog"
	"github.com/opws/opws-telemetry/services/api/config"
	"github.com/opws/opws-telemetry/services/api/db"
	"github.com/opws/opws-telemetry/services/api/ingest"
	"github.com/opws/opws-telemetry/services/api/series"
)

type ingestStore struct {
	insertErr error
	inserted  []db.MeasurementRow
}

func (s *ingestStore) EnsureStationDevice(ctx context.Context, devEUI string) (*db.Station, *db.Device, bool, error) {
	return &db.Station{ID: 1, Name: "Station " + devEUI}, &db.Device{ID: 1, DevEUI: devEUI}, false, nil
}

func (s *ingestStore) DeviceMappings(ctx context.Context, deviceID int) ([]db.Mapping, error) {
	return nil, nil
}

func (s *ingestStore) KindsByKey(ctx context.Context, keys []string) (map[string]db.Kind, error) {
	out := make(map[string]db.Kind)
	for i, key := range catalog.SeededKinds() {
		out[key] = db.Kind{ID: i + 1, Key: key, Aggregation: catalog.PolicyAverage}
	}
	out[catalog.KindRainfall] = db.Kind{ID: 6, Key: catalog.KindRainfall, Aggregation: catalog.PolicySum}
	return out, nil
}

func (s *ingestStore) InsertMeasurements(ctx context.Context, rows []db.MeasurementRow) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, rows...)
	return int64(len(rows)), nil
}

type seriesStore struct {
	raw      []db.SeriesRow
	bucketed []db.BucketRow
}

func (s *seriesStore) KindsByKey(ctx context.Context, keys []string) (map[string]db.Kind, error) {
	out := make(map[string]db.Kind)
	for i, key := range catalog.SeededKinds() {
		agg := catalog.PolicyAverage
		if key == catalog.KindRainfall {
			agg = catalog.PolicySum
		}
		out[key] = db.Kind{ID: i + 1, Key: key, Aggregation: agg}
	}
	return out, nil
}

func (s *seriesStore) FetchRawSeries(ctx context.Context, q db.SeriesQuery) ([]db.SeriesRow, error) {
	return s.raw, nil
}

func (s *seriesStore) FetchBucketedSeries(ctx context.Context, q db.SeriesQuery) ([]db.BucketRow, error) {
	return s.bucketed, nil
}

func newTestServer(cfg config.Config, is *ingestStore, ss *seriesStore) *Server {
	if is == nil {
		is = &ingestStore{}
	}
	if ss == nil {
		ss = &seriesStore{}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, nil, ingest.New(is), series.New(ss), log)
}

func doRequest(t *testing.T, srv *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(config.Config{}, nil, nil)

	w := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestV1HeadersAndCORS(t *testing.T) {
	srv := newTestServer(config.Config{}, nil, nil)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/series", "", nil)
	if got := w.Header().Get("X-API-Version"); got != "v1" {
		t.Errorf("X-API-Version = %q, want v1", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	w = doRequest(t, srv, http.MethodOptions, "/api/v1/series", "", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestUplinkAccepted(t *testing.T) {
	store := &ingestStore{}
	srv := newTestServer(config.Config{}, store, nil)

	body := `{
		"dev_eui": "A1B2C3",
		"timestamp": "2024-06-01T12:00:00Z",
		"payload": {"temperature": 27.4, "humidity": 81.2}
	}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/uplink", body, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["ok"] != true {
		t.Errorf("ok = %v", resp["ok"])
	}
	if resp["station"] != "Station A1B2C3" {
		t.Errorf("station = %v", resp["station"])
	}
	if resp["inserted"] != float64(2) {
		t.Errorf("inserted = %v, want 2", resp["inserted"])
	}
	if resp["timestamp"] != "2024-06-01T12:00:00Z" {
		t.Errorf("timestamp = %v", resp["timestamp"])
	}
	if len(store.inserted) != 2 {
		t.Errorf("store received %d rows, want 2", len(store.inserted))
	}
}

func TestUplinkRejected(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"dev_eui": `},
		{"missing dev_eui", `{"timestamp": "2024-06-01T12:00:00Z", "payload": {"temperature": 27}}`},
		{"bad timestamp", `{"dev_eui": "A1", "timestamp": "yesterday", "payload": {"temperature": 27}}`},
		{"empty payload", `{"dev_eui": "A1", "timestamp": "2024-06-01T12:00:00Z", "payload": {}}`},
		{"unknown field", `{"dev_eui": "A1", "timestamp": "2024-06-01T12:00:00Z", "payload": {"wind_speed": 3.2}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(config.Config{}, nil, nil)
			w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/uplink", tc.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestUplinkStorageFailureIsRetryable(t *testing.T) {
	store := &ingestStore{insertErr: errors.New("connection refused")}
	srv := newTestServer(config.Config{}, store, nil)

	body := `{"dev_eui": "A1", "timestamp": "2024-06-01T12:00:00Z", "payload": {"temperature": 27}}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/uplink", body, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["retryable"] != true {
		t.Errorf("retryable = %v, want true", resp["retryable"])
	}
	if resp["inserted"] != float64(0) {
		t.Errorf("inserted = %v, want 0", resp["inserted"])
	}
}

func TestSeriesQuery(t *testing.T) {
	bucket := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ss := &seriesStore{bucketed: []db.BucketRow{
		{KindKey: catalog.KindRainfall, Bucket: bucket, Value: 3.5, Min: 1.2, Max: 2.3, Count: 2},
	}}
	srv := newTestServer(config.Config{}, nil, ss)

	w := doRequest(t, srv, http.MethodGet,
		"/api/v1/series?station_id=1&keys=rainfall_mm&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z&group=day",
		"", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var out map[string][]series.Point
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	points, ok := out["rainfall_mm"]
	if !ok || len(points) != 1 {
		t.Fatalf("out = %v, want one rainfall point", out)
	}
	if points[0].V != 3.5 {
		t.Errorf("V = %v, want 3.5", points[0].V)
	}
	if points[0].N == nil || *points[0].N != 2 {
		t.Errorf("N = %v, want 2", points[0].N)
	}
}

func TestSeriesQueryRejected(t *testing.T) {
	srv := newTestServer(config.Config{}, nil, nil)

	cases := []struct {
		name   string
		target string
	}{
		{"missing station", "/api/v1/series?keys=rainfall_mm&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z"},
		{"bad from", "/api/v1/series?station_id=1&keys=rainfall_mm&from=yesterday&to=2024-06-02T00:00:00Z"},
		{"bad to", "/api/v1/series?station_id=1&keys=rainfall_mm&from=2024-06-01T00:00:00Z&to=never"},
		{"inverted range", "/api/v1/series?station_id=1&keys=rainfall_mm&from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z"},
		{"no keys", "/api/v1/series?station_id=1&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z"},
		{"unknown keys only", "/api/v1/series?station_id=1&keys=wind_speed&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodGet, tc.target, "", nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(config.Config{BearerToken: "sekrit"}, nil, nil)

	target := "/api/v1/series?station_id=1&keys=rainfall_mm&from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z"

	if w := doRequest(t, srv, http.MethodGet, target, "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := doRequest(t, srv, http.MethodGet, target, "", map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if w := doRequest(t, srv, http.MethodGet, target, "", map[string]string{"Authorization": "Bearer sekrit"}); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}

	// The health probe stays outside the protected group.
	if w := doRequest(t, srv, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz behind auth: status = %d, want 200", w.Code)
	}

	// The uplink webhook stays open too: its callers authenticate at the
	// network integration layer, not with the read token.
	body := `{"dev_eui": "A1", "timestamp": "2024-06-01T12:00:00Z", "payload": {"temperature": 27}}`
	if w := doRequest(t, srv, http.MethodPost, "/api/v1/ingest/uplink", body, nil); w.Code != http.StatusOK {
		t.Errorf("uplink behind auth: status = %d, want 200", w.Code)
	}
}
