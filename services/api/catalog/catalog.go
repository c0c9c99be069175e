// Package catalog describes the fixed set of measurable variables.
//
// The catalog itself lives in the measurement_kinds table and changes only
// through migration; this package carries the compile-time knowledge the
// pipeline needs about it: the well-known keys, how unmapped device payload
// fields resolve to kinds, and how externally facing series keys translate
// to catalog keys.
package catalog

// Aggregation policies stored in measurement_kinds.aggregation.
const (
	PolicyAverage = "avg"
	PolicySum     = "sum"
)

// Keys of the catalog kinds referenced by the pipeline.
const (
	KindAirTemp      = "air_temp_c"
	KindAirHumidity  = "air_humidity_pct"
	KindSoilMoisture = "soil_moisture_pct"
	KindSoilTemp     = "soil_temp_c"
	KindLuminosity   = "luminosity_lx"
	KindRainfall     = "rainfall_mm"
)

// defaultFieldMap resolves well-known raw payload field names to catalog
// keys for devices that carry no explicit mappings (freshly auto-provisioned
// uplink sources).
var defaultFieldMap = map[string]string{
	"temperature":   KindAirTemp,
	"humidity":      KindAirHumidity,
	"rainfall":      KindRainfall,
	"soil_moisture": KindSoilMoisture,
	"soil_temp":     KindSoilTemp,
	"luminosity":    KindLuminosity,
}

// DefaultFieldKind returns the catalog key a raw payload field falls back to
// when the device has no explicit mapping for it.
func DefaultFieldKind(field string) (string, bool) {
	key, ok := defaultFieldMap[field]
	return key, ok
}

// externalKeyMap translates caller-facing series keys to catalog keys. It is
// the identity today, but the external namespace is a compatibility surface
// that has drifted from the storage keys before, so the indirection is kept
// explicit.
var externalKeyMap = map[string]string{
	KindAirTemp:      KindAirTemp,
	KindAirHumidity:  KindAirHumidity,
	KindSoilMoisture: KindSoilMoisture,
	KindSoilTemp:     KindSoilTemp,
	KindLuminosity:   KindLuminosity,
	KindRainfall:     KindRainfall,
}

// ExternalKeyMap returns a copy of the external-to-catalog key table.
func ExternalKeyMap() map[string]string {
	out := make(map[string]string, len(externalKeyMap))
	for k, v := range externalKeyMap {
		out[k] = v
	}
	return out
}

// SeededKinds lists every catalog key the schema migration seeds.
func SeededKinds() []string {
	return []string{
		KindAirTemp,
		KindAirHumidity,
		KindSoilMoisture,
		KindSoilTemp,
		KindLuminosity,
		KindRainfall,
	}
}
