// Package model derives physically plausible sensor values for a tropical
// field station: coupled diurnal, rain-event and soil-moisture dynamics.
// All functions take the random source explicitly so a run can be replayed
// from a seed.
package model

import (
	"math"
	"math/rand"
	"time"
)

// Rain event bounds.
const (
	RainProbability    = 0.18 // chance of one rain event per simulated day
	rainWindowStart    = 14.0 // afternoon window, hours
	rainWindowSpanH    = 4.0
	rainMinDurationMin = 30.0
	rainMaxExtraMin    = 90.0
	rainMinIntensity   = 0.5 // mm/h
	rainMaxExtra       = 14.5
)

// Physical bounds of the derived variables.
const (
	AirTempMin      = 20.0
	AirTempMax      = 32.0
	HumidityMin     = 60.0
	HumidityMax     = 95.0
	SoilMoistureMin = 40.0
	SoilMoistureMax = 80.0
	LuminosityPeak  = 100000.0
)

// SoilMoistureInitial is the moisture level a run starts from.
const SoilMoistureInitial = 55.0

// RainEvent is one precomputed afternoon shower.
type RainEvent struct {
	Start     time.Time
	Duration  time.Duration
	Intensity float64 // mm/h
}

// End returns the instant the event stops.
func (e RainEvent) End() time.Time {
	return e.Start.Add(e.Duration)
}

// GenerateRainEvents draws at most one rain event per simulated day in
// [start, start+days). Events start in the afternoon window, last 30-120
// minutes and rain at 0.5-15 mm/h.
func GenerateRainEvents(rng *rand.Rand, start time.Time, days int) []RainEvent {
	events := make([]RainEvent, 0)
	for day := 0; day < days; day++ {
		if rng.Float64() >= RainProbability {
			continue
		}

		base := start.UTC().AddDate(0, 0, day)
		midnight := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
		startHour := rainWindowStart + rng.Float64()*rainWindowSpanH
		minute := rng.Intn(60)

		events = append(events, RainEvent{
			Start: midnight.Add(time.Duration(int(startHour))*time.Hour +
				time.Duration(minute)*time.Minute),
			Duration:  time.Duration((rainMinDurationMin + rng.Float64()*rainMaxExtraMin) * float64(time.Minute)),
			Intensity: rainMinIntensity + rng.Float64()*rainMaxExtra,
		})
	}
	return events
}

// RainAt reports whether t falls inside any event and the intensity if so.
func RainAt(t time.Time, events []RainEvent) (bool, float64) {
	for _, e := range events {
		if !t.Before(e.Start) && !t.After(e.End()) {
			return true, e.Intensity
		}
	}
	return false, 0
}

// AirTemperature follows a diurnal sinusoid crossing its base value around
// dawn, depressed 2-4 degrees under rain, clamped to [20, 32].
func AirTemperature(rng *rand.Rand, t time.Time, raining bool) float64 {
	cycle := math.Sin((hourOfDay(t) - 4) / 12 * math.Pi)
	temp := 26 + 6*cycle

	if raining {
		temp -= 2 + rng.Float64()*2
	}
	temp += (rng.Float64() - 0.5) * 1.5

	return clamp(temp, AirTempMin, AirTempMax)
}

// AirHumidity is inversely related to temperature with its own diurnal term,
// forced to 85-95% under rain, clamped to [60, 95].
func AirHumidity(rng *rand.Rand, t time.Time, airTemp float64, raining bool) float64 {
	tempFactor := (AirTempMax - airTemp) / 12
	humidity := 65 + tempFactor*20

	cycle := -math.Sin((hourOfDay(t) - 4) / 12 * math.Pi)
	humidity += cycle * 10

	if raining {
		humidity = 85 + rng.Float64()*10
	}
	humidity += (rng.Float64() - 0.5) * 3

	return clamp(humidity, HumidityMin, HumidityMax)
}

// Rainfall converts an event intensity (mm/h) into the rain accumulated over
// one timestep, with +/-20% jitter. Zero intensity yields exactly zero.
func Rainfall(rng *rand.Rand, intensity float64, step time.Duration) float64 {
	if intensity == 0 {
		return 0
	}
	stepsPerHour := float64(time.Hour) / float64(step)
	amount := intensity / stepsPerHour
	return amount * (0.8 + rng.Float64()*0.4)
}

// NextSoilMoisture advances the leaky-bucket soil state one timestep:
// evaporation of 0.5%/h (plus a midday surcharge), replenishment of
// 2.5x the step's rainfall, clamped to [40, 80].
func NextSoilMoisture(rng *rand.Rand, t time.Time, rainfallMM, prev float64, step time.Duration) float64 {
	moisture := prev - 0.5*step.Hours()

	if rainfallMM > 0 {
		moisture += rainfallMM * 2.5
	}

	if h := t.UTC().Hour(); h >= 10 && h <= 16 {
		moisture -= 0.15
	}
	moisture += (rng.Float64() - 0.5) * 0.5

	return clamp(moisture, SoilMoistureMin, SoilMoistureMax)
}

// SoilMoistureTrace folds NextSoilMoisture over a rainfall sequence starting
// from initial, returning the moisture value at every timestep. The fold is
// strictly sequential: each output depends on the previous one.
func SoilMoistureTrace(rng *rand.Rand, start time.Time, step time.Duration, rainfall []float64, initial float64) []float64 {
	trace := make([]float64, len(rainfall))
	prev := initial
	for i, r := range rainfall {
		prev = NextSoilMoisture(rng, start.Add(time.Duration(i)*step), r, prev, step)
		trace[i] = prev
	}
	return trace
}

// SoilTemperature is a damped version of the air temperature: the soil sits
// near the daily mean and follows air swings at roughly half amplitude.
func SoilTemperature(rng *rand.Rand, airTemp float64) float64 {
	temp := 24 + (airTemp-26)*0.5
	temp += (rng.Float64() - 0.5) * 0.6
	return clamp(temp, 20, 30)
}

// Luminosity is near zero outside the 06:00-18:00 daylight window and a
// sinusoid peaking around solar noon inside it, attenuated to 20-50% under
// rain and 70-100% under clear sky.
func Luminosity(rng *rand.Rand, t time.Time, raining bool) float64 {
	tod := hourOfDay(t)
	if tod < 6 || tod >= 18 {
		return rng.Float64() * 5 // moon and stray artificial light
	}

	lum := LuminosityPeak * math.Sin((tod-6)/12*math.Pi)
	if raining {
		lum *= 0.2 + rng.Float64()*0.3
	} else {
		lum *= 0.7 + rng.Float64()*0.3
	}
	lum *= 0.9 + rng.Float64()*0.2

	return math.Max(0, math.Round(lum))
}

func hourOfDay(t time.Time) float64 {
	t = t.UTC()
	return float64(t.Hour()) + float64(t.Minute())/60
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
