package model

import (
	"math/rand"
	"testing"
	"time"
)

var runStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newRng() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestGenerateRainEventsBounds(t *testing.T) {
	rng := newRng()
	days := 365
	events := GenerateRainEvents(rng, runStart, days)

	if len(events) == 0 {
		t.Fatal("a year of tropical weather produced no rain")
	}
	if len(events) > days {
		t.Fatalf("%d events for %d days, at most one per day expected", len(events), days)
	}

	for _, e := range events {
		if h := e.Start.Hour(); h < 14 || h > 18 {
			t.Errorf("event starts at %02d:00, want afternoon window", h)
		}
		if e.Duration < 30*time.Minute || e.Duration > 120*time.Minute {
			t.Errorf("event duration %v outside [30m, 120m]", e.Duration)
		}
		if e.Intensity < 0.5 || e.Intensity > 15 {
			t.Errorf("event intensity %v outside [0.5, 15]", e.Intensity)
		}
		if e.Start.Before(runStart) || !e.Start.Before(runStart.AddDate(0, 0, days)) {
			t.Errorf("event start %v outside the run window", e.Start)
		}
	}
}

func TestRainAt(t *testing.T) {
	event := RainEvent{
		Start:     time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
		Duration:  time.Hour,
		Intensity: 4,
	}
	events := []RainEvent{event}

	if raining, intensity := RainAt(event.Start, events); !raining || intensity != 4 {
		t.Error("event start should be raining")
	}
	if raining, _ := RainAt(event.Start.Add(30*time.Minute), events); !raining {
		t.Error("mid-event should be raining")
	}
	if raining, intensity := RainAt(event.Start.Add(2*time.Hour), events); raining || intensity != 0 {
		t.Error("after the event it should be dry")
	}
	if raining, _ := RainAt(event.Start.Add(-time.Minute), events); raining {
		t.Error("before the event it should be dry")
	}
}

func TestAirTemperatureBoundsAndCycle(t *testing.T) {
	rng := newRng()

	var troughSum, peakSum float64
	const samples = 200
	for i := 0; i < samples; i++ {
		trough := AirTemperature(rng, runStart.Add(22*time.Hour), false)
		peak := AirTemperature(rng, runStart.Add(10*time.Hour), false)

		for _, v := range []float64{trough, peak} {
			if v < AirTempMin || v > AirTempMax {
				t.Fatalf("temperature %v outside [%v, %v]", v, AirTempMin, AirTempMax)
			}
		}
		troughSum += trough
		peakSum += peak
	}

	if peakSum/samples <= troughSum/samples+8 {
		t.Errorf("diurnal cycle too flat: peak mean %.2f vs trough mean %.2f",
			peakSum/samples, troughSum/samples)
	}
}

func TestAirTemperatureDepressedByRain(t *testing.T) {
	rng := newRng()

	var drySum, wetSum float64
	const samples = 200
	noon := runStart.Add(13 * time.Hour)
	for i := 0; i < samples; i++ {
		drySum += AirTemperature(rng, noon, false)
		wetSum += AirTemperature(rng, noon, true)
	}

	if wetSum/samples >= drySum/samples-1 {
		t.Errorf("rain should depress the temperature: wet mean %.2f vs dry mean %.2f",
			wetSum/samples, drySum/samples)
	}
}

func TestAirHumidityBounds(t *testing.T) {
	rng := newRng()
	for hour := 0; hour < 24; hour++ {
		at := runStart.Add(time.Duration(hour) * time.Hour)
		temp := AirTemperature(rng, at, false)

		dry := AirHumidity(rng, at, temp, false)
		wet := AirHumidity(rng, at, temp, true)

		if dry < HumidityMin || dry > HumidityMax {
			t.Errorf("humidity %v outside [%v, %v]", dry, HumidityMin, HumidityMax)
		}
		if wet < 80 || wet > HumidityMax {
			t.Errorf("raining humidity %v, want high (>=80)", wet)
		}
	}
}

func TestRainfallScalesToTimestep(t *testing.T) {
	rng := newRng()

	if v := Rainfall(rng, 0, 15*time.Minute); v != 0 {
		t.Errorf("no rain must yield exactly 0, got %v", v)
	}

	// 4 mm/h over a 15 min step is a nominal 1 mm with +-20% jitter.
	for i := 0; i < 100; i++ {
		v := Rainfall(rng, 4, 15*time.Minute)
		if v < 0.8 || v > 1.2 {
			t.Fatalf("rainfall %v outside jitter band [0.8, 1.2]", v)
		}
	}
}

func TestSoilMoistureTraceDecaysWithoutRain(t *testing.T) {
	rng := newRng()
	steps := 96 * 3 // three dry days at 15 min
	rain := make([]float64, steps)

	trace := SoilMoistureTrace(rng, runStart, 15*time.Minute, rain, SoilMoistureInitial)

	if len(trace) != steps {
		t.Fatalf("trace length = %d, want %d", len(trace), steps)
	}
	for _, v := range trace {
		if v < SoilMoistureMin || v > SoilMoistureMax {
			t.Fatalf("moisture %v outside [%v, %v]", v, SoilMoistureMin, SoilMoistureMax)
		}
	}
	if last := trace[steps-1]; last >= SoilMoistureInitial-5 {
		t.Errorf("three dry days only dried the soil to %v from %v", last, SoilMoistureInitial)
	}
}

func TestSoilMoistureTraceReplenishedByRain(t *testing.T) {
	rng := newRng()
	rain := []float64{0, 0, 2.5, 2.5, 2.5, 0, 0}

	trace := SoilMoistureTrace(rng, runStart, 15*time.Minute, rain, 50)

	if trace[4] <= trace[1] {
		t.Errorf("rain did not replenish the soil: %v", trace)
	}
	for _, v := range trace {
		if v > SoilMoistureMax {
			t.Errorf("moisture %v above clamp %v", v, SoilMoistureMax)
		}
	}
}

func TestLuminosityDayNight(t *testing.T) {
	rng := newRng()

	night := Luminosity(rng, runStart.Add(2*time.Hour), false)
	if night > 5 {
		t.Errorf("night luminosity %v, want near zero", night)
	}

	noon := Luminosity(rng, runStart.Add(12*time.Hour), false)
	if noon < 60000 {
		t.Errorf("clear noon luminosity %v, want bright", noon)
	}

	wetNoon := Luminosity(rng, runStart.Add(12*time.Hour), true)
	if wetNoon > 56000 {
		t.Errorf("raining noon luminosity %v, want attenuated", wetNoon)
	}

	for i := 0; i < 100; i++ {
		if v := Luminosity(rng, runStart.Add(time.Duration(i)*17*time.Minute), i%2 == 0); v < 0 {
			t.Fatalf("luminosity %v below zero", v)
		}
	}
}

func TestSoilTemperatureIsDamped(t *testing.T) {
	rng := newRng()
	for i := 0; i < 100; i++ {
		v := SoilTemperature(rng, 20+rng.Float64()*12)
		if v < 20 || v > 30 {
			t.Fatalf("soil temperature %v outside [20, 30]", v)
		}
	}
}
