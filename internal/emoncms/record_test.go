package emoncms

import (
	"math"
	"testing"

	"github.com/matthewwall/weewx-emoncms/internal/units"
)

func TestRecordFloat(t *testing.T) {
	rec := Record{
		"float":   72.5,
		"int":     3,
		"int64":   int64(7),
		"numeric": "29.92",
		"empty":   "",
		"text":    "n/a",
		"null":    nil,
	}

	t.Run("coercible values", func(t *testing.T) {
		cases := map[string]float64{
			"float":   72.5,
			"int":     3,
			"int64":   7,
			"numeric": 29.92,
		}
		for key, want := range cases {
			got, ok := rec.Float(key)
			if !ok {
				t.Fatalf("Float(%q) ok = false; want true", key)
			}
			if got != want {
				t.Errorf("Float(%q) = %v; want %v", key, got, want)
			}
		}
	})

	t.Run("uncoercible values", func(t *testing.T) {
		for _, key := range []string{"empty", "text", "null", "missing"} {
			if _, ok := rec.Float(key); ok {
				t.Errorf("Float(%q) ok = true; want false", key)
			}
		}
	})
}

func TestRecordTimeAndUnitSystem(t *testing.T) {
	rec := Record{"dateTime": float64(1609459200), "usUnits": float64(1)}
	if got := rec.Time(); got != 1609459200 {
		t.Errorf("Time() = %d; want 1609459200", got)
	}
	if got := rec.UnitSystem(); got != units.US {
		t.Errorf("UnitSystem() = %d; want %d", got, units.US)
	}

	empty := Record{}
	if got := empty.Time(); got != 0 {
		t.Errorf("empty Time() = %d; want 0", got)
	}
}

func TestRecordConvertTo(t *testing.T) {
	rec := Record{
		"dateTime":  float64(1000),
		"usUnits":   float64(units.US),
		"outTemp":   32.0,
		"windSpeed": 10.0,
		"windDir":   270.0,
		"bogusObs":  5.0,
		"notNum":    "x",
	}

	got := rec.ConvertTo(units.Metric)

	if got.UnitSystem() != units.Metric {
		t.Errorf("UnitSystem() = %d; want %d", got.UnitSystem(), units.Metric)
	}
	if v, _ := got.Float("outTemp"); math.Abs(v-0) > 1e-9 {
		t.Errorf("outTemp = %v; want 0", v)
	}
	if v, _ := got.Float("windSpeed"); math.Abs(v-16.09344) > 1e-6 {
		t.Errorf("windSpeed = %v; want 16.09344", v)
	}
	// system-invariant and unknown keys pass through untouched
	if v, _ := got.Float("windDir"); v != 270 {
		t.Errorf("windDir = %v; want 270", v)
	}
	if v, _ := got.Float("bogusObs"); v != 5 {
		t.Errorf("bogusObs = %v; want 5", v)
	}
	if got["notNum"] != "x" {
		t.Errorf("notNum = %v; want x", got["notNum"])
	}

	// the source record is untouched
	if v, _ := rec.Float("outTemp"); v != 32 {
		t.Errorf("source outTemp = %v; want 32", v)
	}
}
