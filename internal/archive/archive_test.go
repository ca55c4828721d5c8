package archive

import (
	"context"
	"database/sql"
	"math"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
	"github.com/matthewwall/weewx-emoncms/internal/units"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() err = %v; want nil", err)
	}
	return NewStore(db)
}

func record(ts int64, obs map[string]any) emoncms.Record {
	rec := emoncms.Record{"dateTime": float64(ts), "usUnits": float64(units.US)}
	for k, v := range obs {
		rec[k] = v
	}
	return rec
}

func TestInsertRecordSkipsNonNumericFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record(1000, map[string]any{"outTemp": 72.5, "rxCheck": "n/a"})
	if err := s.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("InsertRecord() err = %v; want nil", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM archive`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("stored rows = %d; want 1 (outTemp only)", n)
	}
}

func TestInsertRecordReplacesInterval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertRecord(ctx, record(1000, map[string]any{"outTemp": 72.5})); err != nil {
		t.Fatalf("InsertRecord() err = %v", err)
	}
	if err := s.InsertRecord(ctx, record(1000, map[string]any{"outTemp": 73.0})); err != nil {
		t.Fatalf("InsertRecord() err = %v", err)
	}

	var v float64
	if err := s.db.QueryRow(`SELECT value FROM archive WHERE obs = 'outTemp'`).Scan(&v); err != nil {
		t.Fatalf("select: %v", err)
	}
	if v != 73.0 {
		t.Errorf("outTemp = %v; want 73 (replaced)", v)
	}
}

func TestAugmentAddsRainAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// three intervals of rain inside the hour window, one outside it
	base := int64(100000)
	for i, amount := range []float64{0.01, 0.02, 0.03} {
		ts := base - int64(600*(i+1)) // 10, 20, 30 minutes back
		if err := s.InsertRecord(ctx, record(ts, map[string]any{"rain": amount})); err != nil {
			t.Fatalf("InsertRecord() err = %v", err)
		}
	}
	if err := s.InsertRecord(ctx, record(base-7200, map[string]any{"rain": 1.0})); err != nil {
		t.Fatalf("InsertRecord() err = %v", err)
	}

	rec := record(base, map[string]any{"rain": 0.0})
	if err := s.Augment(ctx, rec); err != nil {
		t.Fatalf("Augment() err = %v; want nil", err)
	}

	hourRain, ok := rec.Float("hourRain")
	if !ok {
		t.Fatal("hourRain missing after Augment()")
	}
	if math.Abs(hourRain-0.06) > 1e-9 {
		t.Errorf("hourRain = %v; want 0.06", hourRain)
	}

	rain24, ok := rec.Float("rain24")
	if !ok {
		t.Fatal("rain24 missing after Augment()")
	}
	if math.Abs(rain24-1.06) > 1e-9 {
		t.Errorf("rain24 = %v; want 1.06", rain24)
	}
}

func TestAugmentKeepsExistingFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertRecord(ctx, record(99500, map[string]any{"rain": 0.25})); err != nil {
		t.Fatalf("InsertRecord() err = %v", err)
	}

	rec := record(100000, map[string]any{"hourRain": 9.9})
	if err := s.Augment(ctx, rec); err != nil {
		t.Fatalf("Augment() err = %v; want nil", err)
	}

	if v, _ := rec.Float("hourRain"); v != 9.9 {
		t.Errorf("hourRain = %v; want 9.9 (station value wins)", v)
	}
}

func TestAugmentIgnoresOtherUnitSystems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	metric := emoncms.Record{
		"dateTime": float64(99500),
		"usUnits":  float64(units.Metric),
		"rain":     0.5,
	}
	if err := s.InsertRecord(ctx, metric); err != nil {
		t.Fatalf("InsertRecord() err = %v", err)
	}

	rec := record(100000, nil)
	if err := s.Augment(ctx, rec); err != nil {
		t.Fatalf("Augment() err = %v; want nil", err)
	}

	if _, ok := rec["hourRain"]; ok {
		t.Error("hourRain present; want absent (no rows in the record's unit system)")
	}
}
