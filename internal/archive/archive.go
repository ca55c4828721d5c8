// Package archive persists delivered observations in sqlite and derives
// the supplementary aggregate fields used to augment outgoing records.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-observation.sql
var insertObservationSQL string

//go:embed sql/sum-observation.sql
var sumObservationSQL string

// aggregates lists the derived fields Augment can add to a record: each is
// a windowed sum over a stored observation.
var aggregates = []struct {
	field   string
	obs     string
	seconds int64
}{
	{"hourRain", "rain", 3600},
	{"rain24", "rain", 86400},
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the archive schema if it does not exist.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// InsertRecord stores every numeric observation of a record, keyed by the
// record timestamp. Re-inserting the same interval replaces its rows.
func (s *Store) InsertRecord(ctx context.Context, rec emoncms.Record) error {
	ts := rec.Time()
	system := rec.UnitSystem()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertObservationSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for k := range rec {
		if k == "dateTime" || k == "usUnits" {
			continue
		}
		v, ok := rec.Float(k)
		if !ok {
			continue
		}
		if _, err := stmt.ExecContext(ctx, ts, k, system, v); err != nil {
			return fmt.Errorf("insert %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// Augment adds windowed rain aggregates to a record when they are not
// already present. Sums only consider rows stored in the record's own unit
// system, so mixed-system history never pollutes an aggregate.
func (s *Store) Augment(ctx context.Context, rec emoncms.Record) error {
	ts := rec.Time()
	system := rec.UnitSystem()

	for _, agg := range aggregates {
		if _, present := rec[agg.field]; present {
			continue
		}
		var sum float64
		var n int
		err := s.db.QueryRowContext(ctx, sumObservationSQL,
			agg.obs, system, ts-agg.seconds, ts).Scan(&sum, &n)
		if err != nil {
			return fmt.Errorf("sum %s: %w", agg.obs, err)
		}
		if n > 0 {
			rec[agg.field] = sum
		}
	}
	return nil
}
