package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"econpanel/internal/model"
	"econpanel/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertObservations writes missing values as NULL.
func (s *Store) UpsertObservations(ctx context.Context, runID string, observations []model.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indicator_observations (
			provider, indicator, country_iso3, country_name, year,
			value, ingested_at, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, indicator, country_iso3, year)
		DO UPDATE SET
			country_name = excluded.country_name,
			value = excluded.value,
			ingested_at = excluded.ingested_at,
			run_id = excluded.run_id
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range observations {
		observation := observations[i]
		key := strings.ToUpper(observation.Key())
		if key == "" {
			continue
		}
		if observation.IngestedAt.IsZero() {
			observation.IngestedAt = now
		}
		var value any
		if observation.HasValue() && !math.IsInf(observation.Value, 0) {
			value = observation.Value
		}
		_, err = stmt.ExecContext(
			ctx,
			observation.Provider,
			observation.Indicator,
			key,
			observation.CountryName,
			observation.Year,
			value,
			observation.IngestedAt.UTC().Format(time.RFC3339),
			runID,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: upsert %s/%s/%d: %w", observation.Indicator, key, observation.Year, err)
		}
	}

	return tx.Commit()
}

func (s *Store) LoadObservations(ctx context.Context, query store.Query) ([]model.Observation, error) {
	sqlText := `
		SELECT provider, indicator, country_iso3, country_name, year, value, ingested_at
		FROM indicator_observations
		WHERE 1 = 1
	`
	args := []any{}
	if strings.TrimSpace(query.Provider) != "" {
		sqlText += " AND provider = ?"
		args = append(args, query.Provider)
	}
	if strings.TrimSpace(query.Indicator) != "" {
		sqlText += " AND indicator = ?"
		args = append(args, query.Indicator)
	}
	if len(query.Countries) > 0 {
		sqlText += " AND country_iso3 IN (" + placeholders(len(query.Countries)) + ")"
		for _, country := range query.Countries {
			args = append(args, strings.ToUpper(strings.TrimSpace(country)))
		}
	}
	if query.Start > 0 {
		sqlText += " AND year >= ?"
		args = append(args, query.Start)
	}
	if query.End > 0 {
		sqlText += " AND year <= ?"
		args = append(args, query.End)
	}
	sqlText += " ORDER BY indicator, country_iso3, year, provider"

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.Observation, 0)
	for rows.Next() {
		var observation model.Observation
		var value sql.NullFloat64
		var ingestedAt string
		if err := rows.Scan(
			&observation.Provider,
			&observation.Indicator,
			&observation.CountryISO3,
			&observation.CountryName,
			&observation.Year,
			&value,
			&ingestedAt,
		); err != nil {
			return nil, err
		}
		observation.Value = model.Missing()
		if value.Valid {
			observation.Value = value.Float64
		}
		if parsed, err := time.Parse(time.RFC3339, ingestedAt); err == nil {
			observation.IngestedAt = parsed
		}
		results = append(results, observation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) ListObservationKeys(ctx context.Context, provider, indicator string) ([]store.ObservationKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country_iso3, year
		FROM indicator_observations
		WHERE provider = ? AND indicator = ?
		ORDER BY country_iso3, year
	`, provider, indicator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]store.ObservationKey, 0)
	for rows.Next() {
		var key store.ObservationKey
		if err := rows.Scan(&key.CountryISO3, &key.Year); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) RecordRun(ctx context.Context, run store.Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("sqlite: run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collector_runs (
			run_id, command, started_at, finished_at, indicators, countries, observations
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			countries = excluded.countries,
			observations = excluded.observations
	`,
		run.ID,
		run.Command,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		strings.Join(run.Indicators, ","),
		run.Countries,
		run.Observations,
	)
	return err
}

func (s *Store) LastRun(ctx context.Context) (store.Run, bool, error) {
	var run store.Run
	var startedAt, finishedAt, indicators string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, command, started_at, finished_at, indicators, countries, observations
		FROM collector_runs
		ORDER BY finished_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.Command, &startedAt, &finishedAt, &indicators, &run.Countries, &run.Observations)
	if err == sql.ErrNoRows {
		return store.Run{}, false, nil
	}
	if err != nil {
		return store.Run{}, false, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	run.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
	if indicators != "" {
		run.Indicators = strings.Split(indicators, ",")
	}
	return run, true, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS indicator_observations (
			provider TEXT NOT NULL,
			indicator TEXT NOT NULL,
			country_iso3 TEXT NOT NULL,
			country_name TEXT NOT NULL DEFAULT '',
			year INTEGER NOT NULL,
			value REAL,
			ingested_at TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (provider, indicator, country_iso3, year)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_indicator_observations_indicator_year
			ON indicator_observations (indicator, year);`,
		`CREATE TABLE IF NOT EXISTS collector_runs (
			run_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			indicators TEXT NOT NULL,
			countries INTEGER NOT NULL,
			observations INTEGER NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func placeholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimRight(strings.Repeat("?,", count), ",")
}

var _ store.Store = (*Store)(nil)
