// Package storage persists admitted priority-queue windows and
// controller mode transitions to an embedded sqlite database, giving
// the engine a queryable history of calibration windows for
// diagnostics beyond the plain append-only text logs.
//
// Grounded on the teacher's internal/db/migrate.go: golang-migrate's
// sqlite database driver works directly against a *sql.DB opened with
// modernc.org/sqlite's pure-Go "sqlite" driver (no cgo), with
// migrations embedded via the iofs source driver.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sqlite-backed connection holding calibration history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: iofs source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("storage: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// WindowRecord is a calibration window as persisted to the database.
type WindowRecord struct {
	ID              string
	Start, End      int
	Score           float64
	NumMeasurements int
	KLDivergence    float64
	Mean            []float64
	Covariance      [][]float64
	RankDeficient   bool
	CreatedAtUnixNanos int64
}

// InsertWindow persists one calibration window.
func (s *Store) InsertWindow(r WindowRecord) error {
	meanJSON, err := json.Marshal(r.Mean)
	if err != nil {
		return fmt.Errorf("storage: marshal mean: %w", err)
	}
	covJSON, err := json.Marshal(r.Covariance)
	if err != nil {
		return fmt.Errorf("storage: marshal covariance: %w", err)
	}
	rankDeficient := 0
	if r.RankDeficient {
		rankDeficient = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO calibration_windows
			(id, start_pose, end_pose, score, num_measurements, kl_divergence,
			 mean_json, covariance_json, rank_deficient, created_at_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			score=excluded.score,
			num_measurements=excluded.num_measurements,
			kl_divergence=excluded.kl_divergence,
			mean_json=excluded.mean_json,
			covariance_json=excluded.covariance_json,
			rank_deficient=excluded.rank_deficient
	`, r.ID, r.Start, r.End, r.Score, r.NumMeasurements, r.KLDivergence,
		string(meanJSON), string(covJSON), rankDeficient, r.CreatedAtUnixNanos)
	if err != nil {
		return fmt.Errorf("storage: insert window: %w", err)
	}
	return nil
}

// RecordTransition persists one controller state-machine transition.
func (s *Store) RecordTransition(keyframeID int, state string, unknownStartPose int, createdAtUnixNanos int64) error {
	_, err := s.db.Exec(`
		INSERT INTO controller_transitions (keyframe_id, state, unknown_start_pose, created_at_unix_nanos)
		VALUES (?, ?, ?, ?)
	`, keyframeID, state, unknownStartPose, createdAtUnixNanos)
	if err != nil {
		return fmt.Errorf("storage: insert transition: %w", err)
	}
	return nil
}

// RecentWindows returns the most recently inserted windows, newest
// first, up to limit.
func (s *Store) RecentWindows(limit int) ([]WindowRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, start_pose, end_pose, score, num_measurements, kl_divergence,
		       mean_json, covariance_json, rank_deficient, created_at_unix_nanos
		FROM calibration_windows
		ORDER BY created_at_unix_nanos DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query recent windows: %w", err)
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		var r WindowRecord
		var meanJSON, covJSON string
		var rankDeficient int
		if err := rows.Scan(&r.ID, &r.Start, &r.End, &r.Score, &r.NumMeasurements,
			&r.KLDivergence, &meanJSON, &covJSON, &rankDeficient, &r.CreatedAtUnixNanos); err != nil {
			return nil, fmt.Errorf("storage: scan window row: %w", err)
		}
		if err := json.Unmarshal([]byte(meanJSON), &r.Mean); err != nil {
			return nil, fmt.Errorf("storage: unmarshal mean: %w", err)
		}
		if err := json.Unmarshal([]byte(covJSON), &r.Covariance); err != nil {
			return nil, fmt.Errorf("storage: unmarshal covariance: %w", err)
		}
		r.RankDeficient = rankDeficient != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
