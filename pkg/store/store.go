// Package store persists batch QA results to a SQLite database so the
// reporting layer can query past runs without re-processing acquisitions.
// Only scalar metrics are stored; maps stay in memory.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"fmriqa/pkg/qa"
)

// Store wraps the results database.
type Store struct {
	db *sql.DB
}

// Open initializes the results database, creating the schema if needed.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening results database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS qa_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		tr REAL,
		ernst_factor REAL,
		nx INTEGER, ny INTEGER, nz INTEGER, nt INTEGER,
		isnr REAL,
		tsnr REAL,
		tsnr_per_unit_time REAL,
		mean_volume_std REAL,
		noise_value REAL,
		central_slice_index INTEGER,
		noise_source TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		detail TEXT,
		UNIQUE(run_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_qa_results_run ON qa_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_qa_results_path ON qa_results(path);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating results schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord inserts one dataset record under a batch run.
func (s *Store) SaveRecord(runID string, rec *qa.DatasetMetricRecord) error {
	insertSQL := `
	INSERT OR REPLACE INTO qa_results (
		run_id, path, tr, ernst_factor, nx, ny, nz, nt,
		isnr, tsnr, tsnr_per_unit_time, mean_volume_std, noise_value,
		central_slice_index, noise_source, status, reason, detail
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	noiseSource := ""
	if rec.Status == qa.StatusSuccess {
		noiseSource = rec.NoiseSource.String()
	}

	_, err := s.db.Exec(insertSQL,
		runID, rec.Path, rec.TR, rec.ErnstFactor,
		rec.Nx, rec.Ny, rec.Nz, rec.Nt,
		rec.ISNR, rec.TSNR, rec.TSNRPerUnitTime, rec.MeanVolumeStd, rec.NoiseValue,
		rec.CentralSliceIndex, noiseSource,
		string(rec.Status), string(rec.Reason), rec.Detail)
	if err != nil {
		return fmt.Errorf("error saving record for %s: %w", rec.Path, err)
	}
	return nil
}

// SaveBatch persists every record of a batch run.
func (s *Store) SaveBatch(summary *qa.BatchSummary, records []qa.DatasetMetricRecord) error {
	for i := range records {
		if err := s.SaveRecord(summary.RunID, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// RunTally counts stored successes and failures for a batch run.
func (s *Store) RunTally(runID string) (succeeded, failed int, err error) {
	rows, err := s.db.Query(
		"SELECT status, COUNT(*) FROM qa_results WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return 0, 0, fmt.Errorf("error querying run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, fmt.Errorf("error scanning tally: %w", err)
		}
		switch qa.Status(status) {
		case qa.StatusSuccess:
			succeeded = count
		case qa.StatusFailed:
			failed = count
		}
	}
	return succeeded, failed, rows.Err()
}
