// Package runstore persists a manifest of postprocess runs so reruns can
// be audited and compared.
package runstore

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// schema.sql defines the postprocess run manifest table.
//
//go:embed schema.sql
var schemaSQL string

// Run records one pipeline invocation over one scene.
type Run struct {
	RunID         string   `json:"run_id"`
	Scene         string   `json:"scene"`
	Multi         bool     `json:"multi"`
	Sensors       []string `json:"sensors"`
	FramesWritten int      `json:"frames_written"`
	Warnings      []string `json:"warnings,omitempty"`
	StartedAtNs   int64    `json:"started_at_ns"`
	CompletedAtNs *int64   `json:"completed_at_ns,omitempty"`
}

// Store persists runs in a sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the manifest database at path. Callers must
// blank-import a database/sql driver registered under "sqlite".
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes a run record. A missing RunID gets a fresh UUID and a
// missing StartedAtNs the current time.
func (s *Store) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtNs == 0 {
		run.StartedAtNs = time.Now().UnixNano()
	}
	sensorsJSON, err := json.Marshal(run.Sensors)
	if err != nil {
		return fmt.Errorf("encode sensors: %w", err)
	}
	var warningsJSON any
	if len(run.Warnings) > 0 {
		raw, err := json.Marshal(run.Warnings)
		if err != nil {
			return fmt.Errorf("encode warnings: %w", err)
		}
		warningsJSON = string(raw)
	}

	query := `
		INSERT INTO postprocess_runs (
			run_id, scene, multi, sensors, frames_written,
			warnings, started_at_ns, completed_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		run.RunID,
		run.Scene,
		boolInt(run.Multi),
		string(sensorsJSON),
		run.FramesWritten,
		warningsJSON,
		run.StartedAtNs,
		nullInt64(run.CompletedAtNs),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get retrieves one run by ID.
func (s *Store) Get(runID string) (*Run, error) {
	query := `
		SELECT run_id, scene, multi, sensors, frames_written,
		       warnings, started_at_ns, completed_at_ns
		FROM postprocess_runs
		WHERE run_id = ?
	`
	run, err := scanRun(s.db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListByScene returns a scene's runs, most recent first.
func (s *Store) ListByScene(sceneName string) ([]*Run, error) {
	query := `
		SELECT run_id, scene, multi, sensors, frames_written,
		       warnings, started_at_ns, completed_at_ns
		FROM postprocess_runs
		WHERE scene = ?
		ORDER BY started_at_ns DESC
	`
	rows, err := s.db.Query(query, sceneName)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var multi int
	var sensorsJSON string
	var warningsJSON sql.NullString
	var completedAtNs sql.NullInt64

	err := row.Scan(
		&run.RunID,
		&run.Scene,
		&multi,
		&sensorsJSON,
		&run.FramesWritten,
		&warningsJSON,
		&run.StartedAtNs,
		&completedAtNs,
	)
	if err != nil {
		return nil, err
	}
	run.Multi = multi != 0
	if err := json.Unmarshal([]byte(sensorsJSON), &run.Sensors); err != nil {
		return nil, fmt.Errorf("decode sensors: %w", err)
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &run.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}
	if completedAtNs.Valid {
		v := completedAtNs.Int64
		run.CompletedAtNs = &v
	}
	return &run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
