package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded invocation of the pipeline.
type Run struct {
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
	ImagePath       string          `json:"image_path"`
	DepthPath       string          `json:"depth_path"`
	Segmenter       string          `json:"segmenter"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	Segments        uint32          `json:"segments"`
	BackgroundCells int             `json:"background_cells"`
	SampleCount     int             `json:"sample_count"`
	LSAIterations   int             `json:"lsa_iterations,omitempty"`
	LSAConverged    bool            `json:"lsa_converged,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ParamsJSON      json.RawMessage `json:"params,omitempty"`
}

// RunStore provides persistence for pipeline runs.
type RunStore struct {
	db *sql.DB
}

// OpenRunStore opens (or creates) the database at path, applies pragmas
// and pending migrations.
func OpenRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	store, err := NewRunStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStore wraps an open database, migrating it to the latest schema.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	if err := MigrateUp(db, MigrationsFS()); err != nil {
		return nil, err
	}
	return &RunStore{db: db}, nil
}

// Close closes the underlying database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Insert stores a run. An empty RunID is replaced with a new UUID and a
// zero CreatedAt with the current time; both are written back to r.
func (s *RunStore) Insert(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var params interface{}
	if len(r.ParamsJSON) > 0 {
		params = string(r.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO seathru_runs (
				run_id, created_at_ns, image_path, depth_path, segmenter,
				width, height, segments, background_cells, sample_count,
				lsa_iterations, lsa_converged, duration_ms,
				error_kind, error_message, params_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.CreatedAt.UnixNano(), r.ImagePath, r.DepthPath, r.Segmenter,
			r.Width, r.Height, r.Segments, r.BackgroundCells, r.SampleCount,
			r.LSAIterations, r.LSAConverged, r.DurationMS,
			r.ErrorKind, r.ErrorMessage, params,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

const runColumns = `run_id, created_at_ns, image_path, depth_path, segmenter,
	width, height, segments, background_cells, sample_count,
	lsa_iterations, lsa_converged, duration_ms,
	error_kind, error_message, params_json`

// Get returns the run with the given id, or ErrRunNotFound.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM seathru_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// List returns up to limit runs, newest first. limit <= 0 returns all runs.
func (s *RunStore) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM seathru_runs ORDER BY created_at_ns DESC, run_id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM seathru_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var createdNS int64
	var params sql.NullString
	err := sc.Scan(
		&r.RunID, &createdNS, &r.ImagePath, &r.DepthPath, &r.Segmenter,
		&r.Width, &r.Height, &r.Segments, &r.BackgroundCells, &r.SampleCount,
		&r.LSAIterations, &r.LSAConverged, &r.DurationMS,
		&r.ErrorKind, &r.ErrorMessage, &params,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdNS)
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}

const (
	busyRetries  = 5
	busyBaseWait = 20 * time.Millisecond
)

// retryOnBusy runs fn, retrying with linear backoff while SQLite reports
// the database as busy or locked.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * busyBaseWait)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
