// Package store provides persistent storage for ingest runs and the
// single-cell data they load using SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/mo"
	_ "modernc.org/sqlite"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// RunStatus represents the current state of an ingest run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether s is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunParams contains the parameters of an ingest run.
type RunParams struct {
	DatasetID string `json:"dataset_id"`
	// QuantitationType selects the quantitation type by name; the only one
	// available is used when empty.
	QuantitationType string `json:"quantitation_type,omitempty"`

	NewName                     string           `json:"new_name,omitempty"`
	NewDescription              string           `json:"new_description,omitempty"`
	NewType                     singlecell.Type  `json:"new_type,omitempty"`
	NewScale                    singlecell.Scale `json:"new_scale,omitempty"`
	PreferSinglePrecision       bool             `json:"prefer_single_precision,omitempty"`
	MarkAsPreferred             bool             `json:"mark_as_preferred,omitempty"`
	MarkAsRecomputedFromRawData bool             `json:"mark_as_recomputed_from_raw_data,omitempty"`

	PreferredCellTypeAssignment string `json:"preferred_cell_type_assignment,omitempty"`
	// MarkSingleCellTypeAssignmentAsPreferred marks the only assignment as
	// preferred when no name is given.
	MarkSingleCellTypeAssignmentAsPreferred bool `json:"mark_single_cell_type_assignment_as_preferred,omitempty"`
	// ElementMappingFile is a TSV of gene to design element; every gene maps
	// to itself when empty.
	ElementMappingFile string `json:"element_mapping_file,omitempty"`
}

// RunProgress represents the progress of a run.
type RunProgress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Run is an ingest of one quantitation type of a dataset.
type Run struct {
	ID               string                       `json:"run_id"`
	DatasetID        string                       `json:"dataset_id"`
	Status           RunStatus                    `json:"status"`
	Params           RunParams                    `json:"params"`
	Progress         RunProgress                  `json:"progress"`
	QuantitationType *singlecell.QuantitationType `json:"quantitation_type,omitempty"`
	Cells            int                          `json:"cells"`
	Vectors          int                          `json:"vectors"`
	CreatedAt        time.Time                    `json:"created_at"`
	StartedAt        *time.Time                   `json:"started_at,omitempty"`
	FinishedAt       *time.Time                   `json:"finished_at,omitempty"`
	Error            string                       `json:"error,omitempty"`
}

// StoredVector is a persisted expression vector. Indices are positions in
// the run's cell dimension.
type StoredVector struct {
	Element           string    `json:"element"`
	Gene              string    `json:"gene,omitempty"`
	OriginalElementID string    `json:"original_element_id"`
	Data              []float64 `json:"data"`
	Indices           []int     `json:"indices"`
}

// VectorSummary lists a vector without its payload.
type VectorSummary struct {
	Element           string `json:"element"`
	Gene              string `json:"gene,omitempty"`
	OriginalElementID string `json:"original_element_id"`
	NNZ               int    `json:"nnz"`
}

// Store provides persistent storage for ingest runs using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	codec *blobCodec
}

// NewStore creates a new SQLite-based store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	codec, err := newBlobCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, codec: codec}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.codec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		done INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		qt_json TEXT DEFAULT '',
		cells INTEGER DEFAULT 0,
		vectors INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS dimensions (
		run_id TEXT PRIMARY KEY,
		samples_json TEXT NOT NULL,
		offsets_json TEXT NOT NULL,
		cells INTEGER NOT NULL,
		cell_ids BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS characteristics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		cell_types INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		protocol TEXT DEFAULT '',
		preferred INTEGER DEFAULT 0,
		values_json TEXT NOT NULL,
		cells INTEGER NOT NULL,
		codes BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_characteristics_run ON characteristics(run_id);

	CREATE TABLE IF NOT EXISTS sequencing (
		run_id TEXT NOT NULL,
		sample_id TEXT NOT NULL,
		read_length INTEGER,
		read_count INTEGER,
		is_paired INTEGER,
		PRIMARY KEY (run_id, sample_id)
	);

	CREATE TABLE IF NOT EXISTS vectors (
		run_id TEXT NOT NULL,
		element TEXT NOT NULL,
		gene TEXT DEFAULT '',
		original_id TEXT NOT NULL,
		nnz INTEGER NOT NULL,
		data BLOB NOT NULL,
		indices BLOB NOT NULL,
		PRIMARY KEY (run_id, element)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun creates a new run record.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, dataset_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Params.DatasetID,
		string(run.Status),
		string(paramsJSON),
		run.Progress.Phase,
		run.Progress.Done,
		run.Progress.Total,
		run.Error,
		run.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

const runColumns = `run_id, dataset_id, status, params_json, phase, done, total, qt_json, cells, vectors, error, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var paramsJSON, qtJSON, createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&run.ID,
		&run.DatasetID,
		&run.Status,
		&paramsJSON,
		&run.Progress.Phase,
		&run.Progress.Done,
		&run.Progress.Total,
		&qtJSON,
		&run.Cells,
		&run.Vectors,
		&run.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if qtJSON != "" {
		var qt singlecell.QuantitationType
		if err := json.Unmarshal([]byte(qtJSON), &qt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quantitation type: %w", err)
		}
		run.QuantitationType = &qt
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		run.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (s *Store) GetRun(runID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// UpdateRunStatus updates the run status and error message.
func (s *Store) UpdateRunStatus(runID string, status RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE run_id = ?
	`, string(status), errMsg, finishedAt, runID)
	return err
}

// ErrNotQueued is returned when starting a run that is no longer queued.
var ErrNotQueued = errors.New("run is not queued")

// UpdateRunStarted marks a queued run as running with start time.
func (s *Store) UpdateRunStarted(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	result, err := s.db.Exec(`
		UPDATE runs SET status = ?, started_at = ?
		WHERE run_id = ? AND status = ?
	`, string(RunStatusRunning), now, runID, string(RunStatusQueued))
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrNotQueued)
	}
	return nil
}

// UpdateRunProgress updates the progress fields.
func (s *Store) UpdateRunProgress(runID string, phase string, done, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE runs SET phase = ?, done = ?, total = ?
		WHERE run_id = ?
	`, phase, done, total, runID)
	return err
}

// UpdateRunSummary records the quantitation type loaded and the counts.
func (s *Store) UpdateRunSummary(runID string, qt singlecell.QuantitationType, cells, vectors int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qtJSON, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("failed to marshal quantitation type: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE runs SET qt_json = ?, cells = ?, vectors = ?
		WHERE run_id = ?
	`, string(qtJSON), cells, vectors, runID)
	return err
}

// ListRuns returns the runs of a dataset, or every run when datasetID is
// empty, newest first.
func (s *Store) ListRuns(datasetID string) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if datasetID != "" {
		query += ` WHERE dataset_id = ?`
		args = append(args, datasetID)
	}
	rows, err := s.db.Query(query+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListQueuedRuns returns all queued runs (for restart recovery).
func (s *Store) ListQueuedRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs WHERE status = ?
		ORDER BY created_at ASC
	`, string(RunStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunningAsFailed marks all running runs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), errMsg, now, string(RunStatusRunning))
	return err
}

var dataTables = []string{"vectors", "characteristics", "sequencing", "dimensions"}

// DeleteExpiredRuns deletes finished runs older than retentionDays with
// their data.
func (s *Store) DeleteExpiredRuns(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, table := range dataTables {
		_, err := tx.Exec(`
			DELETE FROM `+table+` WHERE run_id IN (
				SELECT run_id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?
			)
		`, cutoff)
		if err != nil {
			return 0, err
		}
	}
	result, err := tx.Exec(`DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteRun deletes a run and its data.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteData(tx, runID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE run_id = ?", runID); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearRunData removes what a run loaded so far, keeping the run record.
func (s *Store) ClearRunData(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteData(tx, runID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteData(tx *sql.Tx, runID string) error {
	for _, table := range dataTables {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return err
		}
	}
	return nil
}

// PutDimension stores the cell dimension of a run.
func (s *Store) PutDimension(runID string, dim *singlecell.CellDimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samplesJSON, err := json.Marshal(dim.Samples)
	if err != nil {
		return err
	}
	offsetsJSON, err := json.Marshal(dim.Offsets)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO dimensions (run_id, samples_json, offsets_json, cells, cell_ids)
		VALUES (?, ?, ?, ?, ?)
	`, runID, string(samplesJSON), string(offsetsJSON), len(dim.CellIDs), s.codec.idents(dim.CellIDs))
	return err
}

// GetDimension returns the cell dimension of a run, or nil when none was
// stored.
func (s *Store) GetDimension(runID string) (*singlecell.CellDimension, error) {
	var samplesJSON, offsetsJSON string
	var cells int
	var blob []byte
	err := s.db.QueryRow(`
		SELECT samples_json, offsets_json, cells, cell_ids FROM dimensions WHERE run_id = ?
	`, runID).Scan(&samplesJSON, &offsetsJSON, &cells, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dim := &singlecell.CellDimension{}
	if err := json.Unmarshal([]byte(samplesJSON), &dim.Samples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal samples: %w", err)
	}
	if err := json.Unmarshal([]byte(offsetsJSON), &dim.Offsets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal offsets: %w", err)
	}
	if dim.CellIDs, err = s.codec.decodeIdents(blob, cells); err != nil {
		return nil, fmt.Errorf("run %s cell identifiers: %w", runID, err)
	}
	return dim, nil
}

// PutCellTypeAssignments stores the cell type assignments of a run.
func (s *Store) PutCellTypeAssignments(runID string, assignments []*singlecell.CellTypeAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range assignments {
		if err := s.insertCharacteristics(tx, runID, true, &a.CellLevelCharacteristics, a.Protocol, a.Preferred); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PutCharacteristics stores the other cell-level characteristics of a run.
func (s *Store) PutCharacteristics(runID string, clcs []*singlecell.CellLevelCharacteristics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, c := range clcs {
		if err := s.insertCharacteristics(tx, runID, false, c, "", false); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) insertCharacteristics(tx *sql.Tx, runID string, cellTypes bool, c *singlecell.CellLevelCharacteristics, protocol string, preferred bool) error {
	valuesJSON, err := json.Marshal(c.Characteristics)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO characteristics (run_id, cell_types, name, description, protocol, preferred, values_json, cells, codes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, cellTypes, c.Name, c.Description, protocol, preferred, string(valuesJSON), len(c.Indices), s.codec.indices(c.Indices))
	return err
}

// GetCellTypeAssignments returns the cell type assignments of a run.
func (s *Store) GetCellTypeAssignments(runID string) ([]*singlecell.CellTypeAssignment, error) {
	rows, err := s.db.Query(`
		SELECT name, description, protocol, preferred, values_json, cells, codes
		FROM characteristics WHERE run_id = ? AND cell_types = 1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*singlecell.CellTypeAssignment
	for rows.Next() {
		a := &singlecell.CellTypeAssignment{}
		if err := s.scanCharacteristics(rows, &a.CellLevelCharacteristics, &a.Protocol, &a.Preferred); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetCharacteristics returns the other cell-level characteristics of a run.
func (s *Store) GetCharacteristics(runID string) ([]*singlecell.CellLevelCharacteristics, error) {
	rows, err := s.db.Query(`
		SELECT name, description, protocol, preferred, values_json, cells, codes
		FROM characteristics WHERE run_id = ? AND cell_types = 0 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*singlecell.CellLevelCharacteristics
	for rows.Next() {
		c := &singlecell.CellLevelCharacteristics{}
		var protocol string
		var preferred bool
		if err := s.scanCharacteristics(rows, c, &protocol, &preferred); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) scanCharacteristics(rows *sql.Rows, c *singlecell.CellLevelCharacteristics, protocol *string, preferred *bool) error {
	var valuesJSON string
	var cells int
	var codes []byte
	if err := rows.Scan(&c.Name, &c.Description, protocol, preferred, &valuesJSON, &cells, &codes); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(valuesJSON), &c.Characteristics); err != nil {
		return fmt.Errorf("failed to unmarshal characteristics %s: %w", c.Name, err)
	}
	var err error
	if c.Indices, err = s.codec.decodeIndices(codes, cells); err != nil {
		return fmt.Errorf("characteristics %s: %w", c.Name, err)
	}
	return nil
}

// PutSequencingMetadata stores the sequencing metadata of a run by sample.
func (s *Store) PutSequencingMetadata(runID string, meta map[string]singlecell.SequencingMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for sampleID, m := range meta {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO sequencing (run_id, sample_id, read_length, read_count, is_paired)
			VALUES (?, ?, ?, ?, ?)
		`, runID, sampleID, nullInt(m.ReadLength), nullInt(m.ReadCount), nullBool(m.IsPaired))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSequencingMetadata returns the sequencing metadata of a run by sample.
func (s *Store) GetSequencingMetadata(runID string) (map[string]singlecell.SequencingMetadata, error) {
	rows, err := s.db.Query(`
		SELECT sample_id, read_length, read_count, is_paired FROM sequencing WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]singlecell.SequencingMetadata)
	for rows.Next() {
		var sampleID string
		var length, count sql.NullInt64
		var paired sql.NullBool
		if err := rows.Scan(&sampleID, &length, &count, &paired); err != nil {
			return nil, err
		}
		out[sampleID] = singlecell.SequencingMetadata{
			ReadLength: optionInt(length),
			ReadCount:  optionInt(count),
			IsPaired:   optionBool(paired),
		}
	}
	return out, rows.Err()
}

func nullInt(o mo.Option[int64]) sql.NullInt64 {
	v, ok := o.Get()
	return sql.NullInt64{Int64: v, Valid: ok}
}

func nullBool(o mo.Option[bool]) sql.NullBool {
	v, ok := o.Get()
	return sql.NullBool{Bool: v, Valid: ok}
}

func optionInt(n sql.NullInt64) mo.Option[int64] {
	if !n.Valid {
		return mo.None[int64]()
	}
	return mo.Some(n.Int64)
}

func optionBool(n sql.NullBool) mo.Option[bool] {
	if !n.Valid {
		return mo.None[bool]()
	}
	return mo.Some(n.Bool)
}

// InsertVectors inserts vectors in a batch transaction.
func (s *Store) InsertVectors(runID string, vectors []*singlecell.ExpressionVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO vectors (run_id, element, gene, original_id, nnz, data, indices)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range vectors {
		_, err := stmt.Exec(
			runID, v.DesignElement.Name, v.DesignElement.Gene, v.OriginalElementID,
			len(v.Data), s.codec.floats(v.Data), s.codec.indices(v.Indices),
		)
		if err != nil {
			return fmt.Errorf("failed to insert vector %s: %w", v.DesignElement.Name, err)
		}
	}

	return tx.Commit()
}

// GetVector returns the vector of element in a run, or nil when absent.
func (s *Store) GetVector(runID, element string) (*StoredVector, error) {
	var v StoredVector
	var nnz int
	var data, indices []byte
	err := s.db.QueryRow(`
		SELECT element, gene, original_id, nnz, data, indices FROM vectors WHERE run_id = ? AND element = ?
	`, runID, element).Scan(&v.Element, &v.Gene, &v.OriginalElementID, &nnz, &data, &indices)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.Data, err = s.codec.decodeFloats(data, nnz); err != nil {
		return nil, fmt.Errorf("vector %s: %w", element, err)
	}
	if v.Indices, err = s.codec.decodeIndices(indices, nnz); err != nil {
		return nil, fmt.Errorf("vector %s: %w", element, err)
	}
	return &v, nil
}

// ListVectors lists the vectors of a run by element name with pagination.
func (s *Store) ListVectors(runID string, offset, limit int) ([]*VectorSummary, int, error) {
	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vectors WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT element, gene, original_id, nnz
		FROM vectors
		WHERE run_id = ?
		ORDER BY element
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*VectorSummary
	for rows.Next() {
		var v VectorSummary
		if err := rows.Scan(&v.Element, &v.Gene, &v.OriginalElementID, &v.NNZ); err != nil {
			return nil, 0, err
		}
		out = append(out, &v)
	}
	return out, total, rows.Err()
}
