package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeFormat = "2006-01-02 15:04:05"

// Store manages sync state in SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite-backed store under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "sync.db")
	// busy_timeout keeps concurrent table workers from failing on lock
	// contention when they persist markers.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		triggered_by TEXT NOT NULL DEFAULT 'manual',
		tables_total INTEGER DEFAULT 0,
		tables_synced INTEGER DEFAULT 0,
		tables_failed INTEGER DEFAULT 0,
		rows_synced INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS markers (
		instance TEXT NOT NULL,
		db_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (instance, db_name, table_name)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a sync run.
func (s *Store) CreateRun(run *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, triggered_by, tables_total)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().Format(sqliteTimeFormat), StatusRunning, run.TriggeredBy, run.TablesTotal)
	return err
}

// CompleteRun records the final status and counters of a run.
func (s *Store) CompleteRun(run *Run) error {
	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC()
	}
	_, err := s.db.Exec(`
		UPDATE runs SET
			status = ?,
			completed_at = ?,
			tables_total = ?,
			tables_synced = ?,
			tables_failed = ?,
			rows_synced = ?,
			error = ?
		WHERE id = ?
	`, run.Status, completed.Format(sqliteTimeFormat),
		run.TablesTotal, run.TablesSynced, run.TablesFailed, run.RowsSynced,
		run.Error, run.ID)
	return err
}

// GetRun returns a run by ID, or nil if not found.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, triggered_by,
		       tables_total, tables_synced, tables_failed, rows_synced, error
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, status, triggered_by,
		       tables_total, tables_synced, tables_failed, rows_synced, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetLastIncompleteRun returns the most recent run still marked running.
func (s *Store) GetLastIncompleteRun() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, triggered_by,
		       tables_total, tables_synced, tables_failed, rows_synced, error
		FROM runs WHERE status = ?
		ORDER BY started_at DESC LIMIT 1
	`, StatusRunning)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	r, err := scanRunRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanRunRow(row rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt, errMsg sql.NullString
	err := row.Scan(&r.ID, &startedAt, &completedAt, &r.Status, &r.TriggeredBy,
		&r.TablesTotal, &r.TablesSynced, &r.TablesFailed, &r.RowsSynced, &errMsg)
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTimeFormat, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(sqliteTimeFormat, completedAt.String)
		r.CompletedAt = &t
	}
	r.Error = errMsg.String
	return &r, nil
}

// GetMarker returns the watermark for a table, or nil if none exists.
func (s *Store) GetMarker(instance, database, table string) (*Marker, error) {
	var m Marker
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT instance, db_name, table_name, strategy, kind, value, updated_at
		FROM markers
		WHERE instance = ? AND db_name = ? AND table_name = ?
	`, instance, database, table).Scan(&m.Instance, &m.Database, &m.Table, &m.Strategy, &m.Kind, &m.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.UpdatedAt, _ = time.Parse(sqliteTimeFormat, updatedAt)
	return &m, nil
}

// SetMarker upserts the watermark for a table.
func (s *Store) SetMarker(m *Marker) error {
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO markers (instance, db_name, table_name, strategy, kind, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance, db_name, table_name) DO UPDATE SET
			strategy = excluded.strategy,
			kind = excluded.kind,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, m.Instance, m.Database, m.Table, m.Strategy, m.Kind, m.Value, updated.UTC().Format(sqliteTimeFormat))
	return err
}

// ClearMarker removes a table's watermark, forcing a full re-read.
func (s *Store) ClearMarker(instance, database, table string) error {
	_, err := s.db.Exec(`
		DELETE FROM markers
		WHERE instance = ? AND db_name = ? AND table_name = ?
	`, instance, database, table)
	return err
}

// ListMarkers returns watermarks, optionally filtered by instance and
// database. Empty strings match everything.
func (s *Store) ListMarkers(instance, database string) ([]Marker, error) {
	rows, err := s.db.Query(`
		SELECT instance, db_name, table_name, strategy, kind, value, updated_at
		FROM markers
		WHERE (? = '' OR instance = ?) AND (? = '' OR db_name = ?)
		ORDER BY instance, db_name, table_name
	`, instance, instance, database, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		var m Marker
		var updatedAt string
		if err := rows.Scan(&m.Instance, &m.Database, &m.Table, &m.Strategy, &m.Kind, &m.Value, &updatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt, _ = time.Parse(sqliteTimeFormat, updatedAt)
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// CleanupOldRuns deletes completed runs older than the retention window.
// Running runs are never deleted.
func (s *Store) CleanupOldRuns(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(sqliteTimeFormat)
	result, err := s.db.Exec(`
		DELETE FROM runs
		WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure Store implements Backend
var _ Backend = (*Store)(nil)
