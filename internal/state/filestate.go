package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore implements Backend using a single YAML file.
// Designed for cron and Airflow environments where SQLite is
// impractical. It keeps only the most recent run, but markers persist
// across runs like the SQLite backend.
type FileStore struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

type fileStateData struct {
	LastRun *fileRun              `yaml:"last_run,omitempty"`
	Markers map[string]fileMarker `yaml:"markers"`
}

type fileRun struct {
	ID           string     `yaml:"id"`
	StartedAt    time.Time  `yaml:"started_at"`
	CompletedAt  *time.Time `yaml:"completed_at,omitempty"`
	Status       string     `yaml:"status"`
	TriggeredBy  string     `yaml:"triggered_by,omitempty"`
	TablesTotal  int        `yaml:"tables_total,omitempty"`
	TablesSynced int        `yaml:"tables_synced,omitempty"`
	TablesFailed int        `yaml:"tables_failed,omitempty"`
	RowsSynced   int64      `yaml:"rows_synced,omitempty"`
	Error        string     `yaml:"error,omitempty"`
}

type fileMarker struct {
	Strategy  string    `yaml:"strategy"`
	Kind      string    `yaml:"kind"`
	Value     string    `yaml:"value"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// NewFileStore creates a file-based store under dataDir, loading
// existing state if the file exists.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	fs := &FileStore{
		path: filepath.Join(dataDir, "sync-state.yaml"),
		state: &fileStateData{
			Markers: make(map[string]fileMarker),
		},
	}

	if _, err := os.Stat(fs.path); err == nil {
		data, err := os.ReadFile(fs.path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if fs.state.Markers == nil {
			fs.state.Markers = make(map[string]fileMarker)
		}
	}

	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileStore) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func markerKey(instance, database, table string) string {
	return instance + "/" + database + "/" + table
}

func splitMarkerKey(key string) (instance, database, table string) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return key, "", ""
	}
	return parts[0], parts[1], parts[2]
}

func sortMarkers(markers []Marker) {
	sort.Slice(markers, func(i, j int) bool {
		a, b := &markers[i], &markers[j]
		if a.Instance != b.Instance {
			return a.Instance < b.Instance
		}
		if a.Database != b.Database {
			return a.Database < b.Database
		}
		return a.Table < b.Table
	})
}

// CreateRun records the start of a sync run, replacing any previous run.
func (fs *FileStore) CreateRun(run *Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.state.LastRun = &fileRun{
		ID:          run.ID,
		StartedAt:   run.StartedAt,
		Status:      StatusRunning,
		TriggeredBy: run.TriggeredBy,
		TablesTotal: run.TablesTotal,
	}
	return fs.save()
}

// CompleteRun records the final status of the current run.
func (fs *FileStore) CompleteRun(run *Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.LastRun == nil || fs.state.LastRun.ID != run.ID {
		return fmt.Errorf("run not found: %s", run.ID)
	}

	completed := time.Now()
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	lr := fs.state.LastRun
	lr.Status = run.Status
	lr.CompletedAt = &completed
	lr.TablesTotal = run.TablesTotal
	lr.TablesSynced = run.TablesSynced
	lr.TablesFailed = run.TablesFailed
	lr.RowsSynced = run.RowsSynced
	lr.Error = run.Error
	return fs.save()
}

func (fr *fileRun) toRun() *Run {
	return &Run{
		ID:           fr.ID,
		StartedAt:    fr.StartedAt,
		CompletedAt:  fr.CompletedAt,
		Status:       fr.Status,
		TriggeredBy:  fr.TriggeredBy,
		TablesTotal:  fr.TablesTotal,
		TablesSynced: fr.TablesSynced,
		TablesFailed: fr.TablesFailed,
		RowsSynced:   fr.RowsSynced,
		Error:        fr.Error,
	}
}

// GetRun returns the run if it matches the stored one.
func (fs *FileStore) GetRun(id string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.LastRun != nil && fs.state.LastRun.ID == id {
		return fs.state.LastRun.toRun(), nil
	}
	return nil, nil
}

// ListRuns returns the single stored run, if any.
func (fs *FileStore) ListRuns(limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.LastRun == nil {
		return nil, nil
	}
	return []Run{*fs.state.LastRun.toRun()}, nil
}

// GetLastIncompleteRun returns the stored run if it is still running.
func (fs *FileStore) GetLastIncompleteRun() (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.LastRun != nil && fs.state.LastRun.Status == StatusRunning {
		return fs.state.LastRun.toRun(), nil
	}
	return nil, nil
}

// GetMarker returns the watermark for a table, or nil if none exists.
func (fs *FileStore) GetMarker(instance, database, table string) (*Marker, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	fm, ok := fs.state.Markers[markerKey(instance, database, table)]
	if !ok {
		return nil, nil
	}
	return &Marker{
		Instance:  instance,
		Database:  database,
		Table:     table,
		Strategy:  fm.Strategy,
		Kind:      fm.Kind,
		Value:     fm.Value,
		UpdatedAt: fm.UpdatedAt,
	}, nil
}

// SetMarker upserts the watermark for a table.
func (fs *FileStore) SetMarker(m *Marker) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	fs.state.Markers[markerKey(m.Instance, m.Database, m.Table)] = fileMarker{
		Strategy:  m.Strategy,
		Kind:      m.Kind,
		Value:     m.Value,
		UpdatedAt: updated,
	}
	return fs.save()
}

// ClearMarker removes a table's watermark.
func (fs *FileStore) ClearMarker(instance, database, table string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.state.Markers, markerKey(instance, database, table))
	return fs.save()
}

// ListMarkers returns watermarks, optionally filtered by instance and
// database. Empty strings match everything.
func (fs *FileStore) ListMarkers(instance, database string) ([]Marker, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var markers []Marker
	for key, fm := range fs.state.Markers {
		inst, db, table := splitMarkerKey(key)
		if instance != "" && inst != instance {
			continue
		}
		if database != "" && db != database {
			continue
		}
		markers = append(markers, Marker{
			Instance:  inst,
			Database:  db,
			Table:     table,
			Strategy:  fm.Strategy,
			Kind:      fm.Kind,
			Value:     fm.Value,
			UpdatedAt: fm.UpdatedAt,
		})
	}
	sortMarkers(markers)
	return markers, nil
}

// Close is a no-op for file state.
func (fs *FileStore) Close() error {
	return nil
}

// Path returns the state file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Ensure FileStore implements Backend
var _ Backend = (*FileStore)(nil)
