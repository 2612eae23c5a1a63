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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"widgetrt/internal/logging"
)

// SQLiteStore persists instance records in a SQLite database.
//
// Properties are kept as a JSON object in one column; flags are columns so
// they can be queried without decoding the bag.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Opening property store at %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Property store ready (schema v%d)", GetSchemaVersion(db))
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		factory TEXT NOT NULL,
		custom_name TEXT NOT NULL DEFAULT '',
		load_type TEXT NOT NULL DEFAULT '',
		locked INTEGER NOT NULL DEFAULT 0,
		preferred INTEGER NOT NULL DEFAULT 0,
		forbid_use INTEGER NOT NULL DEFAULT 0,
		properties_json TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_instances_factory ON instances(factory);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create instances table: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

const selectColumns = `id, factory, custom_name, load_type, locked, preferred, forbid_use,
	fill_width, fill_height, properties_json, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		id        string
		propsJSON string
		updated   int64
	)
	err := row.Scan(&id, &rec.Factory, &rec.CustomName, &rec.LoadType,
		&rec.Locked, &rec.Preferred, &rec.ForbidUse,
		&rec.FillWidth, &rec.FillHeight, &propsJSON, &updated)
	if err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("invalid instance id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Properties = map[string]string{}
	if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
		return Record{}, fmt.Errorf("invalid properties for %s: %w", id, err)
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

// Load returns the record for id.
func (s *SQLiteStore) Load(id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	row := s.db.QueryRow("SELECT "+selectColumns+" FROM instances WHERE id = ?", id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load %s: %w", id, err)
	}
	return rec, nil
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	props := rec.Properties
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, factory, custom_name, load_type, locked, preferred, forbid_use,
			fill_width, fill_height, properties_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			factory = excluded.factory,
			custom_name = excluded.custom_name,
			load_type = excluded.load_type,
			locked = excluded.locked,
			preferred = excluded.preferred,
			forbid_use = excluded.forbid_use,
			fill_width = excluded.fill_width,
			fill_height = excluded.fill_height,
			properties_json = excluded.properties_json,
			updated_at = excluded.updated_at`,
		rec.ID.String(), rec.Factory, rec.CustomName, rec.LoadType,
		rec.Locked, rec.Preferred, rec.ForbidUse, rec.FillWidth, rec.FillHeight,
		string(propsJSON), time.Now().UnixMilli(),
	)
	if err != nil {
		logging.StoreError("Failed to save instance %s: %v", rec.ID, err)
		return fmt.Errorf("failed to save %s: %w", rec.ID, err)
	}
	logging.StoreDebug("Saved instance %s (%s, %d properties)", rec.ID, rec.Factory, len(props))
	return nil
}

// Delete removes the record for id. Deleting a missing record is not an error.
func (s *SQLiteStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.Exec("DELETE FROM instances WHERE id = ?", id.String()); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}

// List returns every record ordered by factory, then id.
func (s *SQLiteStore) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query("SELECT " + selectColumns + " FROM instances ORDER BY factory, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable instance row: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
