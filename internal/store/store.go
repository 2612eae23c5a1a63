// Package store persists widget instance state.
//
// Two stores are provided:
//   - SQLiteStore: property bags and instance flags keyed by instance id,
//     backed by modernc.org/sqlite.
//   - MemoryStore: the same contract held in a map, for tests and one-shot
//     commands.
//
// Per-widget default.properties files are read and written with
// ReadProperties / WriteProperties.
package store

import (
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for an instance id.
var ErrNotFound = errors.New("store: record not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Record is the persisted state of one widget instance.
type Record struct {
	ID         uuid.UUID
	Factory    string // identity name of the producing factory
	CustomName string
	LoadType   string
	Locked     bool
	Preferred  bool
	ForbidUse  bool
	FillWidth  bool
	FillHeight bool
	Properties map[string]string
	UpdatedAt  time.Time
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Properties = maps.Clone(r.Properties)
	if out.Properties == nil {
		out.Properties = map[string]string{}
	}
	return out
}

// PropertyStore persists instance records.
type PropertyStore interface {
	Load(id uuid.UUID) (Record, error)
	Save(rec Record) error
	Delete(id uuid.UUID) error
	List() ([]Record, error)
	Close() error
}

// MemoryStore is an in-process PropertyStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	closed  bool
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record), now: time.Now}
}

// Load returns a copy of the record for id.
func (m *MemoryStore) Load(id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// Save inserts or replaces the record.
func (m *MemoryStore) Save(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec = rec.Clone()
	rec.UpdatedAt = m.now()
	m.records[rec.ID] = rec
	return nil
}

// Delete removes the record for id. Deleting a missing record is not an error.
func (m *MemoryStore) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.records, id)
	return nil
}

// List returns every record ordered by factory, then id.
func (m *MemoryStore) List() ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Factory != recs[j].Factory {
			return recs[i].Factory < recs[j].Factory
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
}
