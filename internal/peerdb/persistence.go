package peerdb

import (
	"sync"

	"github.com/BasicAcid/locnet/internal/model"
)

// PersistentStore is the interface to on-disk persistence of NodeDbEntry
// rows, keyed by id, with indices on expiresAt and relationType per
// spec.md §6. The concrete storage layout (SQLite, BoltDB, whatever the
// collaborator picks) is explicitly out of this core's scope; only this
// interface and an in-memory stand-in for tests/dev are specified here.
type PersistentStore interface {
	Save(entry model.NodeDbEntry) error
	Delete(id string) error
	LoadAll() ([]model.NodeDbEntry, error)
}

// InMemoryStore is a PersistentStore that keeps rows in a map. It is the
// default for isTestMode and for development; it satisfies the interface
// without claiming to survive a process restart.
type InMemoryStore struct {
	mu   sync.Mutex
	rows map[string]model.NodeDbEntry
}

// NewInMemoryStore returns an empty in-memory persistence stand-in.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]model.NodeDbEntry)}
}

func (s *InMemoryStore) Save(entry model.NodeDbEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[entry.Profile.ID] = entry
	return nil
}

func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *InMemoryStore) LoadAll() ([]model.NodeDbEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.NodeDbEntry, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e)
	}
	return out, nil
}
