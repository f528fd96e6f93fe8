// Package peerdb implements the spatial peer database (spec.md §4.A): a
// set of NodeDbEntry records keyed by id, indexed by great-circle
// distance from the owning node, with TTL expiration and a synchronous
// change-notification stream.
package peerdb

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// NeighbourFilter controls whether Neighbour-relation entries are
// included in a distance/random query.
type NeighbourFilter int

const (
	Included NeighbourFilter = iota
	Excluded
)

// Database is the spatial peer database. The zero value is not usable;
// construct with New.
type Database struct {
	mu        sync.Mutex
	self      spatial.GpsLocation
	entries   map[string]model.NodeDbEntry
	listeners map[string]Listener
	persist   PersistentStore
	log       *zap.Logger
}

// New creates a Database for a node located at self, persisting rows
// through persist (use NewInMemoryStore for isTestMode/dev).
func New(self spatial.GpsLocation, persist PersistentStore, log *zap.Logger) *Database {
	if log == nil {
		log = zap.NewNop()
	}
	return &Database{
		self:      self,
		entries:   make(map[string]model.NodeDbEntry),
		listeners: make(map[string]Listener),
		persist:   persist,
		log:       log.With(zap.String("component", "peerdb")),
	}
}

// Store inserts entry, or replaces an existing entry sharing its id.
// Insertion emits Added; replacement emits Updated, never Added — the
// invariant is that at most one entry exists per id.
func (d *Database) Store(entry model.NodeDbEntry) error {
	if entry.Profile.ID == "" {
		return xerrors.Validation.New("entry id must not be empty")
	}
	if err := entry.Location.Validate(); err != nil {
		return xerrors.Validation.Wrap(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, existed := d.entries[entry.Profile.ID]
	d.entries[entry.Profile.ID] = entry

	if d.persist != nil {
		if err := d.persist.Save(entry); err != nil {
			d.log.Error("failed to persist peer entry", zap.String("id", entry.Profile.ID), zap.Error(err))
		}
	}

	evtType := Added
	if existed {
		evtType = Updated
	}
	d.notify(ChangeEvent{Type: evtType, Entry: entry})
	return nil
}

// Update replaces an existing entry. It is an error (State) to update an
// id that is not currently stored.
func (d *Database) Update(entry model.NodeDbEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[entry.Profile.ID]; !ok {
		return xerrors.State.New("no entry stored for id %q", entry.Profile.ID)
	}
	d.entries[entry.Profile.ID] = entry

	if d.persist != nil {
		if err := d.persist.Save(entry); err != nil {
			d.log.Error("failed to persist peer entry", zap.String("id", entry.Profile.ID), zap.Error(err))
		}
	}
	d.notify(ChangeEvent{Type: Updated, Entry: entry})
	return nil
}

// Remove deletes the entry for id. It is an error (State) if id is absent.
func (d *Database) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(id)
}

func (d *Database) removeLocked(id string) error {
	entry, ok := d.entries[id]
	if !ok {
		return xerrors.State.New("no entry stored for id %q", id)
	}
	delete(d.entries, id)

	if d.persist != nil {
		if err := d.persist.Delete(id); err != nil {
			d.log.Error("failed to delete persisted peer entry", zap.String("id", id), zap.Error(err))
		}
	}
	d.notify(ChangeEvent{Type: Removed, Entry: entry})
	return nil
}

// Lookup returns the stored entry for id, if any.
func (d *Database) Lookup(id string) (model.NodeDbEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	return e, ok
}

// GetDistanceKm returns the great-circle distance, in kilometres, between
// two node infos' locations.
func (d *Database) GetDistanceKm(a, b model.NodeInfo) float64 {
	return spatial.DistanceKm(a.Location, b.Location)
}

type scoredEntry struct {
	entry model.NodeDbEntry
	dist  float64
}

// GetClosestNodesByDistance returns up to maxCount entries within
// maxRadiusKm of origin, sorted ascending by distance (ties broken by id).
func (d *Database) GetClosestNodesByDistance(origin spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter NeighbourFilter) []model.NodeDbEntry {
	d.mu.Lock()
	candidates := make([]scoredEntry, 0, len(d.entries))
	for _, e := range d.entries {
		if filter == Excluded && e.RelationType == model.RelationNeighbour {
			continue
		}
		dist := spatial.DistanceKm(origin, e.Location)
		if dist <= maxRadiusKm {
			candidates = append(candidates, scoredEntry{entry: e, dist: dist})
		}
	}
	d.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].entry.Profile.ID < candidates[j].entry.Profile.ID
	})

	if maxCount >= 0 && len(candidates) > maxCount {
		candidates = candidates[:maxCount]
	}
	out := make([]model.NodeDbEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

// GetRandomNodes samples up to maxCount entries uniformly without
// replacement from the post-filter population.
func (d *Database) GetRandomNodes(maxCount int, filter NeighbourFilter) []model.NodeDbEntry {
	d.mu.Lock()
	pool := make([]model.NodeDbEntry, 0, len(d.entries))
	for _, e := range d.entries {
		if filter == Excluded && e.RelationType == model.RelationNeighbour {
			continue
		}
		pool = append(pool, e)
	}
	d.mu.Unlock()

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if maxCount >= 0 && len(pool) > maxCount {
		pool = pool[:maxCount]
	}
	return pool
}

// GetNeighbourNodesByDistance returns every Neighbour-relation entry,
// sorted ascending by distance from the owning node's own location.
func (d *Database) GetNeighbourNodesByDistance() []model.NodeDbEntry {
	all := d.GetClosestNodesByDistance(d.self, math.Inf(1), -1, Included)
	out := make([]model.NodeDbEntry, 0, len(all))
	for _, e := range all {
		if e.RelationType == model.RelationNeighbour {
			out = append(out, e)
		}
	}
	return out
}

// GetColleagueNodeCount returns how many stored entries are Colleagues.
func (d *Database) GetColleagueNodeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.entries {
		if e.RelationType == model.RelationColleague {
			n++
		}
	}
	return n
}

// GetNodeCount returns the total number of stored entries.
func (d *Database) GetNodeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// ExpireOldNodes removes every entry whose ExpiresAt is before now,
// emitting one Removed event per entry. Returns the number removed.
func (d *Database) ExpireOldNodes(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []string
	for id, e := range d.entries {
		if e.ExpiresAt.Before(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		if err := d.removeLocked(id); err != nil {
			d.log.Error("unexpected error expiring peer", zap.String("id", id), zap.Error(err))
		}
	}
	return len(expired)
}

// AddListener registers a change observer. A second registration under
// the same SessionID replaces the first.
func (d *Database) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[l.SessionID()] = l
}

// RemoveListener unregisters the listener for sessionID, if any. It is
// idempotent: removing an unknown or already-removed id is a no-op.
func (d *Database) RemoveListener(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, sessionID)
}

// notify dispatches to every listener synchronously, on the caller's
// goroutine, while the single store+listener mutex is still held — this
// is what makes the mutation appear atomic to every observer (spec.md §5).
func (d *Database) notify(evt ChangeEvent) {
	for _, l := range d.listeners {
		l.OnChange(evt)
	}
}
