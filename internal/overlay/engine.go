// Package overlay implements the Node/Engine (component B of spec.md §4)
// and the Remote-Node Proxy (component E) that presents another node's
// node-to-node interface as local calls. Grounded on internal/node/node.go
// (the teacher's ctx/mutex-guarded coordinator tying discovery, topology
// and communication together) and internal/discovery/service.go's
// periodic-task shape.
package overlay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// Config holds the tunables spec.md §6 lists for the overlay engine.
type Config struct {
	NeighbourhoodTarget int
	ColleagueTarget     int
	RenewalPeriod       time.Duration
	ExpirationPeriod    time.Duration
	DiscoveryPeriod     time.Duration
	MaintenancePeriod   time.Duration
}

// DefaultConfig mirrors the reference periods spec.md §6 suggests.
func DefaultConfig() Config {
	return Config{
		NeighbourhoodTarget: 6,
		ColleagueTarget:     16,
		RenewalPeriod:       10 * time.Minute,
		ExpirationPeriod:    30 * time.Minute,
		DiscoveryPeriod:     time.Minute,
		MaintenancePeriod:   5 * time.Minute,
	}
}

// Engine is the overlay Node of spec.md §4.B: it owns this node's identity
// and location, the spatial peer database, and the acceptance policy for
// colleague/neighbour relations. Its own contacts are mutated only through
// DetectedExternalAddress, under their own mutex, exactly as spec.md §4.B
// requires so discovery reads never block on a NAT-detection write.
type Engine struct {
	selfID       string
	selfLocation spatial.GpsLocation

	contactsMu sync.RWMutex
	contacts   []model.NetworkInterface

	db     *peerdb.Database
	dialer Dialer
	seeds  []model.NetworkInterface
	cfg    Config
	log    *zap.Logger

	servicesMu sync.RWMutex
	services   map[model.ServiceType]model.ServiceProfile
}

// Dialer opens a node-to-node RemoteNode proxy to target; the transport
// package supplies the concrete TCP-dialing implementation.
type Dialer interface {
	Dial(ctx context.Context, target model.NetworkInterface) (RemoteNode, error)
}

// New builds an Engine for selfID/selfLocation/contacts, backed by db and
// able to reach other nodes through dialer. seeds are dialled on every
// EnsureMapFilled run.
func New(selfID string, selfLocation spatial.GpsLocation, contacts []model.NetworkInterface, db *peerdb.Database, dialer Dialer, seeds []model.NetworkInterface, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		selfID:       selfID,
		selfLocation: selfLocation,
		contacts:     append([]model.NetworkInterface(nil), contacts...),
		db:           db,
		dialer:       dialer,
		seeds:        append([]model.NetworkInterface(nil), seeds...),
		cfg:          cfg,
		log:          log.With(zap.String("component", "overlay"), zap.String("node", selfID)),
		services:     make(map[model.ServiceType]model.ServiceProfile),
	}
}

// Self returns this node's current NodeInfo, copying out its contacts
// slice so callers can't mutate it behind the engine's back.
func (e *Engine) Self() model.NodeInfo {
	e.contactsMu.RLock()
	contacts := append([]model.NetworkInterface(nil), e.contacts...)
	e.contactsMu.RUnlock()
	profile, _ := model.NewNodeProfile(e.selfID, contacts)
	return model.NodeInfo{Profile: profile, Location: e.selfLocation}
}

// DetectedExternalAddress is the node-to-node proxy's NAT-detection
// callback: it records a newly observed external contact the first time
// it's seen, and is a no-op on repeats.
func (e *Engine) DetectedExternalAddress(addr model.NetworkInterface) {
	e.contactsMu.Lock()
	defer e.contactsMu.Unlock()
	for _, c := range e.contacts {
		if c == addr {
			return
		}
	}
	e.contacts = append(e.contacts, addr)
	e.log.Info("detected external address", zap.String("address", addr.String()))
}

// --- local-service interface ---

func (e *Engine) RegisterService(t model.ServiceType, profile model.ServiceProfile) error {
	if profile.ServiceID == "" {
		return xerrors.Validation.New("service id must not be empty")
	}
	e.servicesMu.Lock()
	defer e.servicesMu.Unlock()
	e.services[t] = profile
	return nil
}

func (e *Engine) DeregisterService(t model.ServiceType) error {
	e.servicesMu.Lock()
	defer e.servicesMu.Unlock()
	if _, ok := e.services[t]; !ok {
		return xerrors.State.New("service %s is not registered", t)
	}
	delete(e.services, t)
	return nil
}

func (e *Engine) GetServices() map[model.ServiceType]model.ServiceProfile {
	e.servicesMu.RLock()
	defer e.servicesMu.RUnlock()
	out := make(map[model.ServiceType]model.ServiceProfile, len(e.services))
	for k, v := range e.services {
		out[k] = v
	}
	return out
}

// AddListener/RemoveListener pass straight through to the database: the
// engine adds no policy of its own to change subscriptions.
func (e *Engine) AddListener(l peerdb.Listener)        { e.db.AddListener(l) }
func (e *Engine) RemoveListener(sessionID string)      { e.db.RemoveListener(sessionID) }

// --- shared node-to-node / client read ops ---

func (e *Engine) GetNodeCount() int { return e.db.GetNodeCount() }

func (e *Engine) GetRandomNodes(maxCount int, filter peerdb.NeighbourFilter) []model.NodeDbEntry {
	return e.db.GetRandomNodes(maxCount, filter)
}

func (e *Engine) GetClosestNodesByDistance(loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) []model.NodeDbEntry {
	return e.db.GetClosestNodesByDistance(loc, maxRadiusKm, maxCount, filter)
}

func (e *Engine) GetNeighbourNodesByDistance() []model.NodeDbEntry {
	return e.db.GetNeighbourNodesByDistance()
}

// colleagues returns every stored colleague, ascending by distance to self.
func (e *Engine) colleagues() []model.NodeDbEntry {
	return e.db.GetClosestNodesByDistance(e.selfLocation, math.Inf(1), -1, peerdb.Excluded)
}

// --- node-to-node acceptance policy ---

// AcceptColleague implements the colleague acceptance rule of spec.md §4.B:
// a requestor already stored as a neighbour is always rejected; otherwise
// accept while under colleagueTarget; once full, accept
// only a requestor farther from self than the nearest existing colleague,
// evicting that colleague to make room (this resolves Open Question (a)
// in favour of distance-based thinning rather than bucket occupancy
// gating a single accept decision — bucket occupancy instead steers which
// directions DiscoverUnknownAreas probes).
func (e *Engine) AcceptColleague(requestor model.NodeInfo) (bool, model.NodeInfo) {
	if existing, ok := e.db.Lookup(requestor.Profile.ID); ok && existing.RelationType == model.RelationNeighbour {
		return false, model.NodeInfo{}
	}

	colleagues := e.colleagues()
	accept := false
	replace := ""
	if len(colleagues) < e.cfg.ColleagueTarget {
		accept = true
	} else if len(colleagues) > 0 {
		nearest := colleagues[0]
		if spatial.DistanceKm(e.selfLocation, requestor.Location) > spatial.DistanceKm(e.selfLocation, nearest.Location) {
			accept = true
			replace = nearest.Profile.ID
		}
	}
	if !accept {
		return false, model.NodeInfo{}
	}
	if replace != "" {
		if err := e.db.Remove(replace); err != nil {
			e.log.Warn("failed to evict colleague during replacement", zap.String("id", replace), zap.Error(err))
		}
	}
	if err := e.storeRelation(requestor, model.RelationColleague); err != nil {
		e.log.Warn("failed to store accepted colleague", zap.Error(err))
		return false, model.NodeInfo{}
	}
	return true, e.Self()
}

// AcceptNeighbour implements the neighbour acceptance rule: accept while
// under neighbourhoodTarget, or if the requestor is closer than the
// current farthest neighbour (evicting that neighbour).
func (e *Engine) AcceptNeighbour(requestor model.NodeInfo) (bool, model.NodeInfo) {
	ring := e.db.GetNeighbourNodesByDistance()
	accept := false
	replace := ""
	if len(ring) < e.cfg.NeighbourhoodTarget {
		accept = true
	} else {
		farthest := ring[len(ring)-1]
		if spatial.DistanceKm(e.selfLocation, requestor.Location) < spatial.DistanceKm(e.selfLocation, farthest.Location) {
			accept = true
			replace = farthest.Profile.ID
		}
	}
	if !accept {
		return false, model.NodeInfo{}
	}
	if replace != "" {
		if err := e.db.Remove(replace); err != nil {
			e.log.Warn("failed to evict neighbour during replacement", zap.String("id", replace), zap.Error(err))
		}
	}
	if err := e.storeRelation(requestor, model.RelationNeighbour); err != nil {
		e.log.Warn("failed to store accepted neighbour", zap.Error(err))
		return false, model.NodeInfo{}
	}
	return true, e.Self()
}

// RenewColleague refreshes an existing colleague's expiry; it rejects a
// renewal from a node not currently recognized as a colleague.
func (e *Engine) RenewColleague(requestor model.NodeInfo) (bool, model.NodeInfo) {
	return e.renew(requestor, model.RelationColleague)
}

// RenewNeighbour refreshes an existing neighbour's expiry.
func (e *Engine) RenewNeighbour(requestor model.NodeInfo) (bool, model.NodeInfo) {
	return e.renew(requestor, model.RelationNeighbour)
}

func (e *Engine) renew(requestor model.NodeInfo, want model.NodeRelationType) (bool, model.NodeInfo) {
	existing, ok := e.db.Lookup(requestor.Profile.ID)
	if !ok || existing.RelationType != want {
		return false, model.NodeInfo{}
	}
	existing.NodeInfo = requestor
	existing.ExpiresAt = time.Now().Add(e.cfg.ExpirationPeriod)
	if err := e.db.Update(existing); err != nil {
		e.log.Warn("failed to renew relation", zap.String("id", requestor.Profile.ID), zap.Error(err))
		return false, model.NodeInfo{}
	}
	return true, e.Self()
}

func (e *Engine) storeRelation(info model.NodeInfo, rel model.NodeRelationType) error {
	return e.storeRelationAs(info, rel, model.RoleAcceptor)
}

func (e *Engine) String() string {
	return fmt.Sprintf("overlay.Engine{id=%s}", e.selfID)
}
