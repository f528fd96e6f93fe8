package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/spatial"
)

// fakeRemote is a RemoteNode test double that always answers
// RenewColleague/RenewNeighbour with a fixed, scripted result.
type fakeRemote struct {
	accepted    bool
	renewCalled int
}

func (f *fakeRemote) GetNodeInfo(ctx context.Context) (model.NodeInfo, error) { return model.NodeInfo{}, nil }
func (f *fakeRemote) GetNodeCount(ctx context.Context) (int, error)          { return 0, nil }
func (f *fakeRemote) GetRandomNodes(ctx context.Context, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error) {
	return nil, nil
}
func (f *fakeRemote) GetClosestNodesByDistance(ctx context.Context, loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) ([]model.NodeDbEntry, error) {
	return nil, nil
}
func (f *fakeRemote) AcceptColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return false, model.NodeInfo{}, nil
}
func (f *fakeRemote) AcceptNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	return false, model.NodeInfo{}, nil
}
func (f *fakeRemote) RenewColleague(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	f.renewCalled++
	return f.accepted, self, nil
}
func (f *fakeRemote) RenewNeighbour(ctx context.Context, self model.NodeInfo) (bool, model.NodeInfo, error) {
	f.renewCalled++
	return f.accepted, self, nil
}
func (f *fakeRemote) Close() error { return nil }

// fakeDialer always returns the same scripted fakeRemote regardless of
// target, so a test can inspect how many times (and when) the engine
// actually tried to renew.
type fakeDialer struct {
	remote *fakeRemote
}

func (d *fakeDialer) Dial(ctx context.Context, target model.NetworkInterface) (RemoteNode, error) {
	return d.remote, nil
}

func newTestEngineWithDialer(t *testing.T, dialer Dialer) *Engine {
	t.Helper()
	self := mustLoc(t, 47.4979, 19.0402)
	db := peerdb.New(self, peerdb.NewInMemoryStore(), nil)
	cfg := Config{ColleagueTarget: 16, NeighbourhoodTarget: 6, ExpirationPeriod: time.Hour, RenewalPeriod: time.Hour}
	return New("self", self, nil, db, dialer, nil, cfg, nil)
}

func TestRenewNodeRelations_SkipsAcceptorRoleEntries(t *testing.T) {
	remote := &fakeRemote{accepted: true}
	e := newTestEngineWithDialer(t, &fakeDialer{remote: remote})

	peer := nodeInfo(t, "peer", 47.1625, 19.5033)
	require.NoError(t, e.db.Store(model.NodeDbEntry{
		NodeInfo:     peer,
		RelationType: model.RelationColleague,
		RoleType:     model.RoleAcceptor, // the peer initiated this relation toward us
		ExpiresAt:    time.Now().Add(time.Minute),
	}))

	e.RenewNodeRelations(context.Background())
	assert.Equal(t, 0, remote.renewCalled, "renewal is the initiator's responsibility, not ours")
}

func TestRenewNodeRelations_RenewsInitiatorRoleEntries(t *testing.T) {
	remote := &fakeRemote{accepted: true}
	e := newTestEngineWithDialer(t, &fakeDialer{remote: remote})

	peer := nodeInfo(t, "peer", 47.1625, 19.5033)
	require.NoError(t, e.db.Store(model.NodeDbEntry{
		NodeInfo:     peer,
		RelationType: model.RelationColleague,
		RoleType:     model.RoleInitiator, // we initiated this relation
		ExpiresAt:    time.Now().Add(time.Minute),
	}))

	e.RenewNodeRelations(context.Background())
	assert.Equal(t, 1, remote.renewCalled)
}

func TestRenewOne_RefusalLeavesEntryForExpiry(t *testing.T) {
	remote := &fakeRemote{accepted: false}
	e := newTestEngineWithDialer(t, &fakeDialer{remote: remote})

	peer := nodeInfo(t, "peer", 47.1625, 19.5033)
	entry := model.NodeDbEntry{
		NodeInfo:     peer,
		RelationType: model.RelationColleague,
		RoleType:     model.RoleInitiator,
		ExpiresAt:    time.Now().Add(time.Minute),
	}
	require.NoError(t, e.db.Store(entry))

	e.renewOne(context.Background(), entry, time.Now())

	stored, ok := e.db.Lookup("peer")
	require.True(t, ok, "a refused renewal must not be removed, only left for expiry")
	assert.False(t, stored.ExpiresAt.After(time.Now().Add(2*time.Minute)), "expiry must not be extended on refusal")
}
