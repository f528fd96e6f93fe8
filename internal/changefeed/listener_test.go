package changefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/reactor"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/wire"
)

type fakeSender struct {
	id      string
	sent    chan *wire.Message
	sendErr error
	delay   func(n int) time.Duration // artificial per-call jitter, for ordering tests
	calls   int
}

func (f *fakeSender) SendMessage(msg *wire.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.delay != nil {
		f.calls++
		time.Sleep(f.delay(f.calls))
	}
	f.sent <- msg
	return nil
}
func (f *fakeSender) SessionID() string { return f.id }

type fakeStore struct {
	removed chan string
}

func (f *fakeStore) RemoveListener(sessionID string) { f.removed <- sessionID }

func entry(t *testing.T, id string, rel model.NodeRelationType) model.NodeDbEntry {
	t.Helper()
	loc, err := spatial.NewGpsLocation(1, 1)
	require.NoError(t, err)
	ni, err := model.NewNetworkInterface(model.Ipv4, "127.0.0.1", 16980)
	require.NoError(t, err)
	profile, err := model.NewNodeProfile(id, []model.NetworkInterface{ni})
	require.NoError(t, err)
	return model.NodeDbEntry{NodeInfo: model.NodeInfo{Profile: profile, Location: loc}, RelationType: rel}
}

func TestListener_ForwardsNeighbourChangesOnly(t *testing.T) {
	sender := &fakeSender{id: "s1", sent: make(chan *wire.Message, 4)}
	store := &fakeStore{removed: make(chan string, 1)}
	r := reactor.New(4, nil)
	defer r.Shutdown()

	var next uint32
	l := New(sender, store, r, func() uint32 { next++; return next }, nil)

	l.OnChange(peerdb.ChangeEvent{Type: peerdb.Added, Entry: entry(t, "colleague-1", model.RelationColleague)})
	select {
	case <-sender.sent:
		t.Fatal("colleague change should not be forwarded")
	case <-time.After(100 * time.Millisecond):
	}

	l.OnChange(peerdb.ChangeEvent{Type: peerdb.Added, Entry: entry(t, "neighbour-1", model.RelationNeighbour)})
	select {
	case msg := <-sender.sent:
		require.NotNil(t, msg.Req)
		require.NotNil(t, msg.Req.NeighbourhoodChanged)
		assert.Equal(t, "neighbour-1", msg.Req.NeighbourhoodChanged.Entry.Info.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded neighbourhood change")
	}
}

// TestListener_PreservesEmissionOrderAtProductionWorkerCount guards
// against the reactor's worker pool reordering a single listener's
// pushes: each SendMessage call is given decreasing artificial delay so
// a naive round-robin dispatch across workers would very likely finish
// them out of order, while a keyed lane must still deliver in emission
// order regardless of worker count.
func TestListener_PreservesEmissionOrderAtProductionWorkerCount(t *testing.T) {
	sender := &fakeSender{
		id:   "s1",
		sent: make(chan *wire.Message, 64),
		delay: func(n int) time.Duration {
			return time.Duration(20-n) * time.Millisecond
		},
	}
	store := &fakeStore{removed: make(chan string, 1)}
	r := reactor.New(4, nil)
	defer r.Shutdown()

	var next uint32
	l := New(sender, store, r, func() uint32 { next++; return next }, nil)

	const n = 20
	for i := 0; i < n; i++ {
		l.OnChange(peerdb.ChangeEvent{
			Type:  peerdb.Added,
			Entry: entry(t, "neighbour-1", model.RelationNeighbour),
		})
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-sender.sent:
			require.NotNil(t, msg.Req)
			require.NotNil(t, msg.Req.NeighbourhoodChanged)
			assert.Equal(t, uint32(i+1), msg.ID, "push %d arrived out of emission order", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for push %d", i)
		}
	}
}

func TestListener_DeregistersOnSendFailure(t *testing.T) {
	sender := &fakeSender{id: "s1", sendErr: assert.AnError}
	store := &fakeStore{removed: make(chan string, 1)}
	r := reactor.New(4, nil)
	defer r.Shutdown()

	l := New(sender, store, r, func() uint32 { return 1 }, nil)
	l.OnChange(peerdb.ChangeEvent{Type: peerdb.Removed, Entry: entry(t, "neighbour-1", model.RelationNeighbour)})

	select {
	case id := <-store.removed:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("expected listener to deregister itself after send failure")
	}
}
