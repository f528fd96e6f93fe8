// Package changefeed is the change-notification listener of spec.md
// §4.F: a per-subscriber peerdb.Listener that turns Added/Updated/Removed
// neighbour events into fire-and-posted NeighbourhoodChanged requests on
// the subscriber's own session, self-deregistering on the first send
// failure.
package changefeed

import (
	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/reactor"
	"github.com/BasicAcid/locnet/internal/wire"

	"go.uber.org/zap"
)

// Sender is the narrow slice of session.Session a Listener needs: a
// thread-safe, framed message send and a stable id for deregistration.
// Defining it here (rather than importing internal/session) keeps this
// package a leaf and avoids a session<->changefeed import cycle.
type Sender interface {
	SendMessage(msg *wire.Message) error
	SessionID() string
}

// Deregisterer removes a listener from the database it was registered
// against; overlay.Engine and peerdb.Database both satisfy it.
type Deregisterer interface {
	RemoveListener(sessionID string)
}

// Listener bridges peerdb.Listener to a session's outbound socket.
type Listener struct {
	sender   Sender
	store    Deregisterer
	reactor  *reactor.Reactor
	log      *zap.Logger
	nextReqID func() uint32
}

// New builds a Listener that will post NeighbourhoodChanged notifications
// for sender via r, and deregister itself from store on first send error.
// nextReqID supplies monotonically increasing request ids for the pushed
// messages (spec.md §4.C correlation ids are caller-assigned even for
// server-initiated pushes).
func New(sender Sender, store Deregisterer, r *reactor.Reactor, nextReqID func() uint32, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		sender:    sender,
		store:     store,
		reactor:   r,
		nextReqID: nextReqID,
		log:       log.With(zap.String("component", "changefeed"), zap.String("session", sender.SessionID())),
	}
}

// SessionID satisfies peerdb.Listener.
func (l *Listener) SessionID() string { return l.sender.SessionID() }

// OnChange satisfies peerdb.Listener. Only neighbour relation changes are
// forwarded: colleague churn is not of interest to a keepalive subscriber
// per spec.md §4.F.
func (l *Listener) OnChange(evt peerdb.ChangeEvent) {
	if evt.Entry.RelationType != model.RelationNeighbour {
		return
	}
	// Keyed on this listener's own session so the lane it lands on always
	// drains in emission order; other sessions' pushes use other lanes.
	l.reactor.PostKeyed(l.SessionID(), func() {
		l.post(evt)
	})
}

func (l *Listener) post(evt peerdb.ChangeEvent) {
	wireInfo, err := wire.ToWireNodeInfo(evt.Entry.NodeInfo)
	if err != nil {
		l.log.Error("failed to encode changed node", zap.Error(err))
		return
	}
	msg := &wire.Message{
		ID:      l.nextReqID(),
		Version: wire.CurrentVersion,
		Req: &wire.Request{
			NeighbourhoodChanged: &wire.NeighbourhoodChangedReq{
				EventType: int32(evt.Type),
				Entry: wire.WireNodeSummary{
					Info:         wireInfo,
					RelationType: int32(evt.Entry.RelationType),
				},
			},
		},
	}
	if err := l.sender.SendMessage(msg); err != nil {
		l.log.Info("push failed, deregistering listener", zap.Error(err))
		l.store.RemoveListener(l.SessionID())
	}
}
