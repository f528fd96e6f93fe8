package session

import (
	"net"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/changefeed"
	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/reactor"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/wire"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// LocalServiceHandler is the subset of overlay.Engine the local-service
// interface of spec.md §4.B dispatches onto.
type LocalServiceHandler interface {
	RegisterService(t model.ServiceType, profile model.ServiceProfile) error
	DeregisterService(t model.ServiceType) error
	GetServices() map[model.ServiceType]model.ServiceProfile
	GetNeighbourNodesByDistance() []model.NodeDbEntry
	AddListener(l peerdb.Listener)
	RemoveListener(sessionID string)
}

// NodeHandler is the subset of overlay.Engine the node-to-node interface
// dispatches onto.
type NodeHandler interface {
	Self() model.NodeInfo
	GetNodeCount() int
	GetRandomNodes(maxCount int, filter peerdb.NeighbourFilter) []model.NodeDbEntry
	GetClosestNodesByDistance(loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) []model.NodeDbEntry
	AcceptColleague(requestor model.NodeInfo) (bool, model.NodeInfo)
	RenewColleague(requestor model.NodeInfo) (bool, model.NodeInfo)
	AcceptNeighbour(requestor model.NodeInfo) (bool, model.NodeInfo)
	RenewNeighbour(requestor model.NodeInfo) (bool, model.NodeInfo)
}

// ClientHandler is the subset of overlay.Engine the read-only client
// interface dispatches onto.
type ClientHandler interface {
	GetServices() map[model.ServiceType]model.ServiceProfile
	GetNeighbourNodesByDistance() []model.NodeDbEntry
	GetClosestNodesByDistance(loc spatial.GpsLocation, maxRadiusKm float64, maxCount int, filter peerdb.NeighbourFilter) []model.NodeDbEntry
}

// Dispatcher answers one Request on behalf of an accepted Session.
type Dispatcher interface {
	Dispatch(req *wire.Request, sess *Session) (*wire.Response, error)
}

func entriesToSummaries(entries []model.NodeDbEntry) ([]wire.WireNodeSummary, error) {
	out := make([]wire.WireNodeSummary, len(entries))
	for i, e := range entries {
		info, err := wire.ToWireNodeInfo(e.NodeInfo)
		if err != nil {
			return nil, err
		}
		out[i] = wire.WireNodeSummary{Info: info, RelationType: int32(e.RelationType)}
	}
	return out, nil
}

func filterFor(includeNeighbours bool) peerdb.NeighbourFilter {
	if includeNeighbours {
		return peerdb.Included
	}
	return peerdb.Excluded
}

// --- local-service dispatcher ---

// LocalServiceDispatcher answers RegisterService/DeregisterService/
// GetNeighbourNodes, spawning a changefeed Listener on the session when a
// GetNeighbourNodes request asks to keep the connection alive for pushes.
// Acks for those pushes are consumed by RunLoop and never reach it.
type LocalServiceDispatcher struct {
	Handler LocalServiceHandler
	Reactor *reactor.Reactor
	Log     *zap.Logger
}

func (d *LocalServiceDispatcher) Dispatch(req *wire.Request, sess *Session) (*wire.Response, error) {
	switch {
	case req.RegisterService != nil:
		profile, err := wire.FromWireServiceProfile(req.RegisterService.Profile)
		if err != nil {
			return nil, err
		}
		if err := d.Handler.RegisterService(model.ServiceType(req.RegisterService.Type), profile); err != nil {
			return nil, err
		}
		return &wire.Response{RegisterService: &wire.EmptyResult{}}, nil

	case req.DeregisterService != nil:
		if err := d.Handler.DeregisterService(model.ServiceType(req.DeregisterService.Type)); err != nil {
			return nil, err
		}
		return &wire.Response{DeregisterService: &wire.EmptyResult{}}, nil

	case req.GetNeighbourNodesLS != nil:
		nodes, err := entriesToSummaries(d.Handler.GetNeighbourNodesByDistance())
		if err != nil {
			return nil, err
		}
		if req.GetNeighbourNodesLS.KeepAlive {
			l := changefeed.New(sess, d.Handler, d.Reactor, sess.NextRequestID, d.Log)
			d.Handler.AddListener(l)
		}
		return &wire.Response{GetNeighbourNodesLS: &wire.NodeListResult{Nodes: nodes}}, nil

	default:
		return nil, xerrors.Protocol.New("unrecognized local-service request: %s", req.Variant())
	}
}

// --- node-to-node dispatcher ---

// NodeDispatcher answers the remote-node interface, rewriting the
// requestor's declared primary contact with the observed TCP peer address
// and stamping the observed remote IP onto Accept*/Renew* responses so the
// dialer's proxy can learn its own externally visible address.
type NodeDispatcher struct {
	Handler NodeHandler
	Log     *zap.Logger
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func rewriteRequestorAddress(info model.NodeInfo, remoteAddr string) model.NodeInfo {
	host := remoteHost(remoteAddr)
	ip := net.ParseIP(host)
	if ip == nil || len(info.Profile.Contacts) == 0 {
		return info
	}
	addrType := model.Ipv4
	if ip.To4() == nil {
		addrType = model.Ipv6
	}
	contacts := append([]model.NetworkInterface(nil), info.Profile.Contacts...)
	contacts[0] = model.NetworkInterface{AddressType: addrType, Address: host, Port: contacts[0].Port}
	info.Profile.Contacts = contacts
	return info
}

func remoteIPBytes(remoteAddr string) []byte {
	ip := net.ParseIP(remoteHost(remoteAddr))
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func (d *NodeDispatcher) acceptResult(accepted bool, acceptor model.NodeInfo, sess *Session) (*wire.AcceptResult, error) {
	wi, err := wire.ToWireNodeInfo(acceptor)
	if err != nil {
		return nil, err
	}
	return &wire.AcceptResult{Accepted: accepted, AcceptorInfo: wi, RemoteIP: remoteIPBytes(sess.RemoteAddress())}, nil
}

func (d *NodeDispatcher) Dispatch(req *wire.Request, sess *Session) (*wire.Response, error) {
	switch {
	case req.GetNodeInfo != nil:
		wi, err := wire.ToWireNodeInfo(d.Handler.Self())
		if err != nil {
			return nil, err
		}
		return &wire.Response{GetNodeInfo: &wire.NodeInfoResult{Info: wi}}, nil

	case req.GetNodeCount != nil:
		return &wire.Response{GetNodeCount: &wire.CountResult{Count: int32(d.Handler.GetNodeCount())}}, nil

	case req.GetRandomNodesRN != nil:
		entries := d.Handler.GetRandomNodes(int(req.GetRandomNodesRN.MaxCount), filterFor(req.GetRandomNodesRN.IncludeNeighbours))
		nodes, err := entriesToSummaries(entries)
		if err != nil {
			return nil, err
		}
		return &wire.Response{GetRandomNodesRN: &wire.NodeListResult{Nodes: nodes}}, nil

	case req.GetClosestNodesByDistance != nil:
		loc, err := wire.FromWireLocation(req.GetClosestNodesByDistance.Location)
		if err != nil {
			return nil, err
		}
		entries := d.Handler.GetClosestNodesByDistance(loc, req.GetClosestNodesByDistance.MaxRadiusKm,
			int(req.GetClosestNodesByDistance.MaxCount), filterFor(req.GetClosestNodesByDistance.IncludeNeighbours))
		nodes, err := entriesToSummaries(entries)
		if err != nil {
			return nil, err
		}
		return &wire.Response{GetClosestNodesByDistance: &wire.NodeListResult{Nodes: nodes}}, nil

	case req.AcceptColleague != nil:
		requestor, err := wire.FromWireNodeInfo(req.AcceptColleague.Requestor)
		if err != nil {
			return nil, err
		}
		requestor = rewriteRequestorAddress(requestor, sess.RemoteAddress())
		accepted, acceptor := d.Handler.AcceptColleague(requestor)
		ar, err := d.acceptResult(accepted, acceptor, sess)
		if err != nil {
			return nil, err
		}
		return &wire.Response{AcceptColleague: ar}, nil

	case req.RenewColleague != nil:
		requestor, err := wire.FromWireNodeInfo(req.RenewColleague.Requestor)
		if err != nil {
			return nil, err
		}
		requestor = rewriteRequestorAddress(requestor, sess.RemoteAddress())
		accepted, acceptor := d.Handler.RenewColleague(requestor)
		ar, err := d.acceptResult(accepted, acceptor, sess)
		if err != nil {
			return nil, err
		}
		return &wire.Response{RenewColleague: ar}, nil

	case req.AcceptNeighbour != nil:
		requestor, err := wire.FromWireNodeInfo(req.AcceptNeighbour.Requestor)
		if err != nil {
			return nil, err
		}
		requestor = rewriteRequestorAddress(requestor, sess.RemoteAddress())
		accepted, acceptor := d.Handler.AcceptNeighbour(requestor)
		ar, err := d.acceptResult(accepted, acceptor, sess)
		if err != nil {
			return nil, err
		}
		return &wire.Response{AcceptNeighbour: ar}, nil

	case req.RenewNeighbour != nil:
		requestor, err := wire.FromWireNodeInfo(req.RenewNeighbour.Requestor)
		if err != nil {
			return nil, err
		}
		requestor = rewriteRequestorAddress(requestor, sess.RemoteAddress())
		accepted, acceptor := d.Handler.RenewNeighbour(requestor)
		ar, err := d.acceptResult(accepted, acceptor, sess)
		if err != nil {
			return nil, err
		}
		return &wire.Response{RenewNeighbour: ar}, nil

	default:
		return nil, xerrors.Protocol.New("unrecognized node-to-node request: %s", req.Variant())
	}
}

// --- client dispatcher ---

// ClientDispatcher answers the read-only client interface.
type ClientDispatcher struct {
	Handler ClientHandler
}

func (d *ClientDispatcher) Dispatch(req *wire.Request, sess *Session) (*wire.Response, error) {
	switch {
	case req.GetServices != nil:
		services := d.Handler.GetServices()
		wireServices := make(map[int32]wire.WireServiceProfile, len(services))
		for t, p := range services {
			wp, err := wire.ToWireServiceProfile(p)
			if err != nil {
				return nil, err
			}
			wireServices[int32(t)] = wp
		}
		return &wire.Response{GetServices: &wire.ServicesResult{Services: wireServices}}, nil

	case req.GetNeighbourNodesC != nil:
		nodes, err := entriesToSummaries(d.Handler.GetNeighbourNodesByDistance())
		if err != nil {
			return nil, err
		}
		return &wire.Response{GetNeighbourNodesC: &wire.NodeListResult{Nodes: nodes}}, nil

	case req.GetClosestNodesByDistanceC != nil:
		loc, err := wire.FromWireLocation(req.GetClosestNodesByDistanceC.Location)
		if err != nil {
			return nil, err
		}
		entries := d.Handler.GetClosestNodesByDistance(loc, req.GetClosestNodesByDistanceC.MaxRadiusKm,
			int(req.GetClosestNodesByDistanceC.MaxCount), filterFor(req.GetClosestNodesByDistanceC.IncludeNeighbours))
		nodes, err := entriesToSummaries(entries)
		if err != nil {
			return nil, err
		}
		return &wire.Response{GetClosestNodesByDistanceC: &wire.NodeListResult{Nodes: nodes}}, nil

	default:
		return nil, xerrors.Protocol.New("unrecognized client request: %s", req.Variant())
	}
}
